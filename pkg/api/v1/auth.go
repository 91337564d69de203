package v1

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/auth"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/httperr"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// authRoutes holds the login-flow and session handlers.
type authRoutes struct {
	flow   *auth.Flow
	tokens *auth.TokenService
	users  storage.UserStore
}

// startOAuth begins a login attempt: generates state and PKCE verifier,
// parks them in KV, and hands back the provider authorization URL.
func (a *authRoutes) startOAuth(w http.ResponseWriter, r *http.Request) error {
	provider := chi.URLParam(r, "provider")

	result, err := a.flow.Start(r.Context(), provider, r.Header.Get("Origin"))
	if errors.Is(err, auth.ErrUnknownProvider) {
		return httperr.WithCode(err, http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, result)
	return nil
}

// oauthCallback terminates the provider redirect. The browser always
// gets a 302 back to the app page, success or not; the outcome travels
// through the result mailbox, never the URL.
func (a *authRoutes) oauthCallback(w http.ResponseWriter, r *http.Request) {
	code, state := parseCallbackParams(r)
	redirect := a.flow.Callback(r.Context(), code, state)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// parseCallbackParams extracts (code, state) from the three encodings
// providers use: query string (Google GET), form post (Apple), and JSON.
func parseCallbackParams(r *http.Request) (code, state string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		return q.Get("code"), q.Get("state")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Code  string `json:"code"`
			State string `json:"state"`
		}
		if err := decodeJSON(nil, r, &body); err == nil {
			return body.Code, body.State
		}
		return "", ""
	}

	// Form-urlencoded; ParseForm also folds in the query string.
	_ = r.ParseForm()
	return r.Form.Get("code"), r.Form.Get("state")
}

// oauthResultResponse delivers the mailbox entry to the app window.
type oauthResultResponse struct {
	Status   string          `json:"status"`
	AuthData json.RawMessage `json:"authData,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// getOAuthResult consumes the single-use result mailbox. A second call
// for the same state, or an expired one, is always 410.
func (a *authRoutes) getOAuthResult(w http.ResponseWriter, r *http.Request) error {
	state := r.URL.Query().Get("state")
	if state == "" {
		return httperr.New(http.StatusBadRequest, "state parameter is required")
	}

	envelope, err := a.flow.Result(r.Context(), state)
	if errors.Is(err, auth.ErrResultGone) {
		writeJSON(w, http.StatusGone, map[string]string{"status": "expired"})
		return nil
	}
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, oauthResultResponse{
		Status:   envelope.Status,
		AuthData: envelope.AuthData,
		Error:    envelope.Error,
	})
	return nil
}

// logout revokes the current session token.
func (a *authRoutes) logout(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}
	if err := a.tokens.Revoke(r.Context(), identity); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
	return nil
}

// refreshResponse carries the replacement token.
type refreshResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// refresh mints a fresh 7-day token for the current session's user and
// device. The old token keeps its own expiry; revoking it here would
// break in-flight requests from the same client.
func (a *authRoutes) refresh(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	token, err := a.tokens.Mint(r.Context(), identity.UserID, identity.Email, identity.DeviceID)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	})
	return nil
}

// getEncryptionSalt returns the user's stored salt, null until uploaded.
func (a *authRoutes) getEncryptionSalt(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	user, err := a.users.GetByID(r.Context(), identity.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return httperr.New(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return err
	}

	var salt any
	if user.EncryptionSalt != "" {
		salt = user.EncryptionSalt
	}
	writeJSON(w, http.StatusOK, map[string]any{"encryptionSalt": salt})
	return nil
}

// setEncryptionSalt stores the client-generated salt.
func (a *authRoutes) setEncryptionSalt(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	var body struct {
		EncryptionSalt string `json:"encryptionSalt"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return err
	}
	if body.EncryptionSalt == "" {
		return httperr.New(http.StatusBadRequest, "encryptionSalt is required")
	}
	if len(body.EncryptionSalt) > config.MaxFieldBytes {
		return httperr.New(http.StatusBadRequest, "encryptionSalt exceeds %d bytes", config.MaxFieldBytes)
	}

	now := time.Now().UnixMilli()
	if err := a.users.SetEncryptionSalt(r.Context(), identity.UserID, body.EncryptionSalt, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return httperr.New(http.StatusNotFound, "user not found")
		}
		return err
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
	return nil
}
