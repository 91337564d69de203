package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cryptoutil"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/oidc"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// ErrUnknownProvider is returned by Start for a provider path segment
// that is not configured.
var ErrUnknownProvider = errors.New("unknown or unconfigured provider")

// ErrResultGone is returned by Result when the mailbox entry is absent:
// never written, expired, or already consumed.
var ErrResultGone = errors.New("oauth result expired or already retrieved")

// accountInactiveError and providerConflictError carry the user-facing
// messages the result mailbox shows. They never leak internals.
type accountInactiveError struct{}

func (accountInactiveError) Error() string {
	return "This account is suspended or deleted. Contact support if you believe this is a mistake."
}

type providerConflictError struct{ provider string }

func (e providerConflictError) Error() string {
	name := providerTitle(e.provider)
	return fmt.Sprintf("This email is already registered with %s. Sign in with %s to access your account.", name, name)
}

func providerTitle(provider string) string {
	switch provider {
	case storage.ProviderGoogle:
		return "Google"
	case storage.ProviderApple:
		return "Apple"
	default:
		return provider
	}
}

// AuthData is the payload delivered to the client through the result
// mailbox. It is the only place the session token crosses to the app.
type AuthData struct {
	UserID                  string `json:"userId"`
	DeviceID                string `json:"deviceId"`
	Email                   string `json:"email"`
	Token                   string `json:"token"`
	ExpiresAt               int64  `json:"expiresAt"`
	RequiresEncryptionSetup bool   `json:"requiresEncryptionSetup"`
	EncryptionSalt          string `json:"encryptionSalt,omitempty"`
	Provider                string `json:"provider"`
}

// StartResult is the response of the initiate endpoint.
type StartResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// Flow orchestrates the OAuth login: initiate, provider callback, and
// result retrieval. The callback never answers the browser with JSON; it
// always 302s back to the app and parks the outcome in the mailbox.
type Flow struct {
	providers map[string]oidc.Provider
	oauth     *kv.OAuthStore
	tokens    *TokenService
	store     storage.Store
	cfg       *config.Config

	now func() time.Time
}

// NewFlow wires the login flow.
func NewFlow(
	providers map[string]oidc.Provider,
	oauth *kv.OAuthStore,
	tokens *TokenService,
	store storage.Store,
	cfg *config.Config,
) *Flow {
	return &Flow{
		providers: providers,
		oauth:     oauth,
		tokens:    tokens,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start generates the state and PKCE verifier for a login attempt,
// parks them in KV, and returns the provider authorization URL.
// appOrigin is the requesting page's Origin header; the callback
// redirects there when the flow completes.
func (f *Flow) Start(ctx context.Context, providerName, appOrigin string) (StartResult, error) {
	provider, ok := f.providers[providerName]
	if !ok {
		return StartResult{}, ErrUnknownProvider
	}

	state := cryptoutil.NewState()
	verifier := cryptoutil.NewPKCEVerifier()

	record := kv.StateRecord{
		CodeVerifier: verifier,
		Provider:     providerName,
		RedirectURI:  f.cfg.CallbackURL(),
		AppOrigin:    f.appOrigin(appOrigin),
		CreatedAt:    f.now().UnixMilli(),
	}
	if err := f.oauth.PutState(ctx, state, record, config.OAuthStateTTL); err != nil {
		return StartResult{}, fmt.Errorf("storing oauth state: %w", err)
	}

	return StartResult{
		AuthURL: provider.AuthURL(state, cryptoutil.ComputePKCEChallenge(verifier)),
		State:   state,
	}, nil
}

// Callback completes the login and returns the URL the browser must be
// redirected to. Every outcome, success or failure, ends in a redirect
// to the app's callback page; failures after the state check also leave
// an error envelope in the mailbox so the app can show the reason.
func (f *Flow) Callback(ctx context.Context, code, state string) string {
	record, err := f.oauth.ConsumeState(ctx, state)
	if err != nil {
		// Unknown or expired state: nothing to park, nowhere better to
		// send the browser than the default app origin.
		if !errors.Is(err, kv.ErrNotFound) {
			logger.Errorw("loading oauth state failed", "error", err)
		}
		return redirectURL(f.appOrigin(""), url.Values{
			"success": {"false"},
			"error":   {"session_expired"},
		})
	}

	authData, err := f.completeLogin(ctx, record, code)
	if err != nil {
		logger.Warnw("oauth login failed", "provider", record.Provider, "error", err)
		f.putResult(ctx, state, kv.ResultEnvelope{
			Status:    kv.ResultError,
			Error:     userFacingError(err),
			AppOrigin: record.AppOrigin,
			CreatedAt: f.now().UnixMilli(),
		})
		return redirectURL(record.AppOrigin, url.Values{
			"success": {"false"},
			"error":   {errorCode(err)},
			"state":   {state},
		})
	}

	data, err := json.Marshal(authData)
	if err != nil {
		logger.Errorw("marshaling auth data failed", "error", err)
		return redirectURL(record.AppOrigin, url.Values{
			"success": {"false"},
			"error":   {"internal_error"},
			"state":   {state},
		})
	}
	f.putResult(ctx, state, kv.ResultEnvelope{
		Status:    kv.ResultSuccess,
		AuthData:  data,
		AppOrigin: record.AppOrigin,
		CreatedAt: f.now().UnixMilli(),
	})

	return redirectURL(record.AppOrigin, url.Values{
		"success": {"true"},
		"state":   {state},
	})
}

// Result consumes the mailbox entry for a state exactly once.
func (f *Flow) Result(ctx context.Context, state string) (kv.ResultEnvelope, error) {
	envelope, err := f.oauth.ConsumeResult(ctx, state)
	if errors.Is(err, kv.ErrNotFound) {
		return kv.ResultEnvelope{}, ErrResultGone
	}
	return envelope, err
}

// completeLogin runs steps 3-8 of the callback: code exchange, identity
// reconciliation, device creation, and token mint.
func (f *Flow) completeLogin(ctx context.Context, record kv.StateRecord, code string) (AuthData, error) {
	provider, ok := f.providers[record.Provider]
	if !ok {
		return AuthData{}, ErrUnknownProvider
	}

	claims, err := provider.Exchange(ctx, code, record.CodeVerifier)
	if err != nil {
		return AuthData{}, err
	}

	user, err := f.reconcileUser(ctx, record.Provider, claims)
	if err != nil {
		return AuthData{}, err
	}

	device := storage.Device{
		ID:         cryptoutil.NewID(),
		UserID:     user.ID,
		Name:       providerTitle(record.Provider) + " Device",
		LastSeenAt: f.now().UnixMilli(),
		IsActive:   true,
	}
	if err := f.store.Devices().Create(ctx, device); err != nil {
		return AuthData{}, fmt.Errorf("creating device: %w", err)
	}

	token, err := f.tokens.Mint(ctx, user.ID, user.Email, device.ID)
	if err != nil {
		return AuthData{}, err
	}

	return AuthData{
		UserID:                  user.ID,
		DeviceID:                device.ID,
		Email:                   user.Email,
		Token:                   token.Token,
		ExpiresAt:               token.ExpiresAt,
		RequiresEncryptionSetup: user.EncryptionSalt == "",
		EncryptionSalt:          user.EncryptionSalt,
		Provider:                record.Provider,
	}, nil
}

// reconcileUser maps the verified provider identity to a user row,
// creating one when needed. A concurrent first login from two windows
// races on the insert; the loser re-checks and reports whichever
// provider won.
func (f *Flow) reconcileUser(ctx context.Context, provider string, claims oidc.Claims) (storage.User, error) {
	now := f.now().UnixMilli()

	user, err := f.store.Users().GetByProviderSubject(ctx, provider, claims.Subject)
	switch {
	case err == nil:
		if user.AccountStatus != storage.StatusActive {
			return storage.User{}, accountInactiveError{}
		}
		if err := f.store.Users().TouchLogin(ctx, user.ID, now); err != nil {
			logger.Warnw("touching last login failed", "user_id", user.ID, "error", err)
		}
		return user, nil
	case !errors.Is(err, storage.ErrNotFound):
		return storage.User{}, err
	}

	if err := f.checkEmailCollision(ctx, provider, claims.Email); err != nil {
		return storage.User{}, err
	}

	user = storage.User{
		ID:             cryptoutil.NewID(),
		Email:          claims.Email,
		AuthProvider:   provider,
		ProviderUserID: claims.Subject,
		AccountStatus:  storage.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastLoginAt:    now,
	}
	err = f.store.Users().Create(ctx, user)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Lost an insert race. The winner may be this same identity in
		// another window, or another provider claiming the email.
		if winner, lookupErr := f.store.Users().GetByProviderSubject(ctx, provider, claims.Subject); lookupErr == nil {
			return winner, nil
		}
		if collisionErr := f.checkEmailCollision(ctx, provider, claims.Email); collisionErr != nil {
			return storage.User{}, collisionErr
		}
		return storage.User{}, err
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

func (f *Flow) checkEmailCollision(ctx context.Context, provider, email string) error {
	existing, err := f.store.Users().GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.AuthProvider != provider {
			return providerConflictError{provider: existing.AuthProvider}
		}
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (f *Flow) putResult(ctx context.Context, state string, envelope kv.ResultEnvelope) {
	if err := f.oauth.PutResult(ctx, state, envelope, config.OAuthResultTTL); err != nil {
		// The mailbox write is the commit point: the client will see 410
		// and restart the flow.
		logger.Errorw("writing oauth result failed", "error", err)
	}
}

// appOrigin picks the origin the callback redirects to: the requesting
// page's Origin when present, else the configured app URL.
func (f *Flow) appOrigin(origin string) string {
	if origin != "" {
		return strings.TrimRight(origin, "/")
	}
	return strings.TrimRight(f.cfg.RedirectURI, "/")
}

func redirectURL(origin string, params url.Values) string {
	return origin + "/oauth-callback.html?" + params.Encode()
}

// userFacingError keeps provider and database details out of the
// mailbox; only errors written for the user pass through verbatim.
func userFacingError(err error) string {
	var inactive accountInactiveError
	var conflict providerConflictError
	switch {
	case errors.As(err, &inactive), errors.As(err, &conflict):
		return err.Error()
	case errors.Is(err, oidc.ErrEmailNotVerified):
		return "Your email address is not verified with the provider. Verify it and try again."
	default:
		return "Sign-in failed. Please try again."
	}
}

// errorCode is the short machine-readable tag carried on the redirect.
func errorCode(err error) string {
	var conflict providerConflictError
	switch {
	case errors.As(err, &conflict):
		return "email_conflict"
	case errors.Is(err, oidc.ErrEmailNotVerified):
		return "email_not_verified"
	default:
		return "auth_failed"
	}
}
