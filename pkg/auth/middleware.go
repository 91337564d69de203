package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

// touchTimeout bounds the best-effort session touch so a slow Redis
// never holds a goroutine for long.
const touchTimeout = 2 * time.Second

// Middleware requires a valid Bearer token, attaches the Identity to the
// request context, and schedules a best-effort session-activity touch.
// Unauthenticated requests get a JSON 401.
func Middleware(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			identity, err := tokens.Verify(r.Context(), token)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			// The touch must never block or fail the request.
			go func(identity Identity) {
				ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
				defer cancel()
				if err := tokens.Sessions().Touch(ctx, identity.UserID, identity.JTI, time.Now().UnixMilli()); err != nil {
					logger.Warnf("Failed to touch session activity for user %s: %v", identity.UserID, err)
				}
			}(*identity)

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
