// Package auth mints and verifies HS256 session tokens and provides the
// middleware that turns a Bearer token into a request identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cryptoutil"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
)

// Verification errors. Handlers map all of these to 401.
var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrRevoked      = errors.New("token has been revoked")
)

// Claims is the session token payload: standard claims plus the device
// binding.
type Claims struct {
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies session tokens backed by KV session
// records.
type TokenService struct {
	secret   []byte
	sessions *kv.SessionStore
}

// NewTokenService creates a TokenService signing with secret.
func NewTokenService(secret string, sessions *kv.SessionStore) *TokenService {
	return &TokenService{secret: []byte(secret), sessions: sessions}
}

// IssuedToken is a freshly minted session token with its bookkeeping.
type IssuedToken struct {
	Token     string
	JTI       string
	IssuedAt  int64
	ExpiresAt int64
}

// Mint signs a 7-day session token for (user, device) and persists the
// matching session record.
func (s *TokenService) Mint(ctx context.Context, userID, email, deviceID string) (IssuedToken, error) {
	now := time.Now()
	expiresAt := now.Add(config.SessionTokenTTL)
	jti := cryptoutil.NewID()

	claims := Claims{
		Email:    email,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("signing session token: %w", err)
	}

	record := kv.SessionRecord{
		DeviceID:     deviceID,
		IssuedAt:     now.UnixMilli(),
		ExpiresAt:    expiresAt.UnixMilli(),
		LastActivity: now.UnixMilli(),
	}
	if err := s.sessions.Put(ctx, userID, jti, record, config.SessionTokenTTL); err != nil {
		return IssuedToken{}, fmt.Errorf("persisting session record: %w", err)
	}

	return IssuedToken{
		Token:     signed,
		JTI:       jti,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	}, nil
}

// Verify checks signature and standard claims, then the revocation
// marker, and returns the identity the token carries.
func (s *TokenService) Verify(ctx context.Context, token string) (*Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.Subject, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("checking revocation marker: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	return &Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		DeviceID: claims.DeviceID,
		JTI:      claims.ID,
	}, nil
}

// Revoke writes the revocation marker for the identity's token and drops
// its session record.
func (s *TokenService) Revoke(ctx context.Context, identity *Identity) error {
	return s.sessions.Revoke(ctx, identity.UserID, identity.JTI, config.SessionTokenTTL)
}

// Sessions exposes the session store for device revocation, which needs
// to enumerate a user's sessions.
func (s *TokenService) Sessions() *kv.SessionStore { return s.sessions }
