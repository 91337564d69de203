package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *TokenService {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTokenService(testSecret, kv.NewSessionStore(kv.NewClientWithRedis(rdb)))
}

func TestMintAndVerify(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := t.Context()

	issued, err := svc.Mint(ctx, "u1", "u1@example.com", "d1")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.NotEmpty(t, issued.JTI)
	assert.Greater(t, issued.ExpiresAt, issued.IssuedAt)

	identity, err := svc.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "u1@example.com", identity.Email)
	assert.Equal(t, "d1", identity.DeviceID)
	assert.Equal(t, issued.JTI, identity.JTI)

	// The session record exists with the token's metadata.
	record, err := svc.Sessions().Get(ctx, "u1", issued.JTI)
	require.NoError(t, err)
	assert.Equal(t, "d1", record.DeviceID)
	assert.Equal(t, issued.ExpiresAt, record.ExpiresAt)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := t.Context()

	_, err := svc.Verify(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Right shape, wrong key.
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ID:        "j1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := other.SignedString([]byte("wrong-secret-wrong-secret-wrong!"))
	require.NoError(t, err)
	_, err = svc.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	claims := Claims{
		Email:    "u1@example.com",
		DeviceID: "d1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ID:        "j1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(t.Context(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsRevoked(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := t.Context()

	issued, err := svc.Mint(ctx, "u1", "u1@example.com", "d1")
	require.NoError(t, err)

	identity, err := svc.Verify(ctx, issued.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, identity))

	_, err = svc.Verify(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := t.Context()

	issued, err := svc.Mint(ctx, "u1", "u1@example.com", "d1")
	require.NoError(t, err)

	var seen *Identity
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+issued.Token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.UserID)
		assert.Equal(t, "d1", seen.DeviceID)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Authorization")
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+strings.Repeat("x", 40))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
