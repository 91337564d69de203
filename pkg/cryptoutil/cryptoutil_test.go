package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"regexp"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

func TestNewID(t *testing.T) {
	t.Parallel()

	id := NewID()
	// 16 bytes -> 22 base64url characters, no padding.
	assert.Len(t, id, 22)
	assert.NotContains(t, id, "=")

	decoded, err := base64.RawURLEncoding.DecodeString(id)
	require.NoError(t, err)
	assert.Len(t, decoded, 16)

	assert.NotEqual(t, id, NewID(), "ids must not repeat")
}

func TestNewState(t *testing.T) {
	t.Parallel()

	state := NewState()
	assert.Len(t, state, 32)
	assert.Regexp(t, hexRe, state)
	assert.NotEqual(t, state, NewState())
}

func TestNewPKCEVerifier(t *testing.T) {
	t.Parallel()

	verifier := NewPKCEVerifier()
	assert.Len(t, verifier, 64)
	assert.Regexp(t, hexRe, verifier)
}

func TestComputePKCEChallenge(t *testing.T) {
	t.Parallel()

	verifier := NewPKCEVerifier()
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, ComputePKCEChallenge(verifier))
}

func TestHashIP(t *testing.T) {
	t.Parallel()

	h := HashIP("203.0.113.9")
	assert.Len(t, h, 8)
	assert.Regexp(t, hexRe, h)
	assert.Equal(t, h, HashIP("203.0.113.9"), "hash must be stable")
	assert.NotEqual(t, h, HashIP("203.0.113.10"))
	assert.Empty(t, HashIP(""))
}

func testAppleKeyPEM(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return string(pemBytes), key
}

func TestAppleSecretSigner(t *testing.T) {
	t.Parallel()

	pemStr, key := testAppleKeyPEM(t)

	signer, err := NewAppleSecretSigner("TEAM123", "com.example.app", "KEY456", pemStr)
	require.NoError(t, err)

	now := time.Now()
	secret, err := signer.ClientSecret(now)
	require.NoError(t, err)

	parsed, err := jwt.Parse(secret, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "KEY456", parsed.Header["kid"])

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "TEAM123", claims["iss"])
	assert.Equal(t, "com.example.app", claims["sub"])

	aud, err := claims.GetAudience()
	require.NoError(t, err)
	assert.Contains(t, aud, "https://appleid.apple.com")

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), exp.Time, 2*time.Second)
}

func TestNewAppleSecretSignerRejectsBadInput(t *testing.T) {
	t.Parallel()

	pemStr, _ := testAppleKeyPEM(t)

	_, err := NewAppleSecretSigner("", "client", "key", pemStr)
	assert.Error(t, err)

	_, err = NewAppleSecretSigner("team", "client", "key", "not a pem")
	assert.Error(t, err)
}
