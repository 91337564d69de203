// Package cryptoutil holds the crypto primitives shared by the auth and
// sync subsystems: CSPRNG identifier generation, PKCE helpers, IP hashing
// for logs, and the Apple client-secret signer.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	idBytes       = 16
	stateBytes    = 16 // 32 hex characters
	verifierBytes = 32 // 64 hex characters
)

// randomBytes reads n bytes from the platform CSPRNG. crypto/rand.Read is
// documented to never fail on supported platforms; a failure here means the
// process cannot do anything secure, so it panics.
func randomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return buf
}

// NewID generates an opaque identifier: 16 random bytes, base64url without
// padding. Used for user IDs, device IDs, and token jti values.
func NewID() string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(idBytes))
}

// NewState generates an OAuth state token: 32 hex characters.
func NewState() string {
	return hex.EncodeToString(randomBytes(stateBytes))
}

// NewPKCEVerifier generates a PKCE code_verifier: 64 hex characters, which
// satisfies the RFC 7636 length and character-set requirements.
func NewPKCEVerifier() string {
	return hex.EncodeToString(randomBytes(verifierBytes))
}

// HashIP returns the first 8 hex characters of SHA-256 over the address.
// Log lines carry only this hash, never the raw client IP.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:8]
}
