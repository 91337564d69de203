package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// appleAudience is the fixed audience Apple requires in client-secret JWTs.
const appleAudience = "https://appleid.apple.com"

// appleSecretLifetime is how long a freshly signed client secret stays
// valid. Apple allows up to six months; one hour keeps the blast radius of
// a leaked secret small since we sign a fresh one per token exchange.
const appleSecretLifetime = time.Hour

// AppleSecretSigner mints the ES256-signed JWT Apple requires in place of a
// static OAuth client secret.
type AppleSecretSigner struct {
	teamID   string
	clientID string
	keyID    string
	key      *ecdsa.PrivateKey
}

// NewAppleSecretSigner parses the PKCS#8 PEM private key from the Apple
// developer portal and returns a signer bound to the team/client/key IDs.
func NewAppleSecretSigner(teamID, clientID, keyID, privateKeyPEM string) (*AppleSecretSigner, error) {
	if teamID == "" || clientID == "" || keyID == "" {
		return nil, errors.New("apple team ID, client ID, and key ID are required")
	}

	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, errors.New("apple private key is not valid PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing apple private key: %w", err)
	}

	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("apple private key must be an EC P-256 key, got %T", parsed)
	}

	return &AppleSecretSigner{
		teamID:   teamID,
		clientID: clientID,
		keyID:    keyID,
		key:      ecKey,
	}, nil
}

// ClientSecret signs a fresh client-secret JWT:
// header {alg: ES256, kid: <keyID>}, payload {iss: <teamID>, iat, exp,
// aud: https://appleid.apple.com, sub: <clientID>}.
func (s *AppleSecretSigner) ClientSecret(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
		"exp": now.Add(appleSecretLifetime).Unix(),
		"aud": appleAudience,
		"sub": s.clientID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing apple client secret: %w", err)
	}
	return signed, nil
}
