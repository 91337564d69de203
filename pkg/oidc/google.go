package oidc

import (
	"context"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// GoogleIssuer is Google's OIDC issuer URL.
const GoogleIssuer = "https://accounts.google.com"

// NewGoogleProvider configures the Google relying party. Google still
// expects the static client secret at the token endpoint even with PKCE.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string) (Provider, error) {
	return newRelyingParty(ctx,
		"google",
		GoogleIssuer,
		clientID,
		func() (string, error) { return clientSecret, nil },
		redirectURL,
		[]string{gooidc.ScopeOpenID, "email", "profile"},
		nil,
	)
}
