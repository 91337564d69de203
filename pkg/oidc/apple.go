package oidc

import (
	"context"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cryptoutil"
)

// AppleIssuer is Apple's OIDC issuer URL.
const AppleIssuer = "https://appleid.apple.com"

// NewAppleProvider configures the Sign in with Apple relying party.
// Apple has no static client secret; each token exchange carries a fresh
// ES256 JWT signed with the developer key. Requesting the name scope
// forces response_mode=form_post, so the callback must accept form
// bodies.
func NewAppleProvider(
	ctx context.Context,
	clientID string,
	signer *cryptoutil.AppleSecretSigner,
	redirectURL string,
) (Provider, error) {
	return newRelyingParty(ctx,
		"apple",
		AppleIssuer,
		clientID,
		func() (string, error) { return signer.ClientSecret(time.Now()) },
		redirectURL,
		[]string{gooidc.ScopeOpenID, "email", "name"},
		[]oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "form_post")},
	)
}
