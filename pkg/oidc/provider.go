// Package oidc implements the relying-party side of the login flow:
// provider discovery, authorization URL construction with PKCE, code
// exchange, and ID-token verification for Google and Apple.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cryptoutil"
)

// httpTimeout bounds every outbound provider call (token endpoint, JWKS).
const httpTimeout = 10 * time.Second

// ErrEmailNotVerified is returned when the provider did not assert the
// email as verified. Unverified emails could hijack another account via
// the email-collision check.
var ErrEmailNotVerified = errors.New("email address is not verified by the provider")

// Claims is the verified identity extracted from an ID token.
type Claims struct {
	Subject string
	Email   string
	Name    string
}

// Provider is one configured upstream identity provider.
type Provider interface {
	// Name is the path segment and state-record tag: "google" or "apple".
	Name() string
	// AuthURL builds the authorization redirect for a login attempt.
	AuthURL(state, codeChallenge string) string
	// Exchange redeems the authorization code and returns the verified
	// ID-token claims. Requires email_verified.
	Exchange(ctx context.Context, code, codeVerifier string) (Claims, error)
}

// secretFunc supplies the client secret at exchange time. Google's is
// static; Apple's is an ES256 JWT signed fresh per exchange.
type secretFunc func() (string, error)

// relyingParty is the shared provider implementation; google.go and
// apple.go configure it.
type relyingParty struct {
	name        string
	clientID    string
	secret      secretFunc
	redirectURL string
	scopes      []string
	authParams  []oauth2.AuthCodeOption

	endpoint oauth2.Endpoint
	verifier *gooidc.IDTokenVerifier
	client   *http.Client
}

// newRelyingParty discovers the issuer and prepares the verifier.
func newRelyingParty(
	ctx context.Context,
	name, issuer, clientID string,
	secret secretFunc,
	redirectURL string,
	scopes []string,
	authParams []oauth2.AuthCodeOption,
) (*relyingParty, error) {
	client := &http.Client{Timeout: httpTimeout}

	discovered, err := gooidc.NewProvider(gooidc.ClientContext(ctx, client), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints for %s: %w", name, err)
	}

	return &relyingParty{
		name:        name,
		clientID:    clientID,
		secret:      secret,
		redirectURL: redirectURL,
		scopes:      scopes,
		authParams:  authParams,
		endpoint:    discovered.Endpoint(),
		verifier:    discovered.Verifier(&gooidc.Config{ClientID: clientID}),
		client:      client,
	}, nil
}

func (p *relyingParty) Name() string { return p.name }

// AuthURL builds the provider authorization URL with the S256 challenge.
func (p *relyingParty) AuthURL(state, codeChallenge string) string {
	cfg := oauth2.Config{
		ClientID:    p.clientID,
		Endpoint:    p.endpoint,
		RedirectURL: p.redirectURL,
		Scopes:      p.scopes,
	}

	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", cryptoutil.PKCEChallengeMethodS256),
	}
	params = append(params, p.authParams...)

	return cfg.AuthCodeURL(state, params...)
}

// idTokenClaims is the raw claim set pulled from the verified token.
// Apple encodes email_verified as the string "true"; flexBool accepts
// both encodings.
type idTokenClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
}

// Exchange redeems the code with the PKCE verifier, checks the ID token
// against the provider JWKS, and extracts the identity.
func (p *relyingParty) Exchange(ctx context.Context, code, codeVerifier string) (Claims, error) {
	clientSecret, err := p.secret()
	if err != nil {
		return Claims{}, fmt.Errorf("building client secret for %s: %w", p.name, err)
	}

	cfg := oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: clientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  p.redirectURL,
		Scopes:       p.scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return Claims{}, fmt.Errorf("token exchange with %s failed: %w", p.name, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Claims{}, fmt.Errorf("%s token response is missing id_token", p.name)
	}

	// Verifies signature against JWKS plus iss, aud = client_id, exp.
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Claims{}, fmt.Errorf("id_token verification for %s failed: %w", p.name, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("parsing id_token claims: %w", err)
	}
	if claims.Email == "" {
		return Claims{}, fmt.Errorf("%s id_token is missing the email claim", p.name)
	}
	if !bool(claims.EmailVerified) {
		return Claims{}, ErrEmailNotVerified
	}

	return Claims{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// flexBool unmarshals JSON booleans and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(t == "true")
	default:
		*b = false
	}
	return nil
}
