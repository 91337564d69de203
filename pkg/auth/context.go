package auth

import "context"

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID   string
	Email    string
	DeviceID string
	JTI      string
}

// identityContextKey keys the Identity in the request context. An empty
// struct type cannot collide with keys from other packages.
type identityContextKey struct{}

// WithIdentity stores an Identity in the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the Identity from the context. Returns
// nil and false when the request is unauthenticated.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}
