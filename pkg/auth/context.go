package auth

import (
	"context"
)

// IdentityContextKey is the context key under which the authenticated
// identity is stored. An empty struct avoids collisions with other packages.
type IdentityContextKey struct{}

// WithIdentity returns a new context carrying the identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity from the context. The second
// return value is false for anonymous requests.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
