// ABOUTME: Context propagation for the authenticated principal
// ABOUTME: Provides WithPrincipal/FromContext for request handlers

package auth

import "context"

// principalContextKey is the key type for storing a Principal in a
// context.Context.
type principalContextKey struct{}

// WithPrincipal returns a new context with the principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext retrieves the principal from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok {
		return nil
	}
	return p
}
