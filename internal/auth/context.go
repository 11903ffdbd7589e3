package auth

import "context"

type ownerContextKey struct{}

// ContextWithOwner attaches the authenticated owner id to the context.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext extracts the authenticated owner id.
func OwnerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(ownerContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
