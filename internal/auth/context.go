package auth

import "context"

type claimsContextKey struct{}

// ContextWithClaims attaches verified access-grant claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts verified claims from the context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// HasRole reports whether the context carries claims with the given role.
func HasRole(ctx context.Context, role Role) bool {
	claims, ok := ClaimsFromContext(ctx)
	return ok && claims.Role == string(role)
}
