package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the resolved principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the resolved principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok && p != nil
}

// UserIDFromContext returns the owning user of the principal in ctx.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.UserID(), true
}
