package httpapi

import (
	"net/http"

	"github.com/zahash/mona/internal/auth"
)

// authenticate resolves the request principal and stores it in the
// context. Requests without a valid principal are rejected here.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.svc.Resolve(r.Context(), r.Header)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// ensurePermission returns the request principal if it holds perm and
// writes the error response otherwise.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrNoCredentials)
		return nil, false
	}
	if err := principal.RequirePermission(r.Context(), perm); err != nil {
		handleAuthError(w, r, err)
		return nil, false
	}
	return principal, true
}
