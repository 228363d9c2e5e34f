package handler

import (
	"context"
	"net/http"

	sessiondomain "helpdesk-auth/backend/internal/session/domain"
	sessionservice "helpdesk-auth/backend/internal/session/service"
)

// IdentityResolver resolves request credentials to an identity.
type IdentityResolver interface {
	GetCurrentIdentity(ctx context.Context, creds sessionservice.Credentials) (*sessiondomain.Identity, bool)
}

// RequireIdentity resolves the caller once per request and stores the identity in the
// request context. Unauthenticated requests get the generic 401.
func RequireIdentity(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := resolver.GetCurrentIdentity(r.Context(), CredentialsFromRequest(r))
			if !ok {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
