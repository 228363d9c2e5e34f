package handler

import (
	"context"

	sessiondomain "helpdesk-auth/backend/internal/session/domain"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the resolved identity for the request.
func WithIdentity(ctx context.Context, id *sessiondomain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity set by RequireIdentity.
func IdentityFromContext(ctx context.Context) (*sessiondomain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*sessiondomain.Identity)
	return id, ok && id != nil
}

// UserIDFromContext returns the user id set by RequireIdentity; otherwise "", false.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.UserID, true
}

// SessionIDFromContext returns the session id set by RequireIdentity; otherwise "", false.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.SessionID, true
}
