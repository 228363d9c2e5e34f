// Package interceptors holds the gRPC server interceptors.
package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	identityhandler "helpdesk-auth/backend/internal/identity/handler"
	sessiondomain "helpdesk-auth/backend/internal/session/domain"
	sessionservice "helpdesk-auth/backend/internal/session/service"
)

const (
	bearerPrefix  = "bearer "
	sessionMDKey  = "x-session-token"
	unauthMessage = "unauthorized"
)

// IdentityResolver resolves request credentials to an identity.
type IdentityResolver interface {
	GetCurrentIdentity(ctx context.Context, creds sessionservice.Credentials) (*sessiondomain.Identity, bool)
}

// AuthUnary returns a unary server interceptor that resolves the bearer proof or session
// token from gRPC metadata and stores the identity in context for protected RPCs.
// publicMethods is the set of full method names that do not require credentials
// (e.g. the health check).
func AuthUnary(resolver IdentityResolver, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		creds := credentials(ctx)
		if creds.Empty() {
			return nil, status.Error(codes.Unauthenticated, unauthMessage)
		}
		id, ok := resolver.GetCurrentIdentity(ctx, creds)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, unauthMessage)
		}
		return handler(identityhandler.WithIdentity(ctx, id), req)
	}
}

func credentials(ctx context.Context) sessionservice.Credentials {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return sessionservice.Credentials{}
	}
	return sessionservice.Credentials{
		Bearer: extractBearer(first(md, "authorization")),
		Token:  strings.TrimSpace(first(md, sessionMDKey)),
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// extractBearer returns the token of a "Bearer <token>" value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
