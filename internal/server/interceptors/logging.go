package interceptors

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC's method, status code
// and duration. skipMethods is the set of full method names not to log (e.g. the health check).
func LoggingUnary(log logrus.FieldLogger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		switch code {
		case codes.OK, codes.Unauthenticated, codes.NotFound, codes.InvalidArgument:
			entry.Info("rpc")
		default:
			entry.WithError(err).Warn("rpc")
		}
		return resp, err
	}
}
