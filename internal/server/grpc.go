// Package server assembles the HTTP API and the gRPC server.
package server

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "helpdesk-auth/backend/internal/health/handler"
	"helpdesk-auth/backend/internal/server/interceptors"
)

// healthCheckMethods are callable without credentials and not logged.
var healthCheckMethods = map[string]bool{
	grpc_health_v1.Health_Check_FullMethodName: true,
}

// GRPCDeps holds the gRPC server dependencies. Nil providers fall back to the globals.
type GRPCDeps struct {
	Health         *healthhandler.Server
	Resolver       interceptors.IdentityResolver
	Logger         logrus.FieldLogger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewGRPCServer returns a gRPC server with tracing, request logging and authentication
// wired in, and the health service registered.
func NewGRPCServer(deps GRPCDeps) *grpc.Server {
	var otelOpts []otelgrpc.Option
	if deps.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgrpc.WithTracerProvider(deps.TracerProvider))
	}
	if deps.MeterProvider != nil {
		otelOpts = append(otelOpts, otelgrpc.WithMeterProvider(deps.MeterProvider))
	}
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	unary := []grpc.UnaryServerInterceptor{interceptors.LoggingUnary(log.WithField("component", "grpc"), healthCheckMethods)}
	if deps.Resolver != nil {
		unary = append(unary, interceptors.AuthUnary(deps.Resolver, healthCheckMethods))
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelOpts...)),
		grpc.ChainUnaryInterceptor(unary...),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with s.
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil)
	}
	grpc_health_v1.RegisterHealthServer(s, health)
}
