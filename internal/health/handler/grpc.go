// Package handler reports service readiness over gRPC health checking and plain HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds a single readiness probe.
const checkTimeout = 2 * time.Second

// Pinger is a dependency that can report reachability (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server implements grpc_health_v1.HealthServer. A nil pinger is skipped.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer
	pingers map[string]Pinger
}

// NewServer returns a health server checking each named dependency.
func NewServer(pingers map[string]Pinger) *Server {
	return &Server{pingers: pingers}
}

// Ready pings every dependency and returns a failure description per unhealthy one.
func (s *Server) Ready(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	failed := make(map[string]string)
	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

// Check returns SERVING when every dependency answers.
func (s *Server) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if len(s.Ready(ctx)) > 0 {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

// ServeHTTP answers 200 when ready and 503 listing the failing dependencies otherwise.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	failed := s.Ready(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
