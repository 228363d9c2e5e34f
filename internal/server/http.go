package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	healthhandler "helpdesk-auth/backend/internal/health/handler"
	identityhandler "helpdesk-auth/backend/internal/identity/handler"
)

// HTTPDeps holds the HTTP API dependencies.
type HTTPDeps struct {
	Auth           *identityhandler.Handler
	Health         *healthhandler.Server
	Gatherer       prometheus.Gatherer
	Logger         logrus.FieldLogger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewHTTPHandler returns the routed, instrumented HTTP API:
//
//   - /auth/*   → internal/identity/handler
//   - /healthz  liveness
//   - /readyz   readiness (database, redis)
//   - /metrics  prometheus
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}).Methods(http.MethodGet)
	if deps.Health != nil {
		r.Handle("/readyz", deps.Health).Methods(http.MethodGet)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if deps.Auth != nil {
		deps.Auth.Register(r)
	}
	r.Use(accessLog(log.WithField("component", "http")))

	var opts []otelhttp.Option
	if deps.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(deps.TracerProvider))
	}
	if deps.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(deps.MeterProvider))
	}
	return otelhttp.NewHandler(r, "helpdesk-auth", opts...)
}

// NewHTTPServer wraps h with the listener timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLog logs method, route, status and duration. Probe and metrics routes log at debug.
func accessLog(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			route := r.URL.Path
			if m := mux.CurrentRoute(r); m != nil {
				if tpl, err := m.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			entry := log.WithFields(logrus.Fields{
				"method":      r.Method,
				"route":       route,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			switch route {
			case "/healthz", "/readyz", "/metrics":
				entry.Debug("request")
			default:
				entry.Info("request")
			}
		})
	}
}
