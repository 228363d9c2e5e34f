// Package telemetry records session validation latency and outcomes to Prometheus and
// OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "helpdesk-auth/session"

// Instrumentation is safe for concurrent use.
type Instrumentation struct {
	latency     *prometheus.HistogramVec
	outcomes    *prometheus.CounterVec
	otelLatency metric.Float64Histogram
	tracer      trace.Tracer
}

// NewInstrumentation registers collectors on reg and creates instruments from mp and tp.
func NewInstrumentation(reg prometheus.Registerer, mp metric.MeterProvider, tp trace.TracerProvider) (*Instrumentation, error) {
	factory := promauto.With(reg)
	latency := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_validation_duration_seconds",
		Help:    "Latency of session validation by tier and outcome",
		Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
	}, []string{"tier", "outcome"})
	outcomes := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "session_validations_total",
		Help: "Session validations by tier and outcome",
	}, []string{"tier", "outcome"})

	h, err := mp.Meter(scope).Float64Histogram(
		"session.validation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of session validation by tier and outcome"),
	)
	if err != nil {
		return nil, err
	}
	return &Instrumentation{
		latency:     latency,
		outcomes:    outcomes,
		otelLatency: h,
		tracer:      tp.Tracer(scope),
	}, nil
}

// Nop returns instrumentation that records into a private registry and no-op providers.
func Nop() *Instrumentation {
	i, _ := NewInstrumentation(prometheus.NewRegistry(), metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	return i
}

// ObserveValidation records one validation.
func (i *Instrumentation) ObserveValidation(ctx context.Context, tier, outcome string, d time.Duration) {
	i.latency.WithLabelValues(tier, outcome).Observe(d.Seconds())
	i.outcomes.WithLabelValues(tier, outcome).Inc()
	i.otelLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	))
}

// Time runs fn inside a span and records its latency under the tier and outcome fn reports.
func (i *Instrumentation) Time(ctx context.Context, name string, fn func(ctx context.Context) (tier, outcome string)) {
	ctx, span := i.tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	tier, outcome := fn(ctx)
	span.SetAttributes(attribute.String("tier", tier), attribute.String("outcome", outcome))
	i.ObserveValidation(ctx, tier, outcome, time.Since(start))
}

// CacheStats is the subset of cache statistics exported as gauges.
type CacheStats struct {
	Hits, Misses, Invalidations uint64
	Size                        int
}

// RegisterCacheGauges exports cache statistics read from stats at scrape time.
func RegisterCacheGauges(reg prometheus.Registerer, stats func() CacheStats) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "session_cache_entries",
		Help: "Entries currently held by the validation cache",
	}, func() float64 { return float64(stats().Size) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "session_cache_hits_total",
		Help: "Validation cache hits",
	}, func() float64 { return float64(stats().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "session_cache_misses_total",
		Help: "Validation cache misses",
	}, func() float64 { return float64(stats().Misses) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "session_cache_invalidations_total",
		Help: "Validation cache invalidations",
	}, func() float64 { return float64(stats().Invalidations) })
}
