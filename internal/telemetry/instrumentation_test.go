package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestInstrumentation_ObserveValidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	inst, err := NewInstrumentation(reg, mp, tracenoop.NewTracerProvider())
	require.NoError(t, err)

	ctx := context.Background()
	inst.ObserveValidation(ctx, "cache", "valid", time.Millisecond)
	inst.ObserveValidation(ctx, "cache", "valid", time.Millisecond)
	inst.ObserveValidation(ctx, "store", "unavailable", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(inst.outcomes.WithLabelValues("cache", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(inst.outcomes.WithLabelValues("store", "unavailable")))
	assert.Equal(t, 2, testutil.CollectAndCount(inst.latency))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	hist, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)
}

func TestInstrumentation_Time(t *testing.T) {
	inst := Nop()
	called := false
	inst.Time(context.Background(), "validate", func(context.Context) (string, string) {
		called = true
		return "stateless", "valid"
	})
	assert.True(t, called)
	assert.Equal(t, 1.0, testutil.ToFloat64(inst.outcomes.WithLabelValues("stateless", "valid")))
}

func TestRegisterCacheGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCacheGauges(reg, func() CacheStats {
		return CacheStats{Hits: 4, Misses: 2, Invalidations: 1, Size: 3}
	})
	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"session_cache_entries",
		"session_cache_hits_total",
		"session_cache_misses_total",
		"session_cache_invalidations_total",
	} {
		assert.True(t, names[want], "metric %q should be registered", want)
	}
}
