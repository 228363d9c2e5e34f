// Package otel builds the OpenTelemetry trace, metric and log providers that export over
// OTLP gRPC. With no endpoint configured the providers are local no-ops.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// MetricInterval is how often metrics are pushed to the collector.
const MetricInterval = 10 * time.Second

// Config selects the collector. Endpoint may be host:port or a URL; only the host part is dialed.
type Config struct {
	Endpoint    string
	ServiceName string
	// Insecure forces plaintext even for https endpoints.
	Insecure bool
}

// Providers holds the SDK providers. Shutdown flushes and stops them in reverse order.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Exporting      bool

	shutdown []func(context.Context) error
}

// NewProviders returns providers for cfg.
func NewProviders(ctx context.Context, cfg Config) (*Providers, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return &Providers{
			TracerProvider: sdktrace.NewTracerProvider(),
			MeterProvider:  metric.NewMeterProvider(),
			LoggerProvider: sdklog.NewLoggerProvider(),
		}, nil
	}
	target, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	insecure = insecure || cfg.Insecure

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	p := &Providers{Exporting: true}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	p.shutdown = append(p.shutdown, p.TracerProvider.Shutdown)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.MeterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(MetricInterval))),
	)
	p.shutdown = append(p.shutdown, p.MeterProvider.Shutdown)

	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if insecure {
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.LoggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	p.shutdown = append(p.shutdown, p.LoggerProvider.Shutdown)

	return p, nil
}

// Shutdown stops every exporting provider and joins their errors.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetGlobal installs the tracer and meter providers as the otel globals used by
// otelhttp and otelgrpc.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}

func parseEndpoint(endpoint string) (target string, insecure bool, err error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}
