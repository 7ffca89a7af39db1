// Package telemetry wires the engine's OTel metric and trace instruments,
// following the same pattern as steveyegge-beads's
// internal/storage/dolt/store.go: instruments are registered against the
// global otel providers at package init time (a no-op provider until Init
// runs), so every package that holds a *metric.*/trace.Tracer reference
// starts forwarding to the real provider the moment Init installs it, with
// no constructor plumbing needed at each call site.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Providers holds the SDK providers Init installs globally. Shutdown flushes
// and stops both; callers keep it only to defer that call.
type Providers struct {
	meter  *sdkmetric.MeterProvider
	tracer *sdktrace.TracerProvider
}

// Init installs a metric and trace provider as the global OTel providers,
// tagged with serviceName. metricReader/spanProcessor are left to the
// caller to construct (stdout, OTLP, Prometheus — whichever exporter the
// deployment wants) so this package stays exporter-agnostic, the same way
// store.go's doltMetrics/doltTracer never hardcode a specific backend.
func Init(ctx context.Context, serviceName string, opts ...Option) (*Providers, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range cfg.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(mp)

	tracerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, p := range cfg.processors {
		tracerOpts = append(tracerOpts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(tracerOpts...)
	otel.SetTracerProvider(tp)

	return &Providers{meter: mp, tracer: tp}, nil
}

// Shutdown flushes and stops the tracer provider, then the meter provider,
// and returns the first error; if the tracer provider fails, the meter
// provider is not shut down.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutting down tracer provider: %w", err)
	}
	if err := p.meter.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutting down meter provider: %w", err)
	}
	return nil
}

type config struct {
	readers    []sdkmetric.Reader
	processors []sdktrace.SpanProcessor
}

// Option configures Init's providers.
type Option func(*config)

// WithMetricReader registers an additional metric exporter/reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(c *config) { c.readers = append(c.readers, r) }
}

// WithSpanProcessor registers an additional trace exporter/processor.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(c *config) { c.processors = append(c.processors, p) }
}
