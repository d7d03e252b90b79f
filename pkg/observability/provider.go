// Package observability wires tracing (OpenTelemetry, OTLP export) and
// metrics (OTLP RED metrics plus a Prometheus registry scraped at /metrics).
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

const instrumentationName = "github.com/Mindburn-Labs/aatp-router"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC collector, e.g. "localhost:4317"; empty disables export
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	Insecure       bool
}

// DefaultConfig returns export-disabled defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "aatp-router",
		ServiceVersion: contracts.ProtocolVersion,
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider owns the OpenTelemetry SDK providers for the router process.
type Provider struct {
	config  *Config
	tracing *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	tracer  trace.Tracer
	red     *red
	logger  *slog.Logger
}

// red holds the rate/error/duration instruments recorded per operation.
type red struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func newRED(m metric.Meter) (*red, error) {
	calls, err := m.Int64Counter("aatp.requests.total",
		metric.WithDescription("Operations started, by name"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	failures, err := m.Int64Counter("aatp.errors.total",
		metric.WithDescription("Operations that ended with an error code"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram("aatp.request.duration",
		metric.WithDescription("Wall time of an operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	if err != nil {
		return nil, err
	}
	inflight, err := m.Int64UpDownCounter("aatp.operations.active",
		metric.WithDescription("Operations currently running"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}
	return &red{calls: calls, failures: failures, latency: latency, inflight: inflight}, nil
}

// New creates the provider. Without an OTLP endpoint spans and metrics go to
// the global no-op providers, but W3C propagation is still installed so
// trace context flows from callers to providers.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{config: cfg, logger: slog.Default().With("component", "observability")}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if cfg.OTLPEndpoint == "" {
		p.logger.InfoContext(ctx, "otlp export disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceOpts, metricOpts := exporterOptions(cfg)
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 5 * time.Second
	}
	p.tracing = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(batch)),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	)
	p.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetTracerProvider(p.tracing)
	otel.SetMeterProvider(p.meters)

	p.tracer = p.tracing.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if p.red, err = newRED(p.meters.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, fmt.Errorf("red instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "otlp export enabled",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func exporterOptions(cfg *Config) ([]otlptracegrpc.Option, []otlpmetricgrpc.Option) {
	t := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	m := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		t = append(t, otlptracegrpc.WithInsecure())
		m = append(m, otlpmetricgrpc.WithInsecure())
	}
	return t, m
}

func samplerFor(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes pending spans and metric points. Errors are joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracing != nil {
		errs = append(errs, p.tracing.Shutdown(ctx))
	}
	if p.meters != nil {
		errs = append(errs, p.meters.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer, or the global one.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// TrackOperation starts a span and RED bookkeeping; call the returned func
// with the operation's error when it completes. Failures are counted under
// their contracts error code.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))

	var r *red
	if p != nil {
		r = p.red
	}
	set := metric.WithAttributes(attrs...)
	if r != nil {
		r.calls.Add(ctx, 1, set)
		r.inflight.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		defer span.End()
		if r != nil {
			r.inflight.Add(ctx, -1, set)
			r.latency.Record(ctx, time.Since(start).Seconds(), set)
		}
		if err == nil {
			return
		}
		span.RecordError(err)
		if r != nil {
			code := attribute.String("aatp.error_code", string(contracts.AsError(err).Code))
			r.failures.Add(ctx, 1, metric.WithAttributes(append(append([]attribute.KeyValue{}, attrs...), code)...))
		}
	}
}
