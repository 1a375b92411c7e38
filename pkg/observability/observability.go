// Package observability wires OpenTelemetry tracing and metrics for the
// governance daemon.
//
// Every mutation is tracked with RED metrics (rate, errors, duration) and a
// span. Accepted transitions and rejected calls are counted separately so
// that dashboards can alert on a spike of unauthorized activation attempts.
package observability

import (
	"context"
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
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	scope          = "defcon.governance"
	exportInterval = 15 * time.Second
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool

	// SpanExporter and MetricReader replace the OTLP exporters when set.
	SpanExporter sdktrace.SpanExporter
	MetricReader sdkmetric.Reader
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "defcon",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// instruments are nil on a disabled Provider.
type instruments struct {
	calls       metric.Int64Counter
	failures    metric.Int64Counter
	latency     metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
}

// Provider owns the trace and metric pipelines. A disabled Provider is safe
// to use and records nothing.
type Provider struct {
	cfg            *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	inst           instruments
	logger         *slog.Logger
}

// New creates a provider. With Enabled false no exporter is created.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{cfg: cfg, logger: slog.Default().With("component", "observability")}
	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	// Schemaless so the merge never conflicts with the SDK default's schema.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	spans, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reader, err := metricReader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 5 * time.Second
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(batch)),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.tracer = p.tracerProvider.Tracer(scope, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = p.meterProvider.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if p.inst, err = newInstruments(p.meter); err != nil {
		return nil, fmt.Errorf("otel instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func spanExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	if cfg.SpanExporter != nil {
		return cfg.SpanExporter, nil
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	return exp, nil
}

func metricReader(ctx context.Context, cfg *Config) (sdkmetric.Reader, error) {
	if cfg.MetricReader != nil {
		return cfg.MetricReader, nil
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval)), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

func newInstruments(m metric.Meter) (instruments, error) {
	var (
		in  instruments
		err error
	)
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}

	in.calls = counter("defcon.requests.total", "Governance calls", "{request}")
	in.failures = counter("defcon.errors.total", "Failed governance calls", "{error}")
	in.transitions = counter("defcon.transitions.total", "Accepted state transitions by audit kind", "{transition}")
	in.rejections = counter("defcon.rejections.total", "Rejected governance calls by error kind", "{rejection}")
	if err != nil {
		return in, err
	}

	if in.latency, err = m.Float64Histogram("defcon.request.duration",
		metric.WithDescription("Governance call duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	); err != nil {
		return in, err
	}
	in.inFlight, err = m.Int64UpDownCounter("defcon.operations.active",
		metric.WithDescription("Governance calls in flight"),
		metric.WithUnit("{operation}"),
	)
	return in, err
}

// ObserveStatus registers a gauge reporting the current posture as
// 0 (SECURE), 1 (DEFCON_ZERO) or 2 (PENDING_DEACTIVATION).
func (p *Provider) ObserveStatus(level func() int64) error {
	if p.meter == nil {
		return nil
	}
	_, err := p.meter.Int64ObservableGauge("defcon.status",
		metric.WithDescription("Current threat posture"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(level())
			return nil
		}),
	)
	return err
}

// Shutdown flushes and stops the providers. Errors are logged.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scope)
	}
	return p.tracer
}

// RecordTransition counts an accepted transition.
func (p *Provider) RecordTransition(ctx context.Context, op, kind string) {
	if p.inst.transitions == nil {
		return
	}
	p.inst.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("defcon.op", op),
		attribute.String("defcon.kind", kind),
	))
}

// RecordRejection counts a rejected call by its error kind.
func (p *Provider) RecordRejection(ctx context.Context, op, errKind string) {
	if p.inst.rejections == nil {
		return
	}
	p.inst.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("defcon.op", op),
		attribute.String("error.kind", errKind),
	))
}

// TrackOperation starts a span and RED measurements for one call. The
// returned function must be called with the call's outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	set := metric.WithAttributes(attrs...)
	in := p.inst
	if in.calls != nil {
		in.calls.Add(ctx, 1, set)
		in.inFlight.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if in.calls == nil {
			return
		}
		in.inFlight.Add(ctx, -1, set)
		in.latency.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			in.failures.Add(ctx, 1, set)
		}
	}
}
