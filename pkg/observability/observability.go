// Package observability provides OpenTelemetry tracing and metrics for
// the covenant executor. Traces cover the action gating path; metrics
// count gate outcomes and measure trigger evaluation latency.
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
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0, default 1.0 (sample all)
	BatchTimeout   time.Duration // how long to wait before sending batched spans
	Enabled        bool
	Insecure       bool // use insecure connection (dev only)
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "covenant-executor",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	actionsExecuted  metric.Int64Counter
	inactionDefaults metric.Int64Counter
	actionsBlocked   metric.Int64Counter
	triggerLatency   metric.Float64Histogram
	treasuryBalance  metric.Int64UpDownCounter
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("covenant.component", "executor"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("covenant.executor",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("covenant.executor",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.actionsExecuted, err = p.meter.Int64Counter("covenant.actions.executed",
		metric.WithDescription("Actions that passed all gates and executed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	p.inactionDefaults, err = p.meter.Int64Counter("covenant.actions.inaction",
		metric.WithDescription("Actions resolved below the confidence threshold"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	p.actionsBlocked, err = p.meter.Int64Counter("covenant.actions.blocked",
		metric.WithDescription("Actions rejected by the prohibited-action filter"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	p.triggerLatency, err = p.meter.Float64Histogram("covenant.trigger.duration",
		metric.WithDescription("Trigger evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return err
	}

	p.treasuryBalance, err = p.meter.Int64UpDownCounter("covenant.treasury.balance_delta",
		metric.WithDescription("Net treasury movement in minor units"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("covenant.executor")
	}
	return p.tracer
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordExecuted counts one executed action.
func (p *Provider) RecordExecuted(ctx context.Context, principal string) {
	if p.actionsExecuted != nil {
		p.actionsExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("principal", principal)))
	}
}

// RecordInaction counts one below-threshold default.
func (p *Provider) RecordInaction(ctx context.Context, principal string) {
	if p.inactionDefaults != nil {
		p.inactionDefaults.Add(ctx, 1, metric.WithAttributes(attribute.String("principal", principal)))
	}
}

// RecordBlocked counts one filter rejection with its category.
func (p *Provider) RecordBlocked(ctx context.Context, principal, category string) {
	if p.actionsBlocked != nil {
		p.actionsBlocked.Add(ctx, 1, metric.WithAttributes(
			attribute.String("principal", principal),
			attribute.String("category", category),
		))
	}
}

// RecordTreasuryDelta records a net treasury movement.
func (p *Provider) RecordTreasuryDelta(ctx context.Context, delta int64) {
	if p.treasuryBalance != nil {
		p.treasuryBalance.Add(ctx, delta)
	}
}

// TrackTrigger times a trigger evaluation from start to finish. Call
// the returned function when the evaluation completes.
func (p *Provider) TrackTrigger(ctx context.Context, mode string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	allAttrs := append([]attribute.KeyValue{attribute.String("mode", mode)}, attrs...)
	ctx, span := p.StartSpan(ctx, "trigger.evaluate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(allAttrs...),
	)

	return ctx, func(err error) {
		if p.triggerLatency != nil {
			p.triggerLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(allAttrs...))
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
