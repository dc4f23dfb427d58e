package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config describes what the process reports as and how much it exports.
type Config struct {
	ServiceName string
	Version     string

	// SampleRatio is the fraction of root spans kept, children follow their parent.
	SampleRatio float64

	// ExportInterval is how often metrics are pushed. Default: 10s
	ExportInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ExportInterval == 0 {
		c.ExportInterval = 10 * time.Second
	}
}

func (c Config) validate() error {
	if c.ServiceName == "" {
		return errors.New("telemetry service name is required")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be between 0 and 1, got %v", c.SampleRatio)
	}
	return nil
}

// InitTelemetry installs global trace and meter providers exporting over OTLP/gRPC.
// Exporter endpoints and headers come from the standard OTEL_EXPORTER_OTLP_* variables
// and OTEL_RESOURCE_ATTRIBUTES is merged into the resource.
//
// The returned function flushes and stops both providers.
func InitTelemetry(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithOSType(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var opts []providerOption

	spanExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create trace exporter, continuing without tracing")
	} else {
		opts = append(opts, withSpanProcessor(sdktrace.NewBatchSpanProcessor(spanExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		)))
	}

	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create metric exporter, continuing without metrics")
	} else {
		opts = append(opts, withMetricReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(cfg.ExportInterval),
		)))
	}

	shutdown := install(res, cfg.SampleRatio, opts...)

	log.Info().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("OpenTelemetry initialized")

	return shutdown, nil
}

type providerOption func(*providerParts)

type providerParts struct {
	spanProcessors []sdktrace.SpanProcessor
	readers        []sdkmetric.Reader
}

func withSpanProcessor(sp sdktrace.SpanProcessor) providerOption {
	return func(p *providerParts) { p.spanProcessors = append(p.spanProcessors, sp) }
}

func withMetricReader(r sdkmetric.Reader) providerOption {
	return func(p *providerParts) { p.readers = append(p.readers, r) }
}

// install sets the global providers and propagator.
func install(res *resource.Resource, sampleRatio float64, opts ...providerOption) func(context.Context) error {
	parts := &providerParts{}
	for _, opt := range opts {
		opt(parts)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	}
	for _, sp := range parts.spanProcessors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range parts.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
		return errors.Join(errs...)
	}
}
