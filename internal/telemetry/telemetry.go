// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used across the service.
const InstrumentationName = "github.com/aethelgard/qualitycheck"

// Config controls trace export.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name" validate:"required"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Init installs a global tracer provider exporting over OTLP gRPC. When
// tracing is disabled the global no-op provider stays in place.
func Init(ctx context.Context, cfg Config, version string) (Shutdown, error) {
	logger := slog.Default().With("component", "telemetry")
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		logger.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)
	return tp.Shutdown, nil
}

// Tracer returns the service tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
