package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ServiceVersion is reported as the service.version resource attribute
const ServiceVersion = "1.0.0"

// Options configures tracing
type Options struct {
	Enabled     bool
	ServiceName string
	// Endpoint is the OTLP HTTP host:port of the collector (e.g. Jaeger)
	Endpoint string
}

// InitTracer initializes OpenTelemetry with an OTLP HTTP exporter. When
// tracing is disabled the global no-op provider stays in place and the
// returned shutdown function does nothing.
func InitTracer(ctx context.Context, opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	// Set global propagator for context propagation
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if !opts.Enabled {
		logger.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	// Create OTLP HTTP exporter
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(ctx, opts.ServiceName)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	// Set global trace provider
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized", "endpoint", opts.Endpoint)

	return tp.Shutdown, nil
}

func newResource(ctx context.Context, serviceName string) *resource.Resource {
	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	// a detector failure still yields a usable partial resource
	if err != nil && res == nil {
		return resource.Default()
	}
	return res
}
