package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/config"
)

// ShutdownFunc flushes pending spans and stops the provider
type ShutdownFunc func(context.Context) error

// New installs a global tracer provider exporting over OTLP/gRPC and the W3C
// propagators. With an empty URI it installs a no-op provider instead.
func New(ctx context.Context, cfg config.TracingConfig, log *slog.Logger) (trace.TracerProvider, ShutdownFunc, error) {
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if cfg.URI == "" {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		log.Info("tracing disabled")
		return tp, func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.URI),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing enabled", "uri", cfg.URI, "service", cfg.ServiceName)

	return tp, tp.Shutdown, nil
}
