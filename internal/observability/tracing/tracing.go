package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

type Options struct {
	Enabled  bool
	Endpoint string
	Service  string
}

// Init installs a global OTLP/HTTP tracer provider. When tracing is
// disabled the global no-op provider stays in place.
func Init(ctx context.Context, options Options) (ShutdownFunc, error) {
	if !options.Enabled {
		slog.Info("tracing_disabled")
		return noopShutdown, nil
	}

	endpoint := strings.TrimSpace(options.Endpoint)
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", options.Service),
		)),
	)
	otel.SetTracerProvider(provider)
	slog.Info("tracing_initialized", "endpoint", endpoint, "service", options.Service)

	return provider.Shutdown, nil
}
