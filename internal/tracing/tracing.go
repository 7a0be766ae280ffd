// Package tracing bootstraps the process-wide OTel TracerProvider that
// internal/scheduler, internal/statemachine, and internal/entity all
// pull their tracer from via otel.Tracer(...). Nothing in those
// packages depends on this one directly — they call the global API and
// get a no-op tracer until Init runs, which keeps them usable in tests
// without an exporter.
package tracing

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/iKryptonic/RBXStateMachine/internal/config"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// Init installs a TracerProvider built from settings as the OTel global
// and returns a shutdown func the caller must run on exit. When
// settings.OTLPEndpoint is empty, spans go to a stdout exporter instead
// of being dropped, so "no endpoint configured" is still observable
// during local development.
func Init(ctx context.Context, settings config.ObservabilitySettings, logger logging.Logger) (func(context.Context) error, error) {
	logger = logging.OrNop(logger)

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceNameOrDefault(settings.ServiceName)),
	))
	if err != nil {
		return nil, err
	}

	exporter, err := buildExporter(ctx, settings)
	if err != nil {
		return nil, err
	}

	ratio := settings.SampleRatio
	if ratio <= 0 {
		ratio = 0.1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if settings.OTLPEndpoint != "" {
		logger.Info("tracing: exporting spans to %s", settings.OTLPEndpoint)
	} else {
		logger.Info("tracing: no otlp_endpoint configured, exporting spans to stdout")
	}

	return provider.Shutdown, nil
}

func buildExporter(ctx context.Context, settings config.ObservabilitySettings) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(settings.OTLPEndpoint)
	if endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if settings.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func serviceNameOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return "runtime"
	}
	return name
}
