// Package telemetry builds the OpenTelemetry tracer provider the step
// executor reports spans to.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/roach88/playbookd/internal/config"
)

const defaultBatchTimeout = 5 * time.Second

// NewTracerProvider builds a provider for cfg. The stdout exporter writes
// to w. With the "none" exporter the provider has no processors and spans
// are dropped.
//
// Callers must Shutdown the provider to flush batched spans.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig, w io.Writer) (*sdktrace.TracerProvider, error) {
	if cfg.Exporter == config.TracingExporterNone || cfg.Exporter == "" {
		return sdktrace.NewTracerProvider(), nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case config.TracingExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case config.TracingExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(defaultBatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		sdktrace.WithResource(res),
	), nil
}
