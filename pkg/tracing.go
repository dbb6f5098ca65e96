package pkg

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by this module.
const TracerName = "chordfs"

// StartSpan starts a span named "ChordFS.<name>" on the globally registered tracer provider.
// Without a registered provider the span is a no-op.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, fmt.Sprintf("ChordFS.%s", name), opts...)
}

// NewTracerProvider batches spans to the OTLP/HTTP collector at endpoint
// (for example http://localhost:4318). nodeID is recorded on every span's
// resource. The caller registers the provider with otel.SetTracerProvider and
// must Shutdown it to flush pending spans.
func NewTracerProvider(ctx context.Context, endpoint, nodeID string) (*sdktrace.TracerProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("trace endpoint cannot be empty")
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(TracerName),
			attribute.String("chord.node_id", nodeID),
		)),
	), nil
}
