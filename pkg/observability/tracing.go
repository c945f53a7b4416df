package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cortexflow/ragcore"

// StartSpan starts a span on the globally registered tracer provider.
// With no provider registered this is a cheap no-op span, so library code
// can instrument unconditionally.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordSpanError records err on the span when non-nil
func RecordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}
