package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oramind/gatekit/retry"
)

// tracerName is the instrumentation scope name for gatekit tracing.
const tracerName = "github.com/oramind/gatekit"

// Tracing returns middleware that wraps each attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: gatekit.retry.id, gatekit.retry.item_type
// and gatekit.retry.attempt. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *retry.Entry, next Handler) error {
		ctx, span := tracer.Start(ctx, "gatekit.retry.attempt",
			trace.WithAttributes(
				attribute.String("gatekit.retry.id", e.ID.String()),
				attribute.String("gatekit.retry.item_type", e.ItemType),
				attribute.Int("gatekit.retry.attempt", e.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
