package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/canvasshq/canvass/execution"
)

// tracerName is the instrumentation scope name for canvass tracing.
const tracerName = "github.com/canvasshq/canvass"

// Tracing returns middleware that wraps call placement in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: canvass.execution.id, canvass.property.id,
// canvass.call.attempt, canvass.call.mode. On error, the span status is
// set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, d *Dial, next Handler) (*execution.CallResult, error) {
		ctx, span := tracer.Start(ctx, "canvass.call.place",
			trace.WithAttributes(
				attribute.String("canvass.execution.id", d.ExecutionID),
				attribute.String("canvass.property.id", d.PropertyID),
				attribute.Int("canvass.call.attempt", d.Attempt),
				attribute.String("canvass.call.mode", string(d.Request.Mode)),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
