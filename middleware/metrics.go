package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
)

// meterName is the instrumentation scope name for canvass metrics.
const meterName = "github.com/canvasshq/canvass"

// Metrics returns middleware that records per-dial metrics using the
// global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - canvass.call.duration (Float64Histogram): dial time in seconds,
//     with attributes: mode, status ("ok", "connection_error" or "error")
//   - canvass.call.dials (Int64Counter): total dials,
//     with attributes: mode, status
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"canvass.call.duration",
		metric.WithDescription("Duration of outbound call placement in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	dials, cErr := meter.Int64Counter(
		"canvass.call.dials",
		metric.WithDescription("Total number of outbound dials"),
		metric.WithUnit("{dial}"),
	)
	_ = cErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, d *Dial, next Handler) (*execution.CallResult, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case collab.IsConnectionFailure(err):
			status = "connection_error"
		case err != nil:
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("mode", string(d.Request.Mode)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		dials.Add(ctx, 1, attrs)

		return res, err
	}
}
