package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/canvasshq/canvass/execution"
)

// Recover returns middleware that recovers from panics in the dial chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *Dial, next Handler) (res *execution.CallResult, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("caller panicked",
					slog.String("execution_id", d.ExecutionID),
					slog.String("property_id", d.PropertyID),
					slog.Int("attempt", d.Attempt),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = nil
				retErr = fmt.Errorf("panic placing call for %s: %v", d.PropertyID, r)
			}
		}()
		return next(ctx)
	}
}
