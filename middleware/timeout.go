package middleware

import (
	"context"
	"log/slog"

	"github.com/canvasshq/canvass/execution"
)

// Timeout returns middleware that enforces a per-dial deadline.
// If the dial has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. When the deadline is exceeded the context is cancelled
// and the caller should return context.DeadlineExceeded, which the
// scheduler treats as a connection failure.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *Dial, next Handler) (*execution.CallResult, error) {
		if d.Timeout > 0 {
			logger.Debug("dial timeout set",
				slog.String("property_id", d.PropertyID),
				slog.Duration("timeout", d.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
