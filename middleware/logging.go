package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/canvasshq/canvass/execution"
)

// Logging returns middleware that logs dial start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *Dial, next Handler) (*execution.CallResult, error) {
		logger.Info("dial started",
			slog.String("execution_id", d.ExecutionID),
			slog.String("property_id", d.PropertyID),
			slog.Int("attempt", d.Attempt),
			slog.String("mode", string(d.Request.Mode)),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("dial failed",
				slog.String("execution_id", d.ExecutionID),
				slog.String("property_id", d.PropertyID),
				slog.Int("attempt", d.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("dial completed",
				slog.String("execution_id", d.ExecutionID),
				slog.String("property_id", d.PropertyID),
				slog.Int("attempt", d.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("outcome", res.Outcome),
			)
		}

		return res, err
	}
}
