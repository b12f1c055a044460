package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/oramind/gatekit/retry"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *retry.Entry, next Handler) error {
		logger.Info("retry attempt started",
			slog.String("retry_id", e.ID.String()),
			slog.String("item_type", e.ItemType),
			slog.Int("attempt", e.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("retry attempt failed",
				slog.String("retry_id", e.ID.String()),
				slog.String("item_type", e.ItemType),
				slog.Int("attempt", e.Attempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("retry attempt completed",
				slog.String("retry_id", e.ID.String()),
				slog.String("item_type", e.ItemType),
				slog.Int("attempt", e.Attempts),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
