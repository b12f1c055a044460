package middleware

import (
	"context"
	"time"

	"github.com/oramind/gatekit/retry"
)

// Timeout returns middleware that enforces an execution deadline on
// every attempt. When the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded, which the
// coordinator treats as an ordinary attempt failure. A non-positive d
// disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *retry.Entry, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
