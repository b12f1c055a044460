// Package middleware provides composable middleware for retry
// execution. Middleware wraps handler calls synchronously and can
// modify execution (recover from panics, log, enforce timeouts, add
// tracing and metrics).
package middleware

import (
	"context"

	"github.com/oramind/gatekit/retry"
)

// Handler is the terminal function that executes one retry attempt.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the entry being attempted, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, e *retry.Entry, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, e *retry.Entry, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, e, prev)
			}
		}
		return h(ctx)
	}
}

// Wrap adapts a Middleware into a retry.Wrapper so a composed chain
// can be injected into the retry coordinator.
func Wrap(mw Middleware) retry.Wrapper {
	return func(ctx context.Context, e *retry.Entry, next func(context.Context) error) error {
		return mw(ctx, e, Handler(next))
	}
}
