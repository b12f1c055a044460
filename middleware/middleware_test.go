package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/middleware"
	"github.com/oramind/gatekit/retry"
)

func testEntry() *retry.Entry {
	return &retry.Entry{
		Entity:      gatekit.NewEntity(),
		ID:          id.NewRetryID(),
		ItemType:    "email_send",
		Status:      retry.StatusRetrying,
		Attempts:    2,
		MaxAttempts: 3,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *retry.Entry, next middleware.Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	chain := middleware.Chain(mk("outer"), mk("inner"))
	err := chain(context.Background(), testEntry(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	chain := middleware.Chain(middleware.Logging(discardLogger()))
	err := chain(context.Background(), testEntry(), func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want handler error", err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	chain := middleware.Chain(middleware.Recover(discardLogger()))
	err := chain(context.Background(), testEntry(), func(context.Context) error {
		panic("handler bug")
	})
	if err == nil {
		t.Fatal("panic not converted to error")
	}
}

func TestTimeoutCancelsContext(t *testing.T) {
	chain := middleware.Chain(middleware.Timeout(10 * time.Millisecond))
	err := chain(context.Background(), testEntry(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestTimeoutZeroIsPassThrough(t *testing.T) {
	chain := middleware.Chain(middleware.Timeout(0))
	err := chain(context.Background(), testEntry(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("deadline set for zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
}

func TestMetricsAndTracingArePassThrough(t *testing.T) {
	// Without configured providers both must behave as no-ops.
	chain := middleware.Chain(middleware.Metrics(), middleware.Tracing())
	invoked := false
	err := chain(context.Background(), testEntry(), func(context.Context) error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !invoked {
		t.Error("handler not invoked")
	}
}
