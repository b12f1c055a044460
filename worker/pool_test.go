package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/limiter"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/store/memory"
	"github.com/oramind/gatekit/worker"
)

func seedDueEntry(t *testing.T, st *memory.Store, itemType string) *retry.Entry {
	t.Helper()
	e := &retry.Entry{
		Entity:      gatekit.NewEntity(),
		ID:          id.NewRetryID(),
		ItemType:    itemType,
		Payload:     []byte(`{"to":"a@acme.io"}`),
		Status:      retry.StatusPending,
		Attempts:    1,
		MaxAttempts: 3,
		NextRetryAt: time.Now().Add(-time.Second),
	}
	if err := st.CreateRetry(context.Background(), e); err != nil {
		t.Fatalf("CreateRetry: %v", err)
	}
	return e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolProcessesDueEntries(t *testing.T) {
	st := memory.New()
	reg := retry.NewRegistry()

	var processed atomic.Int32
	retry.RegisterDefinition(reg, &retry.Definition[map[string]string]{
		ItemType: "email.send",
		Handler: func(ctx context.Context, payload map[string]string) error {
			processed.Add(1)
			return nil
		},
	})

	coord := retry.NewCoordinator(st, reg, retry.CoordinatorConfig{})

	e := seedDueEntry(t, st, "email.send")

	pool := worker.NewPool(coord, nil, nil,
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 1 })

	got, err := st.GetRetry(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetRetry: %v", err)
	}
	if got.Status != retry.StatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, retry.StatusSucceeded)
	}
}

func TestPoolRegistersAndDeregistersWorker(t *testing.T) {
	st := memory.New()
	coord := retry.NewCoordinator(st, retry.NewRegistry(), retry.CoordinatorConfig{})

	pool := worker.NewPool(coord, st, nil,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithItemTypes([]string{"email.send"}),
		worker.WithHeartbeatInterval(10*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	workers, err := st.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("registered workers = %d, want 1", len(workers))
	}
	if workers[0].ID != pool.WorkerID() {
		t.Errorf("worker ID = %v, want %v", workers[0].ID, pool.WorkerID())
	}

	firstSeen := workers[0].LastSeen
	waitFor(t, 2*time.Second, func() bool {
		ws, err := st.ListWorkers(context.Background())
		return err == nil && len(ws) == 1 && ws[0].LastSeen.After(firstSeen)
	})

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	workers, err = st.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 0 {
		t.Errorf("workers after stop = %d, want 0", len(workers))
	}
}

func TestPoolRespectsConcurrencyLimit(t *testing.T) {
	st := memory.New()
	reg := retry.NewRegistry()

	var processed atomic.Int32
	retry.RegisterDefinition(reg, &retry.Definition[map[string]string]{
		ItemType: "email.send",
		Handler: func(ctx context.Context, payload map[string]string) error {
			processed.Add(1)
			return nil
		},
	})

	coord := retry.NewCoordinator(st, reg, retry.CoordinatorConfig{})

	limits := limiter.NewManager(limiter.Config{ItemType: "email.send", MaxConcurrency: 1})

	for range 3 {
		seedDueEntry(t, st, "email.send")
	}

	pool := worker.NewPool(coord, nil, nil,
		worker.WithPoolConcurrency(3),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithLimits(limits),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background())

	// All three still complete; the limiter serializes them rather than
	// dropping any.
	waitFor(t, 3*time.Second, func() bool { return processed.Load() == 3 })

	if n := limits.ActiveCount("email.send"); n != 0 {
		t.Errorf("active count after drain = %d, want 0", n)
	}
}

func TestPoolStopWaitsForInFlightWork(t *testing.T) {
	st := memory.New()
	reg := retry.NewRegistry()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	retry.RegisterDefinition(reg, &retry.Definition[map[string]string]{
		ItemType: "email.send",
		Handler: func(ctx context.Context, payload map[string]string) error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		},
	})

	coord := retry.NewCoordinator(st, reg, retry.CoordinatorConfig{})
	seedDueEntry(t, st, "email.send")

	pool := worker.NewPool(coord, nil, nil,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(5*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started

	stopDone := make(chan struct{})
	go func() {
		pool.Stop(context.Background())
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while an attempt was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after in-flight attempt finished")
	}
	if !finished.Load() {
		t.Error("in-flight attempt did not run to completion")
	}
}
