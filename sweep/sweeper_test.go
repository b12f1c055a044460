package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/store/memory"
	"github.com/oramind/gatekit/sweep"
	"github.com/oramind/gatekit/workflow"
)

func newSweeper(t *testing.T, opts ...sweep.Option) (*sweep.Sweeper, *workflow.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	engine := workflow.NewEngine(s, nil, nil)
	sw, err := sweep.New(engine, nil, nil, id.NewWorkerID(), "@every 5m", nil, opts...)
	if err != nil {
		t.Fatalf("sweep.New: %v", err)
	}
	return sw, engine, s
}

func stuckInstance(t *testing.T, engine *workflow.Engine, s *memory.Store, age time.Duration) *workflow.Instance {
	t.Helper()
	ctx := context.Background()

	inst, err := engine.Create(ctx, workflow.ModeProduceOnly, "t")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := engine.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{}); err != nil || !ok {
		t.Fatalf("start = (%v, %v)", ok, err)
	}

	// Age the instance: pretend it started long ago.
	aged, _ := engine.Get(ctx, inst.ID)
	aged.StartedAt = time.Now().UTC().Add(-age)
	if err := s.UpdateInstanceIf(ctx, aged, workflow.StatusProcessing); err != nil {
		t.Fatalf("age instance: %v", err)
	}
	return aged
}

func TestFindStuck(t *testing.T) {
	ctx := context.Background()
	sw, engine, s := newSweeper(t)

	old := stuckInstance(t, engine, s, time.Hour)

	fresh, _ := engine.Create(ctx, workflow.ModeProduceOnly, "t")
	engine.Transition(ctx, fresh.ID, workflow.EventStart, workflow.Meta{})

	stuck, err := sw.FindStuck(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindStuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != old.ID {
		t.Fatalf("stuck = %d instances, want the aged one only", len(stuck))
	}
}

func TestAutoRecoverForcesErrorTransition(t *testing.T) {
	ctx := context.Background()
	sw, engine, s := newSweeper(t)

	inst := stuckInstance(t, engine, s, time.Hour)

	recovered, err := sw.AutoRecover(ctx, 30*time.Minute, 10)
	if err != nil {
		t.Fatalf("AutoRecover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	got, _ := engine.Get(ctx, inst.ID)
	if got.Status != workflow.StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, workflow.StatusFailed)
	}
	if got.ErrorMessage != sweep.StuckMessage {
		t.Errorf("error message = %q, want synthetic stuck message", got.ErrorMessage)
	}
	if got.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", got.ErrorCount)
	}
}

func TestAutoRecoverHonorsBound(t *testing.T) {
	ctx := context.Background()
	sw, engine, s := newSweeper(t)

	for range 3 {
		stuckInstance(t, engine, s, time.Hour)
	}

	recovered, err := sw.AutoRecover(ctx, 30*time.Minute, 2)
	if err != nil {
		t.Fatalf("AutoRecover: %v", err)
	}
	if recovered != 2 {
		t.Errorf("recovered = %d, want bound of 2", recovered)
	}
}

func TestRetryEligibleDrivesRetryEvent(t *testing.T) {
	ctx := context.Background()
	sw, engine, _ := newSweeper(t)

	inst, _ := engine.Create(ctx, workflow.ModeProduceOnly, "t")
	engine.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})
	engine.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: "timeout"})

	retried, err := sw.RetryEligible(ctx, 3, 10)
	if err != nil {
		t.Fatalf("RetryEligible: %v", err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d, want 1", retried)
	}

	status, _ := engine.GetState(ctx, inst.ID)
	if status != workflow.StatusProcessing {
		t.Errorf("status = %s, want %s", status, workflow.StatusProcessing)
	}
}

func TestRetryEligibleSkipsExhausted(t *testing.T) {
	ctx := context.Background()
	sw, engine, _ := newSweeper(t)

	inst, _ := engine.Create(ctx, workflow.ModeProduceOnly, "t")
	engine.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})

	// Burn through the retry budget.
	for range 3 {
		engine.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: "boom"})
		engine.Transition(ctx, inst.ID, workflow.EventRetry, workflow.Meta{})
	}
	engine.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: "boom"})

	retried, err := sw.RetryEligible(ctx, 3, 10)
	if err != nil {
		t.Fatalf("RetryEligible: %v", err)
	}
	if retried != 0 {
		t.Errorf("retried = %d, want 0 for exhausted instance", retried)
	}
}

func TestSweepRunsBothModes(t *testing.T) {
	ctx := context.Background()
	sw, engine, s := newSweeper(t, sweep.WithStuckTimeout(30*time.Minute))

	stuckInstance(t, engine, s, time.Hour)

	failed, _ := engine.Create(ctx, workflow.ModeProduceOnly, "t")
	engine.Transition(ctx, failed.ID, workflow.EventStart, workflow.Meta{})
	engine.Transition(ctx, failed.ID, workflow.EventError, workflow.Meta{Error: "boom"})

	result, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Recovered != 1 {
		t.Errorf("recovered = %d, want 1", result.Recovered)
	}
	// Both the pre-existing failure and the freshly recovered instance
	// are retry-eligible in the same pass.
	if result.Retried != 2 {
		t.Errorf("retried = %d, want 2", result.Retried)
	}
}
