package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/store/memory"
	"github.com/oramind/gatekit/workflow"
)

func newEngine(t *testing.T) (*workflow.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	return workflow.NewEngine(s, nil, nil), s
}

func TestCreateStartsTriggered(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, err := e.Create(ctx, workflow.ModeProduceOnly, "trigger-123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inst.Status != workflow.StatusTriggered {
		t.Errorf("status = %s, want %s", inst.Status, workflow.StatusTriggered)
	}
	if inst.TriggerRef != "trigger-123" {
		t.Errorf("trigger ref = %q", inst.TriggerRef)
	}
	if inst.Terminal() {
		t.Error("new instance must not be terminal")
	}
}

func TestProduceOnlyLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, err := e.Create(ctx, workflow.ModeProduceOnly, "t")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := e.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})
	if err != nil || !ok {
		t.Fatalf("start = (%v, %v)", ok, err)
	}
	ok, err = e.Transition(ctx, inst.ID, workflow.EventArtifactProduced, workflow.Meta{})
	if err != nil || !ok {
		t.Fatalf("artifact_produced = (%v, %v)", ok, err)
	}

	got, err := e.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != workflow.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, workflow.StatusCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("completed-at not stamped on terminal transition")
	}
}

func TestCompletionEventMustMatchMode(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, _ := e.Create(ctx, workflow.ModeProduceOnly, "t")
	if ok, _ := e.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{}); !ok {
		t.Fatal("start rejected")
	}

	// Released is the produce-and-release completion event; this
	// instance is produce-only.
	ok, err := e.Transition(ctx, inst.ID, workflow.EventArtifactReleased, workflow.Meta{})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if ok {
		t.Error("artifact_released accepted for produce-only instance")
	}

	status, _ := e.GetState(ctx, inst.ID)
	if status != workflow.StatusProcessing {
		t.Errorf("status = %s, want %s", status, workflow.StatusProcessing)
	}
}

func TestErrorRecordsCountAndMessage(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, _ := e.Create(ctx, workflow.ModeProduceOnly, "t")
	e.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})

	ok, err := e.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: "timeout"})
	if err != nil || !ok {
		t.Fatalf("error transition = (%v, %v)", ok, err)
	}

	got, _ := e.Get(ctx, inst.ID)
	if got.Status != workflow.StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, workflow.StatusFailed)
	}
	if got.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", got.ErrorCount)
	}
	if got.ErrorMessage != "timeout" {
		t.Errorf("error message = %q, want %q", got.ErrorMessage, "timeout")
	}
}

func TestRetryReentersProcessing(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, _ := e.Create(ctx, workflow.ModeProduceOnly, "t")
	e.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})
	e.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: "timeout"})

	eligible, err := e.FindFailedEligibleForRetry(ctx, 3, 10)
	if err != nil {
		t.Fatalf("FindFailedEligibleForRetry: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != inst.ID {
		t.Fatalf("eligible = %d instances, want the failed one", len(eligible))
	}

	ok, err := e.Transition(ctx, inst.ID, workflow.EventRetry, workflow.Meta{})
	if err != nil || !ok {
		t.Fatalf("retry = (%v, %v)", ok, err)
	}

	got, _ := e.Get(ctx, inst.ID)
	if got.Status != workflow.StatusProcessing {
		t.Errorf("status = %s, want %s", got.Status, workflow.StatusProcessing)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message not cleared on retry: %q", got.ErrorMessage)
	}
	// Error count is history, not flow state.
	if got.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", got.ErrorCount)
	}
}

func TestAbortPinsFailedInstance(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, _ := e.Create(ctx, workflow.ModeProduceOnly, "t")
	e.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})
	e.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: "boom"})

	ok, err := e.Transition(ctx, inst.ID, workflow.EventAbort, workflow.Meta{})
	if err != nil || !ok {
		t.Fatalf("abort = (%v, %v)", ok, err)
	}

	got, _ := e.Get(ctx, inst.ID)
	if got.Status != workflow.StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, workflow.StatusFailed)
	}
	if !got.Terminal() {
		t.Error("aborted instance must be terminal")
	}

	// Nothing moves a terminal instance, not even retry.
	ok, err = e.Transition(ctx, inst.ID, workflow.EventRetry, workflow.Meta{})
	if err != nil {
		t.Fatalf("Transition after abort: %v", err)
	}
	if ok {
		t.Error("retry accepted on aborted instance")
	}

	// And it no longer shows up as retry-eligible.
	eligible, _ := e.FindFailedEligibleForRetry(ctx, 3, 10)
	if len(eligible) != 0 {
		t.Errorf("aborted instance listed as retry-eligible")
	}
}

func TestInvalidTransitionReturnsFalseNotError(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	inst, _ := e.Create(ctx, workflow.ModeProduceOnly, "t")

	// artifact_produced has no edge from triggered.
	ok, err := e.Transition(ctx, inst.ID, workflow.EventArtifactProduced, workflow.Meta{})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if ok {
		t.Error("invalid transition reported as applied")
	}
}

func TestTransitionNotFound(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Transition(ctx, id.NewInstanceID(), workflow.EventStart, workflow.Meta{})
	if !errors.Is(err, gatekit.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestConcurrentTransitionExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := workflow.NewEngine(s, nil, nil)

	inst, _ := e.Create(ctx, workflow.ModeProduceOnly, "t")

	// Move the instance out from under a second caller holding a stale
	// read: the engine re-reads per call, so simulate the race at the
	// store level instead.
	stale := inst.Clone()
	stale.Status = workflow.StatusProcessing
	if err := s.UpdateInstanceIf(ctx, stale, workflow.StatusTriggered); err != nil {
		t.Fatalf("seed race: %v", err)
	}

	ok, err := e.Transition(ctx, inst.ID, workflow.EventStart, workflow.Meta{})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if ok {
		t.Error("start applied twice")
	}
}
