package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/ext"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// recorder implements every hook and records invocations.
type recorder struct {
	name   string
	events []string
	fail   bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) note(event string) error {
	r.events = append(r.events, event)
	if r.fail {
		return errors.New("hook failure")
	}
	return nil
}

func (r *recorder) OnWorkflowCreated(_ context.Context, _ *workflow.Instance) error {
	return r.note("workflow_created")
}

func (r *recorder) OnWorkflowTransitioned(_ context.Context, _ *workflow.Instance, _ workflow.Event) error {
	return r.note("workflow_transitioned")
}

func (r *recorder) OnWorkflowCompleted(_ context.Context, _ *workflow.Instance, _ time.Duration) error {
	return r.note("workflow_completed")
}

func (r *recorder) OnWorkflowFailed(_ context.Context, _ *workflow.Instance, _ string) error {
	return r.note("workflow_failed")
}

func (r *recorder) OnRetryScheduled(_ context.Context, _ *retry.Entry) error {
	return r.note("retry_scheduled")
}

func (r *recorder) OnRetrySucceeded(_ context.Context, _ *retry.Entry) error {
	return r.note("retry_succeeded")
}

func (r *recorder) OnRetryExhausted(_ context.Context, _ *retry.Entry) error {
	return r.note("retry_exhausted")
}

func (r *recorder) OnDecisionRecorded(_ context.Context, _ *approval.Decision) error {
	return r.note("decision_recorded")
}

func (r *recorder) OnSweepCompleted(_ context.Context, _, _ int) error {
	return r.note("sweep_completed")
}

func (r *recorder) OnShutdown(_ context.Context) error {
	return r.note("shutdown")
}

// created implements only the WorkflowCreated hook.
type created struct {
	count int
}

func (c *created) Name() string { return "created-only" }

func (c *created) OnWorkflowCreated(_ context.Context, _ *workflow.Instance) error {
	c.count++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInstance() *workflow.Instance {
	return &workflow.Instance{
		Entity: gatekit.NewEntity(),
		ID:     id.NewInstanceID(),
		Mode:   workflow.ModeProduceOnly,
		Status: workflow.StatusTriggered,
	}
}

func TestRegistryDispatchesAllHooks(t *testing.T) {
	ctx := context.Background()
	r := ext.NewRegistry(testLogger())
	rec := &recorder{name: "recorder"}
	r.Register(rec)

	inst := testInstance()
	entry := &retry.Entry{Entity: gatekit.NewEntity(), ID: id.NewRetryID(), ItemType: "email_send"}

	r.EmitWorkflowCreated(ctx, inst)
	r.EmitWorkflowTransitioned(ctx, inst, workflow.EventStart)
	r.EmitWorkflowCompleted(ctx, inst, time.Second)
	r.EmitWorkflowFailed(ctx, inst, "boom")
	r.EmitRetryScheduled(ctx, entry)
	r.EmitRetrySucceeded(ctx, entry)
	r.EmitRetryExhausted(ctx, entry)
	r.EmitDecisionRecorded(ctx, &approval.Decision{ID: id.NewDecisionID()})
	r.EmitSweepCompleted(ctx, 1, 2)
	r.EmitShutdown(ctx)

	want := []string{
		"workflow_created", "workflow_transitioned", "workflow_completed",
		"workflow_failed", "retry_scheduled", "retry_succeeded",
		"retry_exhausted", "decision_recorded", "sweep_completed", "shutdown",
	}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", rec.events, want)
		}
	}
}

func TestRegistryOnlyNotifiesImplementedHooks(t *testing.T) {
	ctx := context.Background()
	r := ext.NewRegistry(testLogger())
	c := &created{}
	r.Register(c)

	r.EmitWorkflowCreated(ctx, testInstance())
	r.EmitShutdown(ctx) // not implemented, must be a no-op

	if c.count != 1 {
		t.Errorf("count = %d, want 1", c.count)
	}
}

func TestHookErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	r := ext.NewRegistry(testLogger())
	failing := &recorder{name: "failing", fail: true}
	healthy := &recorder{name: "healthy"}
	r.Register(failing)
	r.Register(healthy)

	r.EmitWorkflowCreated(ctx, testInstance())

	// The failing hook must not stop the healthy one.
	if len(healthy.events) != 1 {
		t.Errorf("healthy hook events = %d, want 1", len(healthy.events))
	}
}

func TestExtensionsListedInRegistrationOrder(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	r.Register(a)
	r.Register(b)

	exts := r.Extensions()
	if len(exts) != 2 || exts[0].Name() != "a" || exts[1].Name() != "b" {
		t.Errorf("extensions not in registration order")
	}
}
