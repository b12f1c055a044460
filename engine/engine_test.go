package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/engine"
	"github.com/oramind/gatekit/ext"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/store/memory"
	"github.com/oramind/gatekit/workflow"
)

func newTestEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	c, err := gatekit.New(gatekit.WithStore(st))
	if err != nil {
		t.Fatalf("gatekit.New: %v", err)
	}
	eng, err := engine.Build(c, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, st
}

func mustTransition(t *testing.T, eng *engine.Engine, instID id.InstanceID, event workflow.Event, meta workflow.Meta) {
	t.Helper()
	applied, err := eng.TransitionWorkflow(context.Background(), instID, event, meta)
	if err != nil {
		t.Fatalf("transition %s: %v", event, err)
	}
	if !applied {
		t.Fatalf("transition %s was not applied", event)
	}
}

// ── Workflow lifecycle ──────────────────────────────

func TestProduceOnlyHappyPath(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	inst, err := eng.CreateWorkflow(ctx, workflow.ModeProduceOnly, "form-1")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if inst.Status != workflow.StatusTriggered {
		t.Fatalf("initial status = %q, want triggered", inst.Status)
	}

	mustTransition(t, eng, inst.ID, workflow.EventStart, workflow.Meta{})
	mustTransition(t, eng, inst.ID, workflow.EventArtifactProduced, workflow.Meta{})

	status, err := eng.GetWorkflowStatus(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflowStatus: %v", err)
	}
	if status != workflow.StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestFailureRecordsErrorAndAllowsRetry(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	inst, err := eng.CreateWorkflow(ctx, workflow.ModeProduceAndRelease, "form-2")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	mustTransition(t, eng, inst.ID, workflow.EventStart, workflow.Meta{})
	mustTransition(t, eng, inst.ID, workflow.EventError, workflow.Meta{Error: "generation failed"})

	got, err := eng.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ErrorCount != 1 || got.ErrorMessage != "generation failed" {
		t.Errorf("error state = (%d, %q)", got.ErrorCount, got.ErrorMessage)
	}

	mustTransition(t, eng, inst.ID, workflow.EventRetry, workflow.Meta{})
	status, _ := eng.GetWorkflowStatus(ctx, inst.ID)
	if status != workflow.StatusProcessing {
		t.Errorf("status after retry = %q, want processing", status)
	}
}

func TestInvalidTransitionIsNotApplied(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	inst, _ := eng.CreateWorkflow(ctx, workflow.ModeProduceOnly, "form-3")

	applied, err := eng.TransitionWorkflow(ctx, inst.ID, workflow.EventArtifactProduced, workflow.Meta{})
	if err != nil {
		t.Fatalf("invalid transition returned error: %v", err)
	}
	if applied {
		t.Fatal("artifact_produced applied from triggered state")
	}
}

// ── Retry subsystem ─────────────────────────────────

func TestEnqueueAndProcessRetry(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var processed atomic.Int32
	engine.Register(eng, &retry.Definition[map[string]string]{
		ItemType: "email.send",
		Handler: func(ctx context.Context, payload map[string]string) error {
			processed.Add(1)
			return nil
		},
	})

	entry, err := engine.EnqueueRetry(ctx, eng, "email.send", id.Nil,
		map[string]string{"to": "a@acme.io"}, "smtp timeout")
	if err != nil {
		t.Fatalf("EnqueueRetry: %v", err)
	}
	if entry.Attempts != 1 {
		t.Errorf("initial attempts = %d, want 1", entry.Attempts)
	}

	// Force the entry due and process it through the coordinator.
	if err := eng.ForceRetryNow(ctx, entry.ID); err != nil {
		t.Fatalf("ForceRetryNow: %v", err)
	}
	due, err := eng.ListDueRetries(ctx, 10)
	if err != nil {
		t.Fatalf("ListDueRetries: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due entries = %d, want 1", len(due))
	}
	if err := eng.Retries().Process(ctx, entry.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if processed.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", processed.Load())
	}

	got, _ := eng.Retries().Get(ctx, entry.ID)
	if got.Status != retry.StatusSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
}

func TestExhaustedRetryBecomesDeadLetter(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	engine.Register(eng, &retry.Definition[map[string]string]{
		ItemType: "email.send",
		Handler: func(ctx context.Context, payload map[string]string) error {
			return errors.New("still broken")
		},
	})

	entry, err := engine.EnqueueRetry(ctx, eng, "email.send", id.Nil,
		map[string]string{"to": "a@acme.io"}, "smtp timeout")
	if err != nil {
		t.Fatalf("EnqueueRetry: %v", err)
	}

	// Burn through the attempt budget.
	for range 2 {
		if err := eng.ForceRetryNow(ctx, entry.ID); err != nil {
			t.Fatalf("ForceRetryNow: %v", err)
		}
		if err := eng.Retries().Process(ctx, entry.ID); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	got, _ := eng.Retries().Get(ctx, entry.ID)
	if got.Status != retry.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}

	dead, err := eng.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != entry.ID {
		t.Fatalf("dead letters = %v", dead)
	}

	if err := eng.ForceRetryNow(ctx, entry.ID); !errors.Is(err, gatekit.ErrNotRetryable) {
		t.Errorf("ForceRetryNow on dead letter = %v, want ErrNotRetryable", err)
	}
}

func TestAbandonRetry(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := eng.EnqueueRetryRaw(ctx, "email.send", id.Nil, []byte(`{}`), "boom")
	if err != nil {
		t.Fatalf("EnqueueRetryRaw: %v", err)
	}
	if err := eng.AbandonRetry(ctx, entry.ID); err != nil {
		t.Fatalf("AbandonRetry: %v", err)
	}
	got, _ := eng.Retries().Get(ctx, entry.ID)
	if got.Status != retry.StatusAbandoned {
		t.Errorf("status = %q, want abandoned", got.Status)
	}
}

// ── Approval subsystem ──────────────────────────────

func TestEvaluateArtifactKnownGoodTarget(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.SeedDefaultRules(ctx); err != nil {
		t.Fatalf("SeedDefaultRules: %v", err)
	}

	// Whitelist the target with enough prior sends.
	now := time.Now().UTC()
	err := st.UpsertRecipient(ctx, &approval.Recipient{
		Entity:          gatekit.NewEntity(),
		ID:              id.NewRecipientID(),
		Target:          "buyer@acme.io",
		Domain:          "acme.io",
		TotalSends:      5,
		TotalReplies:    2,
		FirstApprovedAt: now.Add(-30 * 24 * time.Hour),
		LastActivityAt:  now,
	})
	if err != nil {
		t.Fatalf("UpsertRecipient: %v", err)
	}

	d, err := eng.EvaluateArtifact(ctx, id.NewInstanceID(), id.NewRecipientID(), approval.Artifact{
		Target: "buyer@acme.io",
		Score:  0.5,
	})
	if err != nil {
		t.Fatalf("EvaluateArtifact: %v", err)
	}
	if d.Outcome != approval.OutcomeAutoApproved {
		t.Errorf("outcome = %q (%s), want auto_approved", d.Outcome, d.Reasoning)
	}
	if d.MatchedRuleID == nil {
		t.Error("matched rule ID not set")
	}
}

func TestReleaseGateKillSwitch(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.SeedDefaultRules(ctx); err != nil {
		t.Fatalf("SeedDefaultRules: %v", err)
	}

	eng.SetReleaseGate(false)
	if eng.ReleaseGateEnabled() {
		t.Fatal("gate still enabled after SetReleaseGate(false)")
	}

	d, err := eng.EvaluateArtifact(ctx, id.NewInstanceID(), id.NewRecipientID(), approval.Artifact{
		Target: "buyer@acme.io",
		Score:  0.99,
	})
	if err != nil {
		t.Fatalf("EvaluateArtifact: %v", err)
	}
	if d.Outcome != approval.OutcomeNeedsReview {
		t.Errorf("outcome with gate off = %q, want needs_review", d.Outcome)
	}
}

func TestBuildWithGateDisabled(t *testing.T) {
	eng, _ := newTestEngine(t, engine.WithGateDisabled())
	if eng.ReleaseGateEnabled() {
		t.Fatal("gate enabled despite WithGateDisabled")
	}
}

func TestToggleRule(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.SeedDefaultRules(ctx); err != nil {
		t.Fatalf("SeedDefaultRules: %v", err)
	}
	rules, err := st.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("no seeded rules")
	}

	target := rules[0]
	if err := eng.ToggleRule(ctx, target.ID, !target.Enabled); err != nil {
		t.Fatalf("ToggleRule: %v", err)
	}
	got, _ := st.GetRule(ctx, target.ID)
	if got.Enabled == target.Enabled {
		t.Error("rule enabled state unchanged")
	}

	if err := eng.ToggleRule(ctx, id.NewRuleID(), true); !errors.Is(err, gatekit.ErrRuleNotFound) {
		t.Errorf("ToggleRule on missing rule = %v, want ErrRuleNotFound", err)
	}
}

// ── Sweep subsystem ─────────────────────────────────

func TestSweepStuckWorkflows(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	// A stuck instance: processing, started long ago.
	stuck, _ := eng.CreateWorkflow(ctx, workflow.ModeProduceOnly, "form-stuck")
	mustTransition(t, eng, stuck.ID, workflow.EventStart, workflow.Meta{})
	aged, _ := st.GetInstance(ctx, stuck.ID)
	aged.StartedAt = time.Now().Add(-2 * time.Hour)
	if err := st.UpdateInstanceIf(ctx, aged, workflow.StatusProcessing); err != nil {
		t.Fatalf("age instance: %v", err)
	}

	res, err := eng.SweepStuckWorkflows(ctx)
	if err != nil {
		t.Fatalf("SweepStuckWorkflows: %v", err)
	}
	if res.Recovered != 1 {
		t.Fatalf("recovered = %d, want 1", res.Recovered)
	}
	// The same pass re-drives the now-failed instance.
	if res.Retried != 1 {
		t.Fatalf("retried = %d, want 1", res.Retried)
	}

	got, _ := eng.GetWorkflow(ctx, stuck.ID)
	if got.Status != workflow.StatusProcessing {
		t.Errorf("status after sweep = %q, want processing (re-driven)", got.Status)
	}
	if got.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", got.ErrorCount)
	}
}

// ── Lifecycle and hooks ─────────────────────────────

type recordingExt struct {
	created   atomic.Int32
	decisions atomic.Int32
	shutdown  atomic.Int32
}

func (*recordingExt) Name() string { return "recording" }

func (r *recordingExt) OnWorkflowCreated(context.Context, *workflow.Instance) error {
	r.created.Add(1)
	return nil
}

func (r *recordingExt) OnDecisionRecorded(context.Context, *approval.Decision) error {
	r.decisions.Add(1)
	return nil
}

func (r *recordingExt) OnShutdown(context.Context) error {
	r.shutdown.Add(1)
	return nil
}

var (
	_ ext.WorkflowCreated  = (*recordingExt)(nil)
	_ ext.DecisionRecorded = (*recordingExt)(nil)
	_ ext.Shutdown         = (*recordingExt)(nil)
)

func TestExtensionsReceiveLifecycleEvents(t *testing.T) {
	rec := &recordingExt{}
	eng, _ := newTestEngine(t, engine.WithExtension(rec))
	ctx := context.Background()

	if _, err := eng.CreateWorkflow(ctx, workflow.ModeProduceOnly, "form-ext"); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if rec.created.Load() != 1 {
		t.Errorf("workflow created hooks = %d, want 1", rec.created.Load())
	}

	if _, err := eng.EvaluateArtifact(ctx, id.NewInstanceID(), id.Nil, approval.Artifact{
		Target: "x@y.io",
	}); err != nil {
		t.Fatalf("EvaluateArtifact: %v", err)
	}
	if rec.decisions.Load() != 1 {
		t.Errorf("decision hooks = %d, want 1", rec.decisions.Load())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	rec := &recordingExt{}
	eng, _ := newTestEngine(t, engine.WithExtension(rec))
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.shutdown.Load() != 1 {
		t.Errorf("shutdown hooks = %d, want 1", rec.shutdown.Load())
	}
}
