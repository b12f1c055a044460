package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oramind/gatekit/approval"
	ah "github.com/oramind/gatekit/audit_hook"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestInstance() *workflow.Instance {
	return &workflow.Instance{
		ID:         id.NewInstanceID(),
		Mode:       workflow.ModeProduceAndRelease,
		Status:     workflow.StatusProcessing,
		TriggerRef: "form-submission-42",
		ErrorCount: 1,
	}
}

func newTestEntry() *retry.Entry {
	return &retry.Entry{
		ID:          id.NewRetryID(),
		ItemType:    "email.send",
		Status:      retry.StatusPending,
		Attempts:    2,
		MaxAttempts: 3,
		NextRetryAt: time.Now().Add(5 * time.Minute),
		LastError:   "connection refused",
	}
}

// ── Tests ────────────────────────────────────────────

func TestWorkflowFailedEventIsCritical(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	inst := newTestInstance()
	if err := e.OnWorkflowFailed(context.Background(), inst, "pipeline exploded"); err != nil {
		t.Fatalf("OnWorkflowFailed: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no audit event recorded")
	}
	if evt.Action != ah.ActionWorkflowFailed {
		t.Errorf("action = %q, want %q", evt.Action, ah.ActionWorkflowFailed)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("severity = %q, want %q", evt.Severity, ah.SeverityCritical)
	}
	if evt.ResourceID != inst.ID.String() {
		t.Errorf("resource id = %q, want %q", evt.ResourceID, inst.ID.String())
	}
	if evt.Metadata["error"] != "pipeline exploded" {
		t.Errorf("metadata error = %v, want %q", evt.Metadata["error"], "pipeline exploded")
	}
}

func TestRetryExhaustedCarriesAttemptCounts(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	entry := newTestEntry()
	entry.Attempts = 3
	if err := e.OnRetryExhausted(context.Background(), entry); err != nil {
		t.Fatalf("OnRetryExhausted: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("severity = %q, want critical", evt.Severity)
	}
	if evt.Metadata["attempts"] != 3 {
		t.Errorf("metadata attempts = %v, want 3", evt.Metadata["attempts"])
	}
	if evt.Metadata["last_error"] != "connection refused" {
		t.Errorf("metadata last_error = %v", evt.Metadata["last_error"])
	}
}

func TestDecisionOutcomeMapping(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	d := &approval.Decision{
		ID:        id.NewDecisionID(),
		SubjectID: id.NewInstanceID(),
		Outcome:   approval.OutcomeNeedsReview,
		Reasoning: "no rule matched",
	}
	if err := e.OnDecisionRecorded(context.Background(), d); err != nil {
		t.Fatalf("OnDecisionRecorded: %v", err)
	}
	if rec.last().Outcome != ah.OutcomeFailure {
		t.Errorf("needs_review outcome = %q, want failure", rec.last().Outcome)
	}

	d.Outcome = approval.OutcomeAutoApproved
	if err := e.OnDecisionRecorded(context.Background(), d); err != nil {
		t.Fatalf("OnDecisionRecorded: %v", err)
	}
	if rec.last().Outcome != ah.OutcomeSuccess {
		t.Errorf("auto_approved outcome = %q, want success", rec.last().Outcome)
	}
}

func TestWithActionsFiltersEvents(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionRetryExhausted))

	inst := newTestInstance()
	if err := e.OnWorkflowCreated(context.Background(), inst); err != nil {
		t.Fatalf("OnWorkflowCreated: %v", err)
	}
	if err := e.OnWorkflowCompleted(context.Background(), inst, time.Second); err != nil {
		t.Fatalf("OnWorkflowCompleted: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("filtered actions recorded %d events, want 0", rec.count())
	}

	if err := e.OnRetryExhausted(context.Background(), newTestEntry()); err != nil {
		t.Fatalf("OnRetryExhausted: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("enabled action recorded %d events, want 1", rec.count())
	}
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	e := ah.New(ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit backend down")
	}))

	if err := e.OnSweepCompleted(context.Background(), 2, 1); err != nil {
		t.Fatalf("OnSweepCompleted returned recorder error: %v", err)
	}
}

func TestAllActionsCoversEveryConstant(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 9 {
		t.Fatalf("AllActions returned %d actions, want 9", len(actions))
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a] {
			t.Errorf("duplicate action %q", a)
		}
		seen[a] = true
	}
}
