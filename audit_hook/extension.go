package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/ext"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.WorkflowCreated      = (*Extension)(nil)
	_ ext.WorkflowTransitioned = (*Extension)(nil)
	_ ext.WorkflowCompleted    = (*Extension)(nil)
	_ ext.WorkflowFailed       = (*Extension)(nil)
	_ ext.RetryScheduled       = (*Extension)(nil)
	_ ext.RetrySucceeded       = (*Extension)(nil)
	_ ext.RetryExhausted       = (*Extension)(nil)
	_ ext.DecisionRecorded     = (*Extension)(nil)
	_ ext.SweepCompleted       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package stays free of any backend dependency —
// callers inject the concrete client at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the local representation of one audit record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Gatekit lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowCreated implements ext.WorkflowCreated.
func (e *Extension) OnWorkflowCreated(ctx context.Context, inst *workflow.Instance) error {
	return e.record(ctx, ActionWorkflowCreated, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, inst.ID.String(), CategoryWorkflow, nil,
		"mode", string(inst.Mode),
		"trigger_ref", inst.TriggerRef,
	)
}

// OnWorkflowTransitioned implements ext.WorkflowTransitioned.
func (e *Extension) OnWorkflowTransitioned(ctx context.Context, inst *workflow.Instance, event workflow.Event) error {
	return e.record(ctx, ActionWorkflowTransitioned, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, inst.ID.String(), CategoryWorkflow, nil,
		"event", string(event),
		"status", string(inst.Status),
	)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	return e.record(ctx, ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, inst.ID.String(), CategoryWorkflow, nil,
		"mode", string(inst.Mode),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, errMsg string) error {
	return e.record(ctx, ActionWorkflowFailed, SeverityCritical, OutcomeFailure,
		ResourceWorkflow, inst.ID.String(), CategoryWorkflow, nil,
		"error", errMsg,
		"error_count", inst.ErrorCount,
	)
}

// ── Retry lifecycle hooks ───────────────────────────

// OnRetryScheduled implements ext.RetryScheduled.
func (e *Extension) OnRetryScheduled(ctx context.Context, entry *retry.Entry) error {
	return e.record(ctx, ActionRetryScheduled, SeverityWarning, OutcomeFailure,
		ResourceRetry, entry.ID.String(), CategoryRetry, nil,
		"item_type", entry.ItemType,
		"attempt", entry.Attempts,
		"next_retry_at", entry.NextRetryAt.Format(time.RFC3339),
	)
}

// OnRetrySucceeded implements ext.RetrySucceeded.
func (e *Extension) OnRetrySucceeded(ctx context.Context, entry *retry.Entry) error {
	return e.record(ctx, ActionRetrySucceeded, SeverityInfo, OutcomeSuccess,
		ResourceRetry, entry.ID.String(), CategoryRetry, nil,
		"item_type", entry.ItemType,
		"attempt", entry.Attempts,
	)
}

// OnRetryExhausted implements ext.RetryExhausted.
func (e *Extension) OnRetryExhausted(ctx context.Context, entry *retry.Entry) error {
	return e.record(ctx, ActionRetryExhausted, SeverityCritical, OutcomeFailure,
		ResourceRetry, entry.ID.String(), CategoryRetry, nil,
		"item_type", entry.ItemType,
		"attempts", entry.Attempts,
		"max_attempts", entry.MaxAttempts,
		"last_error", entry.LastError,
	)
}

// ── Approval and sweep hooks ────────────────────────

// OnDecisionRecorded implements ext.DecisionRecorded.
func (e *Extension) OnDecisionRecorded(ctx context.Context, d *approval.Decision) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if d.Outcome != approval.OutcomeAutoApproved {
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionDecisionRecorded, severity, outcome,
		ResourceDecision, d.ID.String(), CategoryApproval, nil,
		"subject_id", d.SubjectID.String(),
		"decision", string(d.Outcome),
		"confidence", d.Confidence,
		"reasoning", d.Reasoning,
	)
}

// OnSweepCompleted implements ext.SweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, recovered, retried int) error {
	severity := SeverityInfo
	if recovered > 0 {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionSweepCompleted, severity, OutcomeSuccess,
		ResourceSweep, "", CategorySweep, nil,
		"recovered", recovered,
		"retried", retried,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
