// Package ext defines the extension system for Gatekit.
// Extensions are notified of lifecycle events (workflow transitioned,
// retry exhausted, decision recorded, etc.) and can react to them —
// logging, metrics, audit, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowCreated is called after a workflow instance is persisted in
// triggered state.
type WorkflowCreated interface {
	OnWorkflowCreated(ctx context.Context, inst *workflow.Instance) error
}

// WorkflowTransitioned is called after every applied state transition.
type WorkflowTransitioned interface {
	OnWorkflowTransitioned(ctx context.Context, inst *workflow.Instance, event workflow.Event) error
}

// WorkflowCompleted is called when an instance reaches completed.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error
}

// WorkflowFailed is called on every error transition.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, errMsg string) error
}

// ──────────────────────────────────────────────────
// Retry lifecycle hooks
// ──────────────────────────────────────────────────

// RetryScheduled is called when an entry is created or rescheduled for
// a future attempt.
type RetryScheduled interface {
	OnRetryScheduled(ctx context.Context, e *retry.Entry) error
}

// RetrySucceeded is called when an attempt succeeds.
type RetrySucceeded interface {
	OnRetrySucceeded(ctx context.Context, e *retry.Entry) error
}

// RetryExhausted is called when an entry burns its last attempt and is
// dead-lettered.
type RetryExhausted interface {
	OnRetryExhausted(ctx context.Context, e *retry.Entry) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// DecisionRecorded is called after each evaluation appends its decision
// to the audit log.
type DecisionRecorded interface {
	OnDecisionRecorded(ctx context.Context, d *approval.Decision) error
}

// SweepCompleted is called after each recovery sweep pass.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, recovered, retried int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
