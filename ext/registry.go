package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type workflowCreatedEntry struct {
	name string
	hook WorkflowCreated
}

type workflowTransitionedEntry struct {
	name string
	hook WorkflowTransitioned
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type retryScheduledEntry struct {
	name string
	hook RetryScheduled
}

type retrySucceededEntry struct {
	name string
	hook RetrySucceeded
}

type retryExhaustedEntry struct {
	name string
	hook RetryExhausted
}

type decisionRecordedEntry struct {
	name string
	hook DecisionRecorded
}

type sweepCompletedEntry struct {
	name string
	hook SweepCompleted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	workflowCreated      []workflowCreatedEntry
	workflowTransitioned []workflowTransitionedEntry
	workflowCompleted    []workflowCompletedEntry
	workflowFailed       []workflowFailedEntry
	retryScheduled       []retryScheduledEntry
	retrySucceeded       []retrySucceededEntry
	retryExhausted       []retryExhaustedEntry
	decisionRecorded     []decisionRecordedEntry
	sweepCompleted       []sweepCompletedEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WorkflowCreated); ok {
		r.workflowCreated = append(r.workflowCreated, workflowCreatedEntry{name, h})
	}
	if h, ok := e.(WorkflowTransitioned); ok {
		r.workflowTransitioned = append(r.workflowTransitioned, workflowTransitionedEntry{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, h})
	}
	if h, ok := e.(RetryScheduled); ok {
		r.retryScheduled = append(r.retryScheduled, retryScheduledEntry{name, h})
	}
	if h, ok := e.(RetrySucceeded); ok {
		r.retrySucceeded = append(r.retrySucceeded, retrySucceededEntry{name, h})
	}
	if h, ok := e.(RetryExhausted); ok {
		r.retryExhausted = append(r.retryExhausted, retryExhaustedEntry{name, h})
	}
	if h, ok := e.(DecisionRecorded); ok {
		r.decisionRecorded = append(r.decisionRecorded, decisionRecordedEntry{name, h})
	}
	if h, ok := e.(SweepCompleted); ok {
		r.sweepCompleted = append(r.sweepCompleted, sweepCompletedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowCreated notifies all extensions that implement WorkflowCreated.
func (r *Registry) EmitWorkflowCreated(ctx context.Context, inst *workflow.Instance) {
	for _, e := range r.workflowCreated {
		if err := e.hook.OnWorkflowCreated(ctx, inst); err != nil {
			r.logHookError("OnWorkflowCreated", e.name, err)
		}
	}
}

// EmitWorkflowTransitioned notifies all extensions that implement
// WorkflowTransitioned.
func (r *Registry) EmitWorkflowTransitioned(ctx context.Context, inst *workflow.Instance, event workflow.Event) {
	for _, e := range r.workflowTransitioned {
		if err := e.hook.OnWorkflowTransitioned(ctx, inst, event); err != nil {
			r.logHookError("OnWorkflowTransitioned", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement
// WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, inst, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, inst *workflow.Instance, errMsg string) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, inst, errMsg); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Retry event emitters
// ──────────────────────────────────────────────────

// EmitRetryScheduled notifies all extensions that implement RetryScheduled.
func (r *Registry) EmitRetryScheduled(ctx context.Context, entry *retry.Entry) {
	for _, e := range r.retryScheduled {
		if err := e.hook.OnRetryScheduled(ctx, entry); err != nil {
			r.logHookError("OnRetryScheduled", e.name, err)
		}
	}
}

// EmitRetrySucceeded notifies all extensions that implement RetrySucceeded.
func (r *Registry) EmitRetrySucceeded(ctx context.Context, entry *retry.Entry) {
	for _, e := range r.retrySucceeded {
		if err := e.hook.OnRetrySucceeded(ctx, entry); err != nil {
			r.logHookError("OnRetrySucceeded", e.name, err)
		}
	}
}

// EmitRetryExhausted notifies all extensions that implement RetryExhausted.
func (r *Registry) EmitRetryExhausted(ctx context.Context, entry *retry.Entry) {
	for _, e := range r.retryExhausted {
		if err := e.hook.OnRetryExhausted(ctx, entry); err != nil {
			r.logHookError("OnRetryExhausted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitDecisionRecorded notifies all extensions that implement
// DecisionRecorded.
func (r *Registry) EmitDecisionRecorded(ctx context.Context, d *approval.Decision) {
	for _, e := range r.decisionRecorded {
		if err := e.hook.OnDecisionRecorded(ctx, d); err != nil {
			r.logHookError("OnDecisionRecorded", e.name, err)
		}
	}
}

// EmitSweepCompleted notifies all extensions that implement SweepCompleted.
func (r *Registry) EmitSweepCompleted(ctx context.Context, recovered, retried int) {
	for _, e := range r.sweepCompleted {
		if err := e.hook.OnSweepCompleted(ctx, recovered, retried); err != nil {
			r.logHookError("OnSweepCompleted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the
// pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
