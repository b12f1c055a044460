package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionWorkflowCreated      = "workflow.created"
	ActionWorkflowTransitioned = "workflow.transitioned"
	ActionWorkflowCompleted    = "workflow.completed"
	ActionWorkflowFailed       = "workflow.failed"
	ActionRetryScheduled       = "retry.scheduled"
	ActionRetrySucceeded       = "retry.succeeded"
	ActionRetryExhausted       = "retry.exhausted"
	ActionDecisionRecorded     = "decision.recorded"
	ActionSweepCompleted       = "sweep.completed"
)

// Audit event categories group related actions.
const (
	CategoryWorkflow = "gatekit.workflow"
	CategoryRetry    = "gatekit.retry"
	CategoryApproval = "gatekit.approval"
	CategorySweep    = "gatekit.sweep"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceWorkflow = "workflow_instance"
	ResourceRetry    = "retry_entry"
	ResourceDecision = "decision"
	ResourceSweep    = "sweep"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionWorkflowCreated,
		ActionWorkflowTransitioned,
		ActionWorkflowCompleted,
		ActionWorkflowFailed,
		ActionRetryScheduled,
		ActionRetrySucceeded,
		ActionRetryExhausted,
		ActionDecisionRecorded,
		ActionSweepCompleted,
	}
}
