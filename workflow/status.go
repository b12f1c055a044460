package workflow

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusTriggered means the trigger has been ingested but no worker
	// has picked the instance up yet.
	StatusTriggered Status = "triggered"
	// StatusProcessing means a worker is executing the workflow steps.
	StatusProcessing Status = "processing"
	// StatusCompleted means the workflow finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the last attempt errored. Non-terminal: a retry
	// event moves the instance back to processing; an abort event pins it
	// down for good.
	StatusFailed Status = "failed"
)

// Event is a stimulus applied to an instance's state machine.
type Event string

const (
	// EventStart moves a triggered instance into processing.
	EventStart Event = "start"
	// EventError records a step failure.
	EventError Event = "error"
	// EventArtifactProduced completes a produce-only workflow.
	EventArtifactProduced Event = "artifact_produced"
	// EventArtifactReleased completes a produce-and-release workflow.
	EventArtifactReleased Event = "artifact_released"
	// EventRetry re-enters processing from failed.
	EventRetry Event = "retry"
	// EventAbort marks a failed instance as terminally abandoned.
	EventAbort Event = "abort"
)

// edge is one row of the transition table.
type edge struct {
	from  Status
	event Event
}

// transitions is the complete transition table. Any (status, event) pair
// not present here is an invalid transition.
//
// The two artifact events additionally require a matching mode; see
// eventAllowedForMode.
var transitions = map[edge]Status{
	{StatusTriggered, EventStart}:             StatusProcessing,
	{StatusTriggered, EventError}:             StatusFailed,
	{StatusProcessing, EventArtifactProduced}: StatusCompleted,
	{StatusProcessing, EventArtifactReleased}: StatusCompleted,
	{StatusProcessing, EventError}:            StatusFailed,
	{StatusFailed, EventRetry}:                StatusProcessing,
	{StatusFailed, EventAbort}:                StatusFailed,
}

// Next returns the target status for applying event to from, and whether
// the edge exists in the transition table at all.
func Next(from Status, event Event) (Status, bool) {
	to, ok := transitions[edge{from, event}]
	return to, ok
}

// eventAllowedForMode gates the two completion events on the instance
// mode: produce-only workflows complete on artifact_produced,
// produce-and-release workflows complete on artifact_released.
func eventAllowedForMode(event Event, mode Mode) bool {
	switch event {
	case EventArtifactProduced:
		return mode == ModeProduceOnly
	case EventArtifactReleased:
		return mode == ModeProduceAndRelease
	default:
		return true
	}
}

// terminalEvent reports whether applying this event stamps CompletedAt.
// Abort is included: an aborted instance stays failed but is terminal.
func terminalEvent(event Event) bool {
	switch event {
	case EventArtifactProduced, EventArtifactReleased, EventAbort:
		return true
	default:
		return false
	}
}
