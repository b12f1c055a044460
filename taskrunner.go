package gatekit

import "context"

// TaskRunner is the asynchronous execution substrate that runs workflow
// step logic. It is an external collaborator: gatekit never executes step
// bodies itself, it only tracks their lifecycle.
//
// Implementations must deliver at-least-once: a submitted task may be
// executed more than once, so step logic has to be idempotent. Submit
// returns once the task is durably accepted, not once it has run.
type TaskRunner interface {
	// Submit hands a workflow instance to the execution substrate.
	// The taskType names the step logic to run; the payload carries
	// whatever the step needs to redo the work.
	Submit(ctx context.Context, taskType string, instanceID ID, payload []byte) error
}

// TaskRunnerFunc adapts a plain function to the TaskRunner interface.
type TaskRunnerFunc func(ctx context.Context, taskType string, instanceID ID, payload []byte) error

// Submit implements TaskRunner.
func (f TaskRunnerFunc) Submit(ctx context.Context, taskType string, instanceID ID, payload []byte) error {
	return f(ctx, taskType, instanceID, payload)
}
