// Package audithook is a Gatekit extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Workflow, retry, decision, and sweep hooks each emit a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for reschedules, critical
// for terminal failures and dead letters) and rich metadata (trigger
// reference, item type, attempt counts, errors).
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionWorkflowFailed,
//	        audithook.ActionRetryExhausted,
//	    ),
//	)
package audithook
