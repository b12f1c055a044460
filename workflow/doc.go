// Package workflow owns the workflow instance finite state machine.
//
// An Instance tracks one run of the triggered business process through the
// states TRIGGERED → PROCESSING → COMPLETED, with FAILED as a non-terminal
// detour that accepts a retry event. Every state change goes through the
// transition table; there is no other mutation path.
//
// # Concurrency
//
// Each transition is a single conditional update against the store: the
// Engine reads the instance, validates the event against the current
// state's outgoing edges, and writes back only if the stored status is
// unchanged. Two concurrent callers racing on the same instance resolve
// safely — exactly one wins, the other observes a stale-state rejection
// and must re-read. Invalid transitions are a normal occurrence under
// concurrent retries and are reported as a false result, never a panic
// or error.
package workflow
