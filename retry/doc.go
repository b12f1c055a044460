// Package retry owns the bounded-backoff retry queue.
//
// When an operation fails and is deemed retryable, the Coordinator records
// an Entry with enough payload to redo the work, then re-attempts it on a
// fixed escalation schedule (1m → 5m → 30m by default) until it succeeds,
// exhausts its attempt budget, or an operator abandons it. Exhausted
// entries are the dead letters: they stay queryable for manual resolution
// but are never re-attempted automatically.
//
// Handlers MUST be idempotent. Re-invocation is guaranteed at-least-once,
// not prevented: a crash between marking an entry RETRYING and finishing
// the handler leaves the entry retryable on the next poll.
package retry
