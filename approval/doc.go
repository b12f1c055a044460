// Package approval implements the release-gating rule engine: a
// deterministic, auditable evaluator that decides whether a produced
// artifact may be auto-released or must be queued for human review.
//
// Evaluation is pure predicate matching over typed rule conditions,
// first match wins in priority order, and every evaluation appends
// exactly one record to the append-only decision log.
package approval
