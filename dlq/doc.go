// Package dlq is the operator surface for dead-lettered retry entries.
//
// There is no separate dead-letter table: an entry that exhausts its
// attempt budget stays in the retry store with status FAILED, and an
// operator-dropped entry stays with status ABANDONED. This package
// wraps those terminal entries with inspection and replay operations.
//
// # Service
//
//	svc := dlq.NewService(store, coordinator, logger)
//
//	// Inspect exhausted entries, newest first.
//	dead, _ := svc.List(ctx, 50)
//	n, _ := svc.Count(ctx)
//
//	// Re-enqueue one entry as a fresh, immediately-due retry.
//	fresh, _ := svc.Replay(ctx, dead[0].ID)
//
// Replay never mutates the dead entry: it remains in place as the
// record of the original exhaustion, and the replacement entry starts
// its own attempt budget from scratch.
package dlq
