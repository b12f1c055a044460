package retry

import (
	"context"
	"time"

	"github.com/oramind/gatekit/id"
)

// ListOpts controls pagination and filtering for retry list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// ItemType filters by item type. Empty means all types.
	ItemType string
}

// Store defines the persistence contract for retry entries.
type Store interface {
	// CreateRetry persists a new retry entry.
	CreateRetry(ctx context.Context, e *Entry) error

	// GetRetry retrieves a retry entry by ID.
	GetRetry(ctx context.Context, retryID id.RetryID) (*Entry, error)

	// UpdateRetryIf persists changes to an entry only if its stored status
	// still equals from. Returns gatekit.ErrStaleState when another worker
	// got there first, which is how two pollers racing on the same due
	// entry resolve to a single claim.
	UpdateRetryIf(ctx context.Context, e *Entry, from Status) error

	// ListDueRetries returns PENDING entries with NextRetryAt at or before
	// now, soonest-due first, bounded by limit.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// ListRetriesByStatus returns entries in the given status, newest-first.
	// This is the operator surface for inspecting dead letters.
	ListRetriesByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Entry, error)

	// CountRetries returns the number of entries in the given status.
	// An empty status counts everything.
	CountRetries(ctx context.Context, status Status) (int64, error)
}
