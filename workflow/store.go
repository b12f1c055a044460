package workflow

import (
	"context"
	"time"

	"github.com/oramind/gatekit/id"
)

// ListOpts controls pagination for instance list queries.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
}

// Store defines the persistence contract for workflow instances.
type Store interface {
	// CreateInstance persists a new instance in triggered state.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance retrieves an instance by ID.
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)

	// UpdateInstanceIf persists changes to an instance only if its stored
	// status still equals from. Returns gatekit.ErrStaleState when another
	// writer got there first — this is the optimistic-concurrency primitive
	// every transition rides on.
	UpdateInstanceIf(ctx context.Context, inst *Instance, from Status) error

	// ListInstancesByStatus returns instances in the given status,
	// newest-first.
	ListInstancesByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Instance, error)

	// FindFailedRetryable returns non-aborted FAILED instances with
	// ErrorCount below maxErrors, newest-first, bounded by limit.
	FindFailedRetryable(ctx context.Context, maxErrors, limit int) ([]*Instance, error)

	// FindStuckInstances returns PROCESSING instances whose StartedAt is
	// before cutoff, oldest-first, bounded by limit. These are presumed
	// abandoned by a dead worker.
	FindStuckInstances(ctx context.Context, cutoff time.Time, limit int) ([]*Instance, error)
}
