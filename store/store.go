// Package store defines the aggregate persistence interface. Each
// subsystem (workflow, retry, approval, cluster) defines its own store
// interface; the composite Store composes them all. Backends: Postgres
// and Memory.
package store

import (
	"context"

	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/cluster"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	workflow.Store
	retry.Store
	approval.RuleStore
	approval.DecisionStore
	approval.RecipientStore
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
