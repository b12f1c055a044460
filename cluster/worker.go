package cluster

import (
	"time"

	"github.com/oramind/gatekit/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing retries.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight work but
	// not claiming new retries (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped heartbeating.
	WorkerDead WorkerState = "dead"
)

// Worker represents one gatekit instance in a shared-store deployment.
type Worker struct {
	ID       id.WorkerID `json:"id"`
	Hostname string      `json:"hostname"`

	// ItemTypes lists the retry item types this worker handles.
	ItemTypes []string `json:"item_types"`

	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`

	IsLeader    bool       `json:"is_leader"`
	LeaderUntil *time.Time `json:"leader_until,omitempty"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the worker.
func (w *Worker) Clone() *Worker {
	clone := *w
	if w.ItemTypes != nil {
		clone.ItemTypes = make([]string, len(w.ItemTypes))
		copy(clone.ItemTypes, w.ItemTypes)
	}
	if w.LeaderUntil != nil {
		until := *w.LeaderUntil
		clone.LeaderUntil = &until
	}
	return &clone
}
