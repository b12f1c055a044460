package retry

import (
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// Status represents the lifecycle state of a retry entry.
type Status string

const (
	// StatusPending means the entry is waiting for its next attempt.
	StatusPending Status = "pending"
	// StatusRetrying means a worker is executing an attempt right now.
	StatusRetrying Status = "retrying"
	// StatusSucceeded means an attempt finally worked. Terminal.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the attempt budget is exhausted. Terminal; the
	// entry is now a dead letter awaiting manual resolution.
	StatusFailed Status = "failed"
	// StatusAbandoned means an operator gave up on the entry. Terminal.
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether s is a resting state. Terminal entries are
// immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Entry represents one failed operation awaiting re-attempt.
type Entry struct {
	gatekit.Entity

	ID id.RetryID `json:"id"`

	// ItemType tags what kind of operation this is; it selects the
	// registered handler on re-attempt.
	ItemType string `json:"item_type"`

	// Payload carries enough data to redo the operation.
	Payload []byte `json:"payload"`

	// SourceID optionally references the entity the failed operation
	// belonged to (e.g. a workflow instance).
	SourceID id.ID `json:"source_id,omitempty"`

	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRetryAt time.Time `json:"next_retry_at"`

	LastError string `json:"last_error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// Terminal reports whether the entry has reached a final status.
func (e *Entry) Terminal() bool {
	return e.Status.Terminal()
}

// Retryable reports whether the entry can still be re-attempted.
func (e *Entry) Retryable() bool {
	return !e.Status.Terminal() && e.Attempts < e.MaxAttempts
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Payload != nil {
		clone.Payload = make([]byte, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}
