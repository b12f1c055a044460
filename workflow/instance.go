package workflow

import (
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// Mode distinguishes what a workflow run is expected to deliver.
type Mode string

const (
	// ModeProduceOnly means the workflow ends once the artifact is produced;
	// release is someone else's problem.
	ModeProduceOnly Mode = "produce_only"
	// ModeProduceAndRelease means the workflow ends only after the artifact
	// has been released (auto-approved or manually cleared).
	ModeProduceAndRelease Mode = "produce_and_release"
)

// Instance represents one run of the triggered business process.
// Instances are never physically deleted; a failed run may be superseded
// by a retried sibling but both remain for audit.
type Instance struct {
	gatekit.Entity

	ID     id.InstanceID `json:"id"`
	Mode   Mode          `json:"mode"`
	Status Status        `json:"status"`

	// TriggerRef is the foreign reference to the input that started this run.
	TriggerRef string `json:"trigger_ref,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCount   int    `json:"error_count"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the instance has reached a terminal resting
// point: COMPLETED, or FAILED that has been explicitly aborted.
func (i *Instance) Terminal() bool {
	return i.CompletedAt != nil
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	clone := *i
	if i.CompletedAt != nil {
		at := *i.CompletedAt
		clone.CompletedAt = &at
	}
	return &clone
}
