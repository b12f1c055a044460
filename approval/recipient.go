package approval

import (
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// Recipient is a whitelist entry for a target that has received
// successful releases before. It accumulates evidence incrementally and
// serves as the fast-path input to known-good-target evaluation.
type Recipient struct {
	gatekit.Entity

	ID id.RecipientID `json:"id"`

	// Target is the canonical recipient address.
	Target string `json:"target"`

	// Domain is the target's domain portion, kept denormalized for
	// identity checks.
	Domain string `json:"domain"`

	TotalSends   int `json:"total_sends"`
	TotalReplies int `json:"total_replies"`

	FirstApprovedAt time.Time `json:"first_approved_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Clone returns a copy of the recipient.
func (r *Recipient) Clone() *Recipient {
	clone := *r
	return &clone
}
