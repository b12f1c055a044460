package approval

import (
	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// Outcome is the result of one evaluation.
type Outcome string

const (
	// OutcomeAutoApproved permits the artifact to proceed without
	// human review.
	OutcomeAutoApproved Outcome = "auto_approved"

	// OutcomeNeedsReview routes the artifact to a human operator.
	OutcomeNeedsReview Outcome = "needs_review"
)

// Decision is one append-only audit record of one evaluation call. Once
// written it is never mutated or deleted; the decision log is the system
// of record for why an artifact was released.
type Decision struct {
	gatekit.Entity

	ID id.DecisionID `json:"id"`

	// SubjectID identifies the artifact being gated.
	SubjectID id.ID `json:"subject_id"`

	// TargetID identifies the recipient or entity the artifact is for.
	TargetID id.ID `json:"target_id"`

	Outcome Outcome `json:"outcome"`

	// MatchedRuleID is set when a rule matched, nil otherwise.
	MatchedRuleID *id.RuleID `json:"matched_rule_id,omitempty"`

	Confidence float64 `json:"confidence"`

	// Reasoning is a human-readable explanation of the outcome.
	Reasoning string `json:"reasoning"`

	// Metadata carries evaluation context for later investigation.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the decision.
func (d *Decision) Clone() *Decision {
	clone := *d
	if d.MatchedRuleID != nil {
		ruleID := *d.MatchedRuleID
		clone.MatchedRuleID = &ruleID
	}
	if d.Metadata != nil {
		clone.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
