package approval

import (
	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// RuleType identifies which predicate a rule applies.
type RuleType string

const (
	// RuleTypePriorPositiveInteraction matches when the target has a
	// recorded reply within a lookback window.
	RuleTypePriorPositiveInteraction RuleType = "prior_positive_interaction"

	// RuleTypeKnownGoodTarget matches when the target is whitelisted
	// with enough prior successful releases.
	RuleTypeKnownGoodTarget RuleType = "known_good_target"

	// RuleTypeHighConfidenceScore matches when the artifact score
	// clears a threshold and the destination domain checks out.
	RuleTypeHighConfidenceScore RuleType = "high_confidence_score"
)

// Rule is a named, ordered, enable-able release predicate.
type Rule struct {
	gatekit.Entity

	ID          id.RuleID `json:"id"`
	Type        RuleType  `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// Condition holds the typed parameters for this rule's predicate.
	// Its concrete type must correspond to Type.
	Condition Condition `json:"condition"`

	// Confidence is carried into the decision when this rule matches.
	Confidence float64 `json:"confidence"`

	Enabled bool `json:"enabled"`

	// Priority orders evaluation, lower first. Ties break by creation
	// order.
	Priority int `json:"priority"`
}

// Clone returns a copy of the rule.
func (r *Rule) Clone() *Rule {
	clone := *r
	return &clone
}
