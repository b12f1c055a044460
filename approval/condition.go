package approval

import (
	"encoding/json"
	"fmt"
)

// Condition is the sealed set of typed rule parameters. Each rule type
// has exactly one condition variant; rules never carry free-form
// condition blobs.
type Condition interface {
	// RuleType reports which rule type this condition parameterizes.
	RuleType() RuleType
}

// PriorPositiveInteraction parameterizes the prior-positive-interaction
// rule: the target must have at least MinReplies recorded replies within
// the last LookbackDays days.
type PriorPositiveInteraction struct {
	LookbackDays int `json:"lookback_days"`
	MinReplies   int `json:"min_replies"`
}

func (PriorPositiveInteraction) RuleType() RuleType { return RuleTypePriorPositiveInteraction }

// KnownGoodTarget parameterizes the known-good-target rule: the target
// must be whitelisted with at least MinSends prior successful releases.
type KnownGoodTarget struct {
	MinSends int `json:"min_sends"`
}

func (KnownGoodTarget) RuleType() RuleType { return RuleTypeKnownGoodTarget }

// HighConfidenceScore parameterizes the high-confidence-score rule: the
// artifact score must be at least Threshold AND the artifact's
// destination domain must match its expected domain. The domain check is
// mandatory so a high score alone can never release to the wrong target.
type HighConfidenceScore struct {
	Threshold float64 `json:"threshold"`
}

func (HighConfidenceScore) RuleType() RuleType { return RuleTypeHighConfidenceScore }

// DecodeCondition decodes the JSON parameters for the given rule type
// into its typed condition variant. Used by storage backends when
// loading rules; conditions are decoded once at load, never
// re-interpreted per evaluation.
func DecodeCondition(ruleType RuleType, raw []byte) (Condition, error) {
	switch ruleType {
	case RuleTypePriorPositiveInteraction:
		var c PriorPositiveInteraction
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", ruleType, err)
		}
		return c, nil
	case RuleTypeKnownGoodTarget:
		var c KnownGoodTarget
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", ruleType, err)
		}
		return c, nil
	case RuleTypeHighConfidenceScore:
		var c HighConfidenceScore
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", ruleType, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
}

// EncodeCondition encodes a typed condition to JSON for storage.
func EncodeCondition(c Condition) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s condition: %w", c.RuleType(), err)
	}
	return raw, nil
}
