package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// DefaultRules returns the rule set installed at first boot: replies
// are the strongest evidence, then the whitelist, then scored artifacts
// with a verified domain.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			Entity:      gatekit.NewEntity(),
			ID:          id.NewRuleID(),
			Type:        RuleTypePriorPositiveInteraction,
			Name:        "replied recently",
			Description: "Target replied within the last 90 days.",
			Condition:   PriorPositiveInteraction{LookbackDays: 90, MinReplies: 1},
			Confidence:  0.95,
			Enabled:     true,
			Priority:    1,
		},
		{
			Entity:      gatekit.NewEntity(),
			ID:          id.NewRuleID(),
			Type:        RuleTypeKnownGoodTarget,
			Name:        "known good target",
			Description: "Target is whitelisted with prior successful releases.",
			Condition:   KnownGoodTarget{MinSends: 3},
			Confidence:  0.85,
			Enabled:     true,
			Priority:    2,
		},
		{
			Entity:      gatekit.NewEntity(),
			ID:          id.NewRuleID(),
			Type:        RuleTypeHighConfidenceScore,
			Name:        "high confidence score",
			Description: "Artifact score clears the threshold and the destination domain is verified.",
			Condition:   HighConfidenceScore{Threshold: 0.9},
			Confidence:  0.75,
			Enabled:     false,
			Priority:    3,
		},
	}
}

// Seed installs the default rules, skipping any that already exist.
// Returns how many rules were created.
func Seed(ctx context.Context, store RuleStore) (int, error) {
	existing, err := store.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}
	present := make(map[RuleType]bool, len(existing))
	for _, r := range existing {
		present[r.Type] = true
	}

	created := 0
	for _, rule := range DefaultRules() {
		if present[rule.Type] {
			continue
		}
		if err := store.CreateRule(ctx, rule); err != nil {
			if errors.Is(err, gatekit.ErrDuplicateRule) {
				continue
			}
			return created, fmt.Errorf("seed rule %q: %w", rule.Name, err)
		}
		created++
	}
	return created, nil
}
