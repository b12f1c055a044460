package approval

import (
	"context"
	"time"

	"github.com/oramind/gatekit/id"
)

// RuleStore persists approval rules.
type RuleStore interface {
	// CreateRule persists a new rule.
	CreateRule(ctx context.Context, rule *Rule) error

	// GetRule returns a rule by ID.
	// Returns gatekit.ErrRuleNotFound when the rule does not exist.
	GetRule(ctx context.Context, ruleID id.RuleID) (*Rule, error)

	// ListEnabledRules returns all enabled rules ordered by priority
	// ascending, ties broken by creation time ascending.
	ListEnabledRules(ctx context.Context) ([]*Rule, error)

	// ListRules returns all rules regardless of enabled state, in the
	// same order as ListEnabledRules.
	ListRules(ctx context.Context) ([]*Rule, error)

	// SetRuleEnabled toggles a rule without rewriting its parameters.
	// Returns gatekit.ErrRuleNotFound when the rule does not exist.
	SetRuleEnabled(ctx context.Context, ruleID id.RuleID, enabled bool) error
}

// DecisionStore persists the append-only decision log. The interface
// deliberately exposes no update or delete operations; immutability is
// enforced at the type level, not by convention.
type DecisionStore interface {
	// AppendDecision writes one decision record.
	AppendDecision(ctx context.Context, d *Decision) error

	// ListDecisions returns decisions for a subject, newest first, up
	// to limit. A zero subject ID lists across all subjects.
	ListDecisions(ctx context.Context, subjectID id.ID, limit int) ([]*Decision, error)
}

// RecipientStore persists the approved-recipient whitelist.
type RecipientStore interface {
	// UpsertRecipient creates or replaces a recipient entry.
	UpsertRecipient(ctx context.Context, r *Recipient) error

	// GetRecipientByTarget returns the whitelist entry for a target
	// address. Returns gatekit.ErrRecipientNotFound when absent.
	GetRecipientByTarget(ctx context.Context, target string) (*Recipient, error)

	// IncrementRecipientCounters atomically adds to a recipient's send
	// and reply counters and bumps its last-activity time. Atomic
	// in-place increments tolerate concurrent evaluation calls.
	IncrementRecipientCounters(ctx context.Context, target string, sends, replies int, at time.Time) error
}
