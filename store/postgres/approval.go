package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/id"
)

// ──────────────────────────────────────────────────
// Rule Store
// ──────────────────────────────────────────────────

// CreateRule persists a new approval rule. Rule parameters are stored as
// a JSONB document keyed by the rule type.
func (s *Store) CreateRule(ctx context.Context, rule *approval.Rule) error {
	condition, err := approval.EncodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: encode rule condition: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO gatekit_rules (
			id, type, name, description, condition, confidence,
			enabled, priority, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rule.ID.String(), string(rule.Type), rule.Name, rule.Description,
		condition, rule.Confidence, rule.Enabled, rule.Priority,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gatekit.ErrDuplicateRule
		}
		return fmt.Errorf("gatekit/postgres: create rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, ruleID id.RuleID) (*approval.Rule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, type, name, description, condition, confidence,
			enabled, priority, created_at, updated_at
		FROM gatekit_rules
		WHERE id = $1`,
		ruleID.String(),
	)

	rule, err := scanRule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekit.ErrRuleNotFound
		}
		return nil, fmt.Errorf("gatekit/postgres: get rule: %w", err)
	}
	return rule, nil
}

// ListEnabledRules returns enabled rules ordered by priority, ties broken
// by creation time. This ordering makes evaluation deterministic.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*approval.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, type, name, description, condition, confidence,
			enabled, priority, created_at, updated_at
		FROM gatekit_rules
		WHERE enabled = TRUE
		ORDER BY priority ASC, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: list enabled rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListRules returns all rules in evaluation order regardless of enabled
// state.
func (s *Store) ListRules(ctx context.Context) ([]*approval.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, type, name, description, condition, confidence,
			enabled, priority, created_at, updated_at
		FROM gatekit_rules
		ORDER BY priority ASC, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// SetRuleEnabled toggles a rule without rewriting its parameters.
func (s *Store) SetRuleEnabled(ctx context.Context, ruleID id.RuleID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gatekit_rules SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		ruleID.String(), enabled,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: set rule enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekit.ErrRuleNotFound
	}
	return nil
}

// scanRule scans a single rule row and decodes its condition document.
func scanRule(row pgx.Row) (*approval.Rule, error) {
	var (
		rule      approval.Rule
		idStr     string
		typeStr   string
		condition []byte
	)
	err := row.Scan(
		&idStr, &typeStr, &rule.Name, &rule.Description, &condition,
		&rule.Confidence, &rule.Enabled, &rule.Priority,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Type = approval.RuleType(typeStr)

	parsedID, parseErr := id.ParseRuleID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekit/postgres: parse rule id %q: %w", idStr, parseErr)
	}
	rule.ID = parsedID

	cond, condErr := approval.DecodeCondition(rule.Type, condition)
	if condErr != nil {
		return nil, fmt.Errorf("gatekit/postgres: decode rule %s condition: %w", idStr, condErr)
	}
	rule.Condition = cond

	return &rule, nil
}

// collectRules collects all rules from query rows.
func collectRules(rows pgx.Rows) ([]*approval.Rule, error) {
	var rules []*approval.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("gatekit/postgres: scan rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekit/postgres: iterate rule rows: %w", err)
	}
	return rules, nil
}

// ──────────────────────────────────────────────────
// Decision Store
// ──────────────────────────────────────────────────

// AppendDecision writes one decision record. The table carries only
// INSERTs; nothing in this store ever updates or deletes a decision.
func (s *Store) AppendDecision(ctx context.Context, d *approval.Decision) error {
	var metadata []byte
	if d.Metadata != nil {
		var err error
		metadata, err = json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("gatekit/postgres: encode decision metadata: %w", err)
		}
	}

	var matchedRuleID any
	if d.MatchedRuleID != nil {
		matchedRuleID = d.MatchedRuleID.String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekit_decisions (
			id, subject_id, target_id, outcome, matched_rule_id,
			confidence, reasoning, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID.String(), sourceIDParam(d.SubjectID), sourceIDParam(d.TargetID),
		string(d.Outcome), matchedRuleID,
		d.Confidence, d.Reasoning, metadata, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: append decision: %w", err)
	}
	return nil
}

// ListDecisions returns decisions for a subject, newest first. A zero
// subject ID lists across all subjects.
func (s *Store) ListDecisions(ctx context.Context, subjectID id.ID, limit int) ([]*approval.Decision, error) {
	query := `
		SELECT
			id, subject_id, target_id, outcome, matched_rule_id,
			confidence, reasoning, metadata, created_at, updated_at
		FROM gatekit_decisions`
	args := []any{}
	argIdx := 1

	if !subjectID.IsNil() {
		query += fmt.Sprintf(" WHERE subject_id = $%d", argIdx)
		args = append(args, subjectID.String())
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*approval.Decision
	for rows.Next() {
		d, scanErr := scanDecision(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gatekit/postgres: scan decision row: %w", scanErr)
		}
		decisions = append(decisions, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekit/postgres: iterate decision rows: %w", err)
	}
	return decisions, nil
}

// scanDecision scans a single decision row.
func scanDecision(row pgx.Row) (*approval.Decision, error) {
	var (
		d          approval.Decision
		idStr      string
		subjectStr *string
		targetStr  *string
		outcomeStr string
		matchedStr *string
		metadata   []byte
	)
	err := row.Scan(
		&idStr, &subjectStr, &targetStr, &outcomeStr, &matchedStr,
		&d.Confidence, &d.Reasoning, &metadata, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Outcome = approval.Outcome(outcomeStr)

	parsedID, parseErr := id.ParseDecisionID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekit/postgres: parse decision id %q: %w", idStr, parseErr)
	}
	d.ID = parsedID

	if subjectStr != nil {
		if parsed, subErr := id.Parse(*subjectStr); subErr == nil {
			d.SubjectID = parsed
		}
	}
	if targetStr != nil {
		if parsed, tgtErr := id.Parse(*targetStr); tgtErr == nil {
			d.TargetID = parsed
		}
	}
	if matchedStr != nil {
		parsed, ruleErr := id.ParseRuleID(*matchedStr)
		if ruleErr != nil {
			return nil, fmt.Errorf("gatekit/postgres: parse matched rule id %q: %w", *matchedStr, ruleErr)
		}
		d.MatchedRuleID = &parsed
	}

	if len(metadata) > 0 {
		if unmarshalErr := json.Unmarshal(metadata, &d.Metadata); unmarshalErr != nil {
			return nil, fmt.Errorf("gatekit/postgres: decode decision metadata: %w", unmarshalErr)
		}
	}

	return &d, nil
}

// ──────────────────────────────────────────────────
// Recipient Store
// ──────────────────────────────────────────────────

// UpsertRecipient creates or replaces a whitelist entry keyed by target.
func (s *Store) UpsertRecipient(ctx context.Context, r *approval.Recipient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekit_recipients (
			id, target, domain, total_sends, total_replies,
			first_approved_at, last_activity_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (target) DO UPDATE SET
			domain = EXCLUDED.domain,
			total_sends = EXCLUDED.total_sends,
			total_replies = EXCLUDED.total_replies,
			first_approved_at = EXCLUDED.first_approved_at,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at = NOW()`,
		r.ID.String(), r.Target, r.Domain, r.TotalSends, r.TotalReplies,
		r.FirstApprovedAt, r.LastActivityAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: upsert recipient: %w", err)
	}
	return nil
}

// GetRecipientByTarget returns the whitelist entry for a target address.
func (s *Store) GetRecipientByTarget(ctx context.Context, target string) (*approval.Recipient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, target, domain, total_sends, total_replies,
			first_approved_at, last_activity_at, created_at, updated_at
		FROM gatekit_recipients
		WHERE target = $1`,
		target,
	)

	var (
		r     approval.Recipient
		idStr string
	)
	err := row.Scan(
		&idStr, &r.Target, &r.Domain, &r.TotalSends, &r.TotalReplies,
		&r.FirstApprovedAt, &r.LastActivityAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekit.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("gatekit/postgres: get recipient: %w", err)
	}

	parsedID, parseErr := id.ParseRecipientID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekit/postgres: parse recipient id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	return &r, nil
}

// IncrementRecipientCounters bumps send and reply counters with in-place
// SQL arithmetic, so concurrent evaluators never lose an increment.
func (s *Store) IncrementRecipientCounters(ctx context.Context, target string, sends, replies int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekit_recipients SET
			total_sends = total_sends + $2,
			total_replies = total_replies + $3,
			last_activity_at = GREATEST(last_activity_at, $4),
			updated_at = NOW()
		WHERE target = $1`,
		target, sends, replies, at,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: increment recipient counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekit.ErrRecipientNotFound
	}
	return nil
}
