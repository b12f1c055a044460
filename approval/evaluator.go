package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// Artifact is the evaluation context for one candidate artifact.
type Artifact struct {
	// Target is the destination address the artifact would be
	// released to.
	Target string

	// Domain is the destination's domain. Derived from Target when
	// empty.
	Domain string

	// ExpectedDomain is the domain the artifact was produced for.
	// The high-confidence-score rule requires Domain to match it.
	ExpectedDomain string

	// Score is the artifact's confidence score in [0, 1], if any.
	Score float64

	// Metadata is carried verbatim into the decision log.
	Metadata map[string]any
}

// Emitter publishes evaluation events to registered hooks.
type Emitter interface {
	EmitDecisionRecorded(ctx context.Context, d *Decision)
}

// NopEmitter discards all evaluation events.
type NopEmitter struct{}

func (NopEmitter) EmitDecisionRecorded(context.Context, *Decision) {}

// Evaluator decides whether an artifact may be auto-released. It reads
// rules and recipients, never mutates them (except atomic recipient
// counter bumps performed elsewhere), and owns all decision-log writes.
type Evaluator struct {
	rules      RuleStore
	decisions  DecisionStore
	recipients RecipientStore
	gate       *Gate
	cache      InteractionCache
	source     InteractionSource
	emitter    Emitter
	logger     *slog.Logger

	// sourceTimeout bounds each external-source lookup.
	sourceTimeout time.Duration
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	// Cache is the optional fast-path reply lookup.
	Cache InteractionCache

	// Source is the optional authoritative reply lookup.
	Source InteractionSource

	// SourceTimeout bounds each Source call. Defaults to 5s.
	SourceTimeout time.Duration

	// Emitter receives decision events. Defaults to NopEmitter.
	Emitter Emitter

	// Logger for evaluation activity. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewEvaluator creates a rule evaluator. The gate is required; rules,
// decisions and recipients are the store surfaces it reads and writes.
func NewEvaluator(rules RuleStore, decisions DecisionStore, recipients RecipientStore, gate *Gate, cfg EvaluatorConfig) *Evaluator {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 5 * time.Second
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Evaluator{
		rules:         rules,
		decisions:     decisions,
		recipients:    recipients,
		gate:          gate,
		cache:         cfg.Cache,
		source:        cfg.Source,
		emitter:       cfg.Emitter,
		logger:        cfg.Logger,
		sourceTimeout: cfg.SourceTimeout,
	}
}

// Evaluate decides auto-approve vs needs-review for one artifact.
//
// Rules are evaluated in priority order, first match wins. Every call
// appends exactly one decision-log record before returning, regardless
// of outcome. Internal errors degrade the outcome to needs-review
// rather than failing the caller; only a decision-log write failure is
// returned as an error.
func (ev *Evaluator) Evaluate(ctx context.Context, subjectID, targetID id.ID, artifact Artifact) (*Decision, error) {
	if artifact.Domain == "" {
		artifact.Domain = domainOf(artifact.Target)
	}

	if !ev.gate.Enabled() {
		return ev.record(ctx, subjectID, targetID, artifact, &verdict{
			outcome:   OutcomeNeedsReview,
			reasoning: "auto-release disabled by administrator",
		})
	}

	rules, err := ev.rules.ListEnabledRules(ctx)
	if err != nil {
		ev.logger.Error("failed to load approval rules, degrading to review",
			slog.String("subject_id", subjectID.String()),
			slog.String("error", err.Error()),
		)
		return ev.record(ctx, subjectID, targetID, artifact, &verdict{
			outcome:   OutcomeNeedsReview,
			reasoning: "rule lookup failed",
		})
	}
	if len(rules) == 0 {
		return ev.record(ctx, subjectID, targetID, artifact, &verdict{
			outcome:   OutcomeNeedsReview,
			reasoning: "no rules configured",
		})
	}

	for _, rule := range rules {
		matched, reasoning, err := ev.match(ctx, rule, artifact)
		if err != nil {
			ev.logger.Warn("rule evaluation error, treated as non-match",
				slog.String("rule_id", rule.ID.String()),
				slog.String("rule_type", string(rule.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !matched {
			continue
		}
		ruleID := rule.ID
		return ev.record(ctx, subjectID, targetID, artifact, &verdict{
			outcome:    OutcomeAutoApproved,
			ruleID:     &ruleID,
			confidence: rule.Confidence,
			reasoning:  reasoning,
		})
	}

	return ev.record(ctx, subjectID, targetID, artifact, &verdict{
		outcome:   OutcomeNeedsReview,
		reasoning: "no rule matched",
	})
}

type verdict struct {
	outcome    Outcome
	ruleID     *id.RuleID
	confidence float64
	reasoning  string
}

func (ev *Evaluator) record(ctx context.Context, subjectID, targetID id.ID, artifact Artifact, v *verdict) (*Decision, error) {
	d := &Decision{
		Entity:        gatekit.NewEntity(),
		ID:            id.NewDecisionID(),
		SubjectID:     subjectID,
		TargetID:      targetID,
		Outcome:       v.outcome,
		MatchedRuleID: v.ruleID,
		Confidence:    v.confidence,
		Reasoning:     v.reasoning,
		Metadata:      artifact.Metadata,
	}
	if err := ev.decisions.AppendDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("append decision log: %w", err)
	}

	ev.logger.Info("artifact evaluated",
		slog.String("subject_id", subjectID.String()),
		slog.String("target", artifact.Target),
		slog.String("outcome", string(v.outcome)),
		slog.String("reasoning", v.reasoning),
	)
	ev.emitter.EmitDecisionRecorded(ctx, d)
	return d, nil
}

// match dispatches a rule to its typed predicate. Unknown rule types
// and mistyped conditions are errors, which the caller logs and treats
// as non-matches.
func (ev *Evaluator) match(ctx context.Context, rule *Rule, artifact Artifact) (bool, string, error) {
	switch cond := rule.Condition.(type) {
	case PriorPositiveInteraction:
		return ev.matchPriorInteraction(ctx, cond, artifact)
	case KnownGoodTarget:
		return ev.matchKnownGoodTarget(ctx, cond, artifact)
	case HighConfidenceScore:
		return ev.matchHighConfidence(ctx, cond, artifact)
	case nil:
		return false, "", fmt.Errorf("rule %s has no condition", rule.ID)
	default:
		return false, "", fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (ev *Evaluator) matchPriorInteraction(ctx context.Context, cond PriorPositiveInteraction, artifact Artifact) (bool, string, error) {
	if artifact.Target == "" {
		return false, "", nil
	}
	lookback := time.Duration(cond.LookbackDays) * 24 * time.Hour

	if ev.cache != nil {
		count, ok, err := ev.cache.ReplyCount(ctx, artifact.Target, lookback)
		if err != nil {
			ev.logger.Warn("interaction cache lookup failed, falling through to source",
				slog.String("target", artifact.Target),
				slog.String("error", err.Error()),
			)
		} else if ok {
			return ev.interactionVerdict(cond, count)
		}
	}

	if ev.source == nil {
		return false, "", nil
	}
	srcCtx, cancel := context.WithTimeout(ctx, ev.sourceTimeout)
	defer cancel()
	count, err := ev.source.CountReplies(srcCtx, artifact.Target, time.Now().Add(-lookback))
	if err != nil {
		return false, "", fmt.Errorf("interaction source lookup: %w", err)
	}
	if count > 0 && ev.cache != nil {
		if err := ev.cache.RecordReplyCount(ctx, artifact.Target, lookback, count); err != nil {
			ev.logger.Warn("failed to cache interaction count",
				slog.String("target", artifact.Target),
				slog.String("error", err.Error()),
			)
		}
	}
	return ev.interactionVerdict(cond, count)
}

func (ev *Evaluator) interactionVerdict(cond PriorPositiveInteraction, count int) (bool, string, error) {
	minReplies := cond.MinReplies
	if minReplies <= 0 {
		minReplies = 1
	}
	if count < minReplies {
		return false, "", nil
	}
	return true, fmt.Sprintf("target has replied %d times in the last %d days", count, cond.LookbackDays), nil
}

func (ev *Evaluator) matchKnownGoodTarget(ctx context.Context, cond KnownGoodTarget, artifact Artifact) (bool, string, error) {
	if artifact.Target == "" {
		return false, "", nil
	}
	recipient, err := ev.recipients.GetRecipientByTarget(ctx, artifact.Target)
	if err != nil {
		if errors.Is(err, gatekit.ErrRecipientNotFound) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("recipient lookup: %w", err)
	}
	if recipient.TotalSends < cond.MinSends {
		return false, "", nil
	}
	return true, fmt.Sprintf("target is whitelisted with %d prior successful releases", recipient.TotalSends), nil
}

func (ev *Evaluator) matchHighConfidence(_ context.Context, cond HighConfidenceScore, artifact Artifact) (bool, string, error) {
	if artifact.Score < cond.Threshold {
		return false, "", nil
	}
	// The identity check is mandatory: a high score without a verified
	// destination domain never releases.
	if artifact.Domain == "" || artifact.ExpectedDomain == "" {
		return false, "", nil
	}
	if !strings.EqualFold(artifact.Domain, artifact.ExpectedDomain) {
		return false, "", nil
	}
	return true, fmt.Sprintf("artifact score %.2f meets threshold %.2f with matching domain %s",
		artifact.Score, cond.Threshold, artifact.Domain), nil
}

func domainOf(target string) string {
	if i := strings.LastIndexByte(target, '@'); i >= 0 && i+1 < len(target) {
		return strings.ToLower(target[i+1:])
	}
	return ""
}
