package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/backoff"
	"github.com/oramind/gatekit/cluster"
	"github.com/oramind/gatekit/dlq"
	"github.com/oramind/gatekit/ext"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/limiter"
	mw "github.com/oramind/gatekit/middleware"
	"github.com/oramind/gatekit/observability"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/sweep"
	"github.com/oramind/gatekit/worker"
	"github.com/oramind/gatekit/workflow"
)

// Engine wraps a Coordinator with typed subsystem access.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c          *gatekit.Coordinator
	extensions *ext.Registry
	registry   *retry.Registry
	logger     *slog.Logger

	// Workflow subsystem.
	workflows *workflow.Engine

	// Retry subsystem.
	retries *retry.Coordinator
	dead    *dlq.Service
	bo      backoff.Strategy
	mws     []mw.Middleware
	pool    *worker.Pool

	// Approval subsystem.
	evaluator *approval.Evaluator
	gate      *approval.Gate
	ruleStore approval.RuleStore
	cache     approval.InteractionCache
	source    approval.InteractionSource

	// Sweep subsystem.
	sweeper      *sweep.Sweeper
	clusterStore cluster.Store

	// Rate limiting.
	limitConfigs []limiter.Config
	limits       *limiter.Manager
	domainOf     func(e *retry.Entry) string

	gateDisabled bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the retry execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff schedule for the engine.
// If not set, backoff.DefaultSchedule() (1m, 5m, 30m) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithLimitConfig registers item-type-level rate limiting and
// concurrency configurations. Item types not listed have no limits.
func WithLimitConfig(configs ...limiter.Config) Option {
	return func(eng *Engine) {
		eng.limitConfigs = append(eng.limitConfigs, configs...)
	}
}

// WithDomainFunc sets how the worker pool extracts a destination domain
// from a retry entry for per-domain rate limiting.
func WithDomainFunc(f func(e *retry.Entry) string) Option {
	return func(eng *Engine) {
		eng.domainOf = f
	}
}

// WithGateDisabled starts the release gate off: every evaluation routes
// to needs-review until an operator re-enables the gate.
func WithGateDisabled() Option {
	return func(eng *Engine) {
		eng.gateDisabled = true
	}
}

// WithInteractionCache sets the fast-path reply lookup used by
// prior-positive-interaction rules.
func WithInteractionCache(c approval.InteractionCache) Option {
	return func(eng *Engine) {
		eng.cache = c
	}
}

// WithInteractionSource sets the authoritative reply lookup consulted on
// cache misses.
func WithInteractionSource(s approval.InteractionSource) Option {
	return func(eng *Engine) {
		eng.source = s
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Coordinator.
// The Coordinator's store must implement every subsystem store interface;
// both the memory and postgres backends do.
func Build(c *gatekit.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, gatekit.ErrNoStore
	}

	ws, ok := store.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("gatekit: store does not implement workflow.Store")
	}
	rs, ok := store.(retry.Store)
	if !ok {
		return nil, fmt.Errorf("gatekit: store does not implement retry.Store")
	}
	rules, ok := store.(approval.RuleStore)
	if !ok {
		return nil, fmt.Errorf("gatekit: store does not implement approval.RuleStore")
	}
	decisions, ok := store.(approval.DecisionStore)
	if !ok {
		return nil, fmt.Errorf("gatekit: store does not implement approval.DecisionStore")
	}
	recipients, ok := store.(approval.RecipientStore)
	if !ok {
		return nil, fmt.Errorf("gatekit: store does not implement approval.RecipientStore")
	}
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("gatekit: store does not implement cluster.Store")
	}

	eng := &Engine{
		c:            c,
		extensions:   ext.NewRegistry(logger),
		registry:     retry.NewRegistry(),
		ruleStore:    rules,
		clusterStore: cls,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff schedule if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultSchedule()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/oramind/gatekit/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Create the workflow engine with extension-backed events.
	eng.workflows = workflow.NewEngine(ws, eng.extensions, logger)

	// Create the release gate and evaluator.
	eng.gate = approval.NewGate(!eng.gateDisabled)
	eng.evaluator = approval.NewEvaluator(rules, decisions, recipients, eng.gate, approval.EvaluatorConfig{
		Cache:   eng.cache,
		Source:  eng.source,
		Emitter: eng.extensions,
		Logger:  logger,
	})

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/oramind/gatekit")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/oramind/gatekit")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create the retry coordinator with the middleware chain wrapping
	// every attempt.
	config := c.Config()
	eng.retries = retry.NewCoordinator(rs, eng.registry, retry.CoordinatorConfig{
		Schedule: eng.bo,
		Emitter:  eng.extensions,
		Wrapper:  mw.Wrap(mw.Chain(allMws...)),
		Logger:   logger,
	})
	eng.dead = dlq.NewService(rs, eng.retries, logger)

	// Create the worker pool.
	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithClaimTimeout(config.ClaimTimeout),
	}
	if len(eng.limitConfigs) > 0 {
		eng.limits = limiter.NewManager(eng.limitConfigs...)
		poolOpts = append(poolOpts, worker.WithLimits(eng.limits))
	}
	if eng.domainOf != nil {
		poolOpts = append(poolOpts, worker.WithDomainFunc(eng.domainOf))
	}
	eng.pool = worker.NewPool(eng.retries, cls, logger, poolOpts...)

	// Create the recovery sweeper.
	sweeper, err := sweep.New(
		eng.workflows, cls, eng.extensions, eng.pool.WorkerID(),
		config.SweepSchedule, logger,
		sweep.WithStuckTimeout(config.StuckTimeout),
		sweep.WithMaxRetries(config.MaxWorkflowRetries),
		sweep.WithBatchSize(config.SweepBatchSize),
	)
	if err != nil {
		return nil, err
	}
	eng.sweeper = sweeper

	// Wire back into the Coordinator.
	c.SetPool(eng.pool)
	c.SetHooks(eng.extensions)

	return eng, nil
}

// Register registers a typed retry definition with the engine.
func Register[T any](eng *Engine, def *retry.Definition[T]) {
	retry.RegisterDefinition(eng.registry, def)
}

// EnqueueRetry marshals a typed payload and schedules a retry entry for
// it. The original failed invocation counts as the first attempt.
func EnqueueRetry[T any](ctx context.Context, eng *Engine, itemType string, sourceID id.ID, payload T, lastError string, opts ...retry.AddOption) (*retry.Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for retry %q: %w", itemType, err)
	}
	return eng.EnqueueRetryRaw(ctx, itemType, sourceID, data, lastError, opts...)
}

// EnqueueRetryRaw schedules a retry entry with a pre-serialized payload.
func (eng *Engine) EnqueueRetryRaw(ctx context.Context, itemType string, sourceID id.ID, payload []byte, lastError string, opts ...retry.AddOption) (*retry.Entry, error) {
	return eng.retries.Add(ctx, itemType, sourceID, payload, lastError, opts...)
}

// ── Workflow operations ─────────────────────────────

// CreateWorkflow persists a new instance in triggered state.
func (eng *Engine) CreateWorkflow(ctx context.Context, mode workflow.Mode, triggerRef string) (*workflow.Instance, error) {
	return eng.workflows.Create(ctx, mode, triggerRef)
}

// GetWorkflow returns an instance by ID.
func (eng *Engine) GetWorkflow(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	return eng.workflows.Get(ctx, instanceID)
}

// GetWorkflowStatus returns the current lifecycle status of an instance.
func (eng *Engine) GetWorkflowStatus(ctx context.Context, instanceID id.InstanceID) (workflow.Status, error) {
	return eng.workflows.GetState(ctx, instanceID)
}

// TransitionWorkflow applies a lifecycle event to an instance. It
// returns true when the transition was applied and false when the event
// is not valid from the instance's current state.
func (eng *Engine) TransitionWorkflow(ctx context.Context, instanceID id.InstanceID, event workflow.Event, meta workflow.Meta) (bool, error) {
	return eng.workflows.Transition(ctx, instanceID, event, meta)
}

// ── Retry operations ────────────────────────────────

// ListDueRetries returns pending entries whose next attempt is due.
func (eng *Engine) ListDueRetries(ctx context.Context, limit int) ([]*retry.Entry, error) {
	return eng.retries.DueItems(ctx, limit)
}

// AbandonRetry terminally abandons a retry entry.
func (eng *Engine) AbandonRetry(ctx context.Context, retryID id.RetryID) error {
	return eng.retries.Abandon(ctx, retryID)
}

// ForceRetryNow makes a non-terminal entry due immediately.
func (eng *Engine) ForceRetryNow(ctx context.Context, retryID id.RetryID) error {
	return eng.retries.RetryNow(ctx, retryID)
}

// DeadLetters returns exhausted entries awaiting manual resolution.
func (eng *Engine) DeadLetters(ctx context.Context, limit int) ([]*retry.Entry, error) {
	return eng.dead.List(ctx, limit)
}

// CountDeadLetters returns how many entries have exhausted their budget.
func (eng *Engine) CountDeadLetters(ctx context.Context) (int64, error) {
	return eng.dead.Count(ctx)
}

// ReplayDeadLetter re-enqueues a dead-lettered entry as a fresh,
// immediately-due retry.
func (eng *Engine) ReplayDeadLetter(ctx context.Context, retryID id.RetryID) (*retry.Entry, error) {
	return eng.dead.Replay(ctx, retryID)
}

// ── Approval operations ─────────────────────────────

// EvaluateArtifact decides auto-approve vs needs-review for one
// artifact and appends the decision to the audit log.
func (eng *Engine) EvaluateArtifact(ctx context.Context, subjectID, targetID id.ID, artifact approval.Artifact) (*approval.Decision, error) {
	return eng.evaluator.Evaluate(ctx, subjectID, targetID, artifact)
}

// SetReleaseGate flips the kill switch. With the gate off every
// evaluation routes to needs-review.
func (eng *Engine) SetReleaseGate(enabled bool) {
	eng.gate.Set(enabled)
	eng.logger.Info("release gate set", slog.Bool("enabled", enabled))
}

// ReleaseGateEnabled reports the current gate state.
func (eng *Engine) ReleaseGateEnabled() bool {
	return eng.gate.Enabled()
}

// ToggleRule enables or disables a rule without rewriting its
// parameters.
func (eng *Engine) ToggleRule(ctx context.Context, ruleID id.RuleID, enabled bool) error {
	return eng.ruleStore.SetRuleEnabled(ctx, ruleID, enabled)
}

// SeedDefaultRules installs the stock rule set, skipping rule types that
// already exist. It returns how many rules were created.
func (eng *Engine) SeedDefaultRules(ctx context.Context) (int, error) {
	return approval.Seed(ctx, eng.ruleStore)
}

// ── Sweep operations ────────────────────────────────

// SweepStuckWorkflows runs one recovery pass immediately: stuck
// PROCESSING instances are forced to failed, then failed instances with
// retry budget are re-driven.
func (eng *Engine) SweepStuckWorkflows(ctx context.Context) (sweep.Result, error) {
	return eng.sweeper.Sweep(ctx)
}

// ── Lifecycle ───────────────────────────────────────

// Start begins retry processing and the recovery sweep schedule.
func (eng *Engine) Start(ctx context.Context) error {
	// Start the sweeper before the pool so leadership can be acquired.
	if err := eng.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.sweeper.Stop(ctx); err != nil {
		eng.logger.Error("sweeper stop error", slog.String("error", err.Error()))
	}
	return eng.c.Stop(ctx)
}

// ── Accessors ───────────────────────────────────────

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the retry handler registry.
func (eng *Engine) Registry() *retry.Registry { return eng.registry }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *gatekit.Coordinator { return eng.c }

// Workflows returns the workflow engine.
func (eng *Engine) Workflows() *workflow.Engine { return eng.workflows }

// Retries returns the retry coordinator.
func (eng *Engine) Retries() *retry.Coordinator { return eng.retries }

// DeadLetterQueue returns the dead-letter operator service.
func (eng *Engine) DeadLetterQueue() *dlq.Service { return eng.dead }

// Evaluator returns the rule evaluator.
func (eng *Engine) Evaluator() *approval.Evaluator { return eng.evaluator }

// Gate returns the release gate.
func (eng *Engine) Gate() *approval.Gate { return eng.gate }

// Sweeper returns the recovery sweeper.
func (eng *Engine) Sweeper() *sweep.Sweeper { return eng.sweeper }

// Limits returns the rate-limit manager, or nil if no limit configs
// were provided.
func (eng *Engine) Limits() *limiter.Manager { return eng.limits }
