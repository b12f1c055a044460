package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/backoff"
	"github.com/oramind/gatekit/id"
)

// Emitter publishes retry lifecycle events to registered hooks.
// Implemented by the extension registry; a no-op implementation is used
// when no hooks are registered.
type Emitter interface {
	EmitRetryScheduled(ctx context.Context, e *Entry)
	EmitRetrySucceeded(ctx context.Context, e *Entry)
	EmitRetryExhausted(ctx context.Context, e *Entry)
}

// NopEmitter discards all retry events.
type NopEmitter struct{}

func (NopEmitter) EmitRetryScheduled(context.Context, *Entry) {}
func (NopEmitter) EmitRetrySucceeded(context.Context, *Entry) {}
func (NopEmitter) EmitRetryExhausted(context.Context, *Entry) {}

// Wrapper wraps handler invocation with cross-cutting logic (logging,
// timeouts, tracing). The middleware package adapts its chain into this
// shape; the type lives here to break the import cycle.
type Wrapper func(ctx context.Context, e *Entry, next func(ctx context.Context) error) error

// Coordinator is the single authority for retry scheduling and execution.
// All retry decisions (when to retry, when to give up) flow through it;
// handlers only report success or failure of one attempt.
type Coordinator struct {
	store    Store
	registry *Registry
	schedule backoff.Strategy
	emitter  Emitter
	wrapper  Wrapper
	logger   *slog.Logger

	maxAttempts int
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Schedule computes the delay before each attempt.
	// Defaults to backoff.DefaultSchedule().
	Schedule backoff.Strategy

	// MaxAttempts is the default attempt ceiling for new entries.
	// Defaults to 3.
	MaxAttempts int

	// Emitter receives retry lifecycle events. Defaults to NopEmitter.
	Emitter Emitter

	// Wrapper wraps each handler invocation. Optional.
	Wrapper Wrapper

	// Logger for coordinator activity. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewCoordinator creates a retry coordinator backed by the given store
// and handler registry.
func NewCoordinator(store Store, registry *Registry, cfg CoordinatorConfig) *Coordinator {
	if cfg.Schedule == nil {
		cfg.Schedule = backoff.DefaultSchedule()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		store:       store,
		registry:    registry,
		schedule:    cfg.Schedule,
		emitter:     cfg.Emitter,
		wrapper:     cfg.Wrapper,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
	}
}

// AddOption customizes a single enqueued entry.
type AddOption func(*Entry)

// WithMaxAttempts overrides the coordinator's default attempt ceiling
// for one entry. Values below 1 are ignored.
func WithMaxAttempts(n int) AddOption {
	return func(e *Entry) {
		if n > 0 {
			e.MaxAttempts = n
		}
	}
}

// Add enqueues a new retry entry for a failed operation. The entry starts
// at attempt 1 with its next retry scheduled one backoff step out, so the
// original (failed) invocation counts as the first attempt.
func (c *Coordinator) Add(ctx context.Context, itemType string, sourceID id.ID, payload []byte, lastError string, opts ...AddOption) (*Entry, error) {
	now := time.Now()
	e := &Entry{
		Entity:      gatekit.NewEntity(),
		ID:          id.NewRetryID(),
		ItemType:    itemType,
		Payload:     payload,
		SourceID:    sourceID,
		Status:      StatusPending,
		Attempts:    1,
		MaxAttempts: c.maxAttempts,
		NextRetryAt: now.Add(c.schedule.Delay(1)),
		LastError:   lastError,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := c.store.CreateRetry(ctx, e); err != nil {
		return nil, fmt.Errorf("create retry entry: %w", err)
	}

	c.logger.Info("retry entry scheduled",
		slog.String("retry_id", e.ID.String()),
		slog.String("item_type", e.ItemType),
		slog.Time("next_retry_at", e.NextRetryAt),
	)
	c.emitter.EmitRetryScheduled(ctx, e)
	return e, nil
}

// DueItems returns pending entries whose next retry time has passed,
// soonest first, up to limit.
func (c *Coordinator) DueItems(ctx context.Context, limit int) ([]*Entry, error) {
	return c.store.ListDueRetries(ctx, time.Now(), limit)
}

// Process executes one attempt of the given entry. It claims the entry
// with a compare-and-set from pending to retrying so only one worker runs
// it; a stale claim is not an error, the entry was simply taken by
// another worker.
//
// The attempt counter is incremented before the handler runs, so a crash
// mid-handler costs an attempt rather than allowing unbounded re-runs.
func (c *Coordinator) Process(ctx context.Context, retryID id.RetryID) error {
	e, err := c.store.GetRetry(ctx, retryID)
	if err != nil {
		return err
	}
	if e.Status != StatusPending {
		return nil
	}

	claimed := e.Clone()
	claimed.Status = StatusRetrying
	claimed.Attempts++
	if err := c.store.UpdateRetryIf(ctx, claimed, StatusPending); err != nil {
		if errors.Is(err, gatekit.ErrStaleState) {
			return nil
		}
		return fmt.Errorf("claim retry entry: %w", err)
	}

	handler, ok := c.registry.Get(claimed.ItemType)
	if !ok {
		return c.fail(ctx, claimed, fmt.Sprintf("no handler registered for item type %q", claimed.ItemType))
	}

	if err := c.invoke(ctx, handler, claimed); err != nil {
		return c.fail(ctx, claimed, err.Error())
	}
	return c.succeed(ctx, claimed)
}

func (c *Coordinator) invoke(ctx context.Context, handler HandlerFunc, e *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	terminal := func(ctx context.Context) error {
		return handler(ctx, e.Payload)
	}
	if c.wrapper != nil {
		return c.wrapper(ctx, e, terminal)
	}
	return terminal(ctx)
}

func (c *Coordinator) succeed(ctx context.Context, e *Entry) error {
	done := e.Clone()
	done.Status = StatusSucceeded
	done.LastError = ""
	if err := c.store.UpdateRetryIf(ctx, done, StatusRetrying); err != nil {
		return fmt.Errorf("mark retry succeeded: %w", err)
	}
	c.logger.Info("retry succeeded",
		slog.String("retry_id", done.ID.String()),
		slog.String("item_type", done.ItemType),
		slog.Int("attempts", done.Attempts),
	)
	c.emitter.EmitRetrySucceeded(ctx, done)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, e *Entry, lastError string) error {
	next := e.Clone()
	next.LastError = lastError

	if next.Attempts >= next.MaxAttempts {
		next.Status = StatusFailed
		if err := c.store.UpdateRetryIf(ctx, next, StatusRetrying); err != nil {
			return fmt.Errorf("mark retry exhausted: %w", err)
		}
		c.logger.Warn("retry exhausted, entry dead-lettered",
			slog.String("retry_id", next.ID.String()),
			slog.String("item_type", next.ItemType),
			slog.Int("attempts", next.Attempts),
			slog.String("last_error", lastError),
		)
		c.emitter.EmitRetryExhausted(ctx, next)
		return nil
	}

	next.Status = StatusPending
	next.NextRetryAt = time.Now().Add(c.schedule.Delay(next.Attempts))
	if err := c.store.UpdateRetryIf(ctx, next, StatusRetrying); err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}
	c.logger.Info("retry attempt failed, rescheduled",
		slog.String("retry_id", next.ID.String()),
		slog.String("item_type", next.ItemType),
		slog.Int("attempts", next.Attempts),
		slog.Time("next_retry_at", next.NextRetryAt),
		slog.String("last_error", lastError),
	)
	c.emitter.EmitRetryScheduled(ctx, next)
	return nil
}

// ReclaimStale resets RETRYING entries whose claim is older than
// olderThan, up to limit. A worker that dies between claiming an entry
// and reporting the outcome leaves it in RETRYING; this puts it back in
// the due queue. The claim already consumed an attempt, so an entry
// whose budget is gone is dead-lettered instead of re-queued. Returns
// how many entries were made pending again.
func (c *Coordinator) ReclaimStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	claimed, err := c.store.ListRetriesByStatus(ctx, StatusRetrying, ListOpts{Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("list claimed retries: %w", err)
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	reclaimed := 0
	for _, e := range claimed {
		if e.UpdatedAt.After(cutoff) {
			continue
		}

		back := e.Clone()
		if back.Attempts >= back.MaxAttempts {
			back.Status = StatusFailed
			if err := c.store.UpdateRetryIf(ctx, back, StatusRetrying); err != nil {
				if errors.Is(err, gatekit.ErrStaleState) {
					continue
				}
				return reclaimed, fmt.Errorf("dead-letter stale claim %s: %w", e.ID, err)
			}
			c.logger.Warn("stale claim had no attempts left, entry dead-lettered",
				slog.String("retry_id", back.ID.String()),
				slog.String("item_type", back.ItemType),
				slog.Int("attempts", back.Attempts),
			)
			c.emitter.EmitRetryExhausted(ctx, back)
			continue
		}

		back.Status = StatusPending
		back.NextRetryAt = time.Now()
		if err := c.store.UpdateRetryIf(ctx, back, StatusRetrying); err != nil {
			if errors.Is(err, gatekit.ErrStaleState) {
				continue
			}
			return reclaimed, fmt.Errorf("reclaim stale claim %s: %w", e.ID, err)
		}
		reclaimed++
		c.logger.Warn("reclaimed stale retry claim",
			slog.String("retry_id", back.ID.String()),
			slog.String("item_type", back.ItemType),
			slog.Int("attempts", back.Attempts),
			slog.Time("claimed_at", e.UpdatedAt),
		)
	}
	return reclaimed, nil
}

// Abandon marks an entry abandoned so it will never be retried again.
// Terminal entries cannot be abandoned.
func (c *Coordinator) Abandon(ctx context.Context, retryID id.RetryID) error {
	e, err := c.store.GetRetry(ctx, retryID)
	if err != nil {
		return err
	}
	if e.Terminal() {
		return fmt.Errorf("%w: entry %s is %s", gatekit.ErrNotRetryable, e.ID, e.Status)
	}

	from := e.Status
	dropped := e.Clone()
	dropped.Status = StatusAbandoned
	if err := c.store.UpdateRetryIf(ctx, dropped, from); err != nil {
		return fmt.Errorf("abandon retry entry: %w", err)
	}
	c.logger.Info("retry entry abandoned",
		slog.String("retry_id", dropped.ID.String()),
		slog.String("item_type", dropped.ItemType),
	)
	return nil
}

// RetryNow makes an entry immediately due by zeroing its next retry time.
// Only non-terminal entries with attempts remaining are eligible.
func (c *Coordinator) RetryNow(ctx context.Context, retryID id.RetryID) error {
	e, err := c.store.GetRetry(ctx, retryID)
	if err != nil {
		return err
	}
	if !e.Retryable() {
		return fmt.Errorf("%w: entry %s has status %s with %d/%d attempts",
			gatekit.ErrNotRetryable, e.ID, e.Status, e.Attempts, e.MaxAttempts)
	}

	due := e.Clone()
	due.NextRetryAt = time.Now()
	if err := c.store.UpdateRetryIf(ctx, due, e.Status); err != nil {
		return fmt.Errorf("force retry now: %w", err)
	}
	c.logger.Info("retry entry forced due",
		slog.String("retry_id", due.ID.String()),
		slog.String("item_type", due.ItemType),
	)
	return nil
}

// Get returns a retry entry by ID.
func (c *Coordinator) Get(ctx context.Context, retryID id.RetryID) (*Entry, error) {
	return c.store.GetRetry(ctx, retryID)
}

// DeadLetters returns exhausted entries for operator inspection, newest
// first, up to limit.
func (c *Coordinator) DeadLetters(ctx context.Context, limit int) ([]*Entry, error) {
	return c.store.ListRetriesByStatus(ctx, StatusFailed, ListOpts{Limit: limit})
}
