// Package sweep implements the recovery watchdog: it detects workflow
// instances stuck in processing past a timeout, forces them onto the
// failure path, and re-drives failed instances that still have retry
// budget.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/oramind/gatekit/cluster"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/workflow"
)

// StuckMessage is the synthetic error recorded on auto-recovered
// instances.
const StuckMessage = "stuck beyond timeout, auto-recovered by sweep"

// Emitter emits sweep lifecycle events.
type Emitter interface {
	EmitSweepCompleted(ctx context.Context, recovered, retried int)
}

// Result summarizes one sweep pass.
type Result struct {
	// Recovered is how many stuck instances were forced to failed.
	Recovered int
	// Retried is how many failed instances were re-driven.
	Retried int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithStuckTimeout sets how long an instance may sit in processing
// before the sweep considers it abandoned.
func WithStuckTimeout(d time.Duration) Option {
	return func(s *Sweeper) { s.stuckTimeout = d }
}

// WithMaxRetries sets the error-count ceiling for re-driving failed
// instances.
func WithMaxRetries(n int) Option {
	return func(s *Sweeper) { s.maxRetries = n }
}

// WithBatchSize bounds how many instances one pass touches per mode.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) { s.batchSize = n }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) Option {
	return func(s *Sweeper) { s.leaderTTL = d }
}

// sweepParser supports standard 5-field cron and descriptors like
// "@every 5m".
var sweepParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a sweep cadence expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return sweepParser.Parse(expr)
}

// Sweeper periodically reclaims orphaned in-flight instances. In a
// shared-store deployment only the leader runs the pass, so each stuck
// instance is recovered once per tick rather than once per process.
type Sweeper struct {
	engine       *workflow.Engine
	clusterStore cluster.Store
	emitter      Emitter
	workerID     id.WorkerID
	logger       *slog.Logger

	schedule cronlib.Schedule

	stuckTimeout time.Duration
	maxRetries   int
	batchSize    int
	leaderTTL    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Sweeper driven by the given cadence expression.
// clusterStore may be nil for single-process deployments; the sweeper
// then runs every tick unconditionally.
func New(
	engine *workflow.Engine,
	clusterStore cluster.Store,
	emitter Emitter,
	workerID id.WorkerID,
	scheduleExpr string,
	logger *slog.Logger,
	opts ...Option,
) (*Sweeper, error) {
	schedule, err := ParseSchedule(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", scheduleExpr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		engine:       engine,
		clusterStore: clusterStore,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		schedule:     schedule,
		stuckTimeout: 30 * time.Minute,
		maxRetries:   3,
		batchSize:    50,
		leaderTTL:    15 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the leader election and sweep tick goroutines.
func (s *Sweeper) Start(_ context.Context) error {
	if s.clusterStore != nil {
		s.wg.Add(1)
		go s.leaderLoop()
	}
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("recovery sweep started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("stuck_timeout", s.stuckTimeout),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for goroutines to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("recovery sweep stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Sweeper) leaderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	s.tryLeadership()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Sweeper) tryLeadership() {
	ctx := context.Background()

	// Renew first (cheap if already leader).
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired sweep leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop waits out the schedule and runs a sweep pass on each firing.
func (s *Sweeper) tickLoop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	ctx := context.Background()

	if s.clusterStore != nil {
		leader, err := s.clusterStore.GetLeader(ctx)
		if err != nil {
			s.logger.Warn("get leader error", slog.String("error", err.Error()))
			return
		}
		if leader == nil || leader.ID != s.workerID {
			return
		}
	}

	result, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep pass failed", slog.String("error", err.Error()))
		return
	}
	if result.Recovered > 0 || result.Retried > 0 {
		s.logger.Info("sweep pass completed",
			slog.Int("recovered", result.Recovered),
			slog.Int("retried", result.Retried),
		)
	}
}

// Sweep runs one full pass: recover stuck instances, then re-drive
// retry-eligible failures.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	recovered, err := s.AutoRecover(ctx, s.stuckTimeout, s.batchSize)
	if err != nil {
		return Result{}, err
	}
	retried, err := s.RetryEligible(ctx, s.maxRetries, s.batchSize)
	if err != nil {
		return Result{Recovered: recovered}, err
	}

	if s.emitter != nil {
		s.emitter.EmitSweepCompleted(ctx, recovered, retried)
	}
	return Result{Recovered: recovered, Retried: retried}, nil
}

// FindStuck returns processing instances whose start time is older than
// the timeout. These are presumed abandoned by a dead worker.
func (s *Sweeper) FindStuck(ctx context.Context, timeout time.Duration) ([]*workflow.Instance, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	return s.engine.FindStuck(ctx, cutoff, s.batchSize)
}

// AutoRecover forces an error transition on each stuck instance,
// bounded by maxToRecover, making it eligible for the ordinary retry
// path. Returns how many instances were recovered.
func (s *Sweeper) AutoRecover(ctx context.Context, timeout time.Duration, maxToRecover int) (int, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	stuck, err := s.engine.FindStuck(ctx, cutoff, maxToRecover)
	if err != nil {
		return 0, fmt.Errorf("find stuck instances: %w", err)
	}

	recovered := 0
	for _, inst := range stuck {
		ok, err := s.engine.Transition(ctx, inst.ID, workflow.EventError, workflow.Meta{Error: StuckMessage})
		if err != nil {
			s.logger.Error("auto-recover transition failed",
				slog.String("instance_id", inst.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			// The instance moved on its own between the find and the
			// transition. Nothing to recover.
			continue
		}
		recovered++
		s.logger.Warn("recovered stuck workflow instance",
			slog.String("instance_id", inst.ID.String()),
			slog.Time("started_at", inst.StartedAt),
		)
	}
	return recovered, nil
}

// RetryEligible drives the retry event for failed instances still under
// the retry ceiling, bounded by maxToRetry. Returns how many instances
// re-entered processing.
func (s *Sweeper) RetryEligible(ctx context.Context, maxRetries, maxToRetry int) (int, error) {
	eligible, err := s.engine.FindFailedEligibleForRetry(ctx, maxRetries, maxToRetry)
	if err != nil {
		return 0, fmt.Errorf("find retry-eligible instances: %w", err)
	}

	retried := 0
	for _, inst := range eligible {
		ok, err := s.engine.Transition(ctx, inst.ID, workflow.EventRetry, workflow.Meta{})
		if err != nil {
			s.logger.Error("retry transition failed",
				slog.String("instance_id", inst.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			retried++
		}
	}
	return retried, nil
}
