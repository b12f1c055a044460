// Package worker provides the retry execution pool: concurrent
// goroutines that poll the store for due entries and drive each one
// through the coordinator. The pool also registers itself in the
// cluster worker registry and heartbeats while running.
package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oramind/gatekit/cluster"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/limiter"
	"github.com/oramind/gatekit/retry"
)

// Pool manages a set of concurrent worker goroutines that poll for due
// retry entries and execute them through the coordinator.
type Pool struct {
	coordinator  *retry.Coordinator
	clusterStore cluster.Store
	limits       *limiter.Manager
	domainOf     func(e *retry.Entry) string

	concurrency       int
	itemTypes         []string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	claimTimeout      time.Duration

	workerID id.WorkerID
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithItemTypes records which item types this worker advertises in the
// cluster registry. Informational; the coordinator dispatches by
// registered handler regardless.
func WithItemTypes(types []string) PoolOption {
	return func(p *Pool) { p.itemTypes = types }
}

// WithPollInterval sets how often idle workers poll for due entries.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats its cluster
// registration. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithClaimTimeout sets how long a RETRYING claim may sit untouched
// before the pool assumes its worker died and returns the entry to the
// due queue. A zero value disables reclaiming.
func WithClaimTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.claimTimeout = d }
}

// WithLimits sets the rate-limit manager consulted before each attempt.
func WithLimits(m *limiter.Manager) PoolOption {
	return func(p *Pool) { p.limits = m }
}

// WithDomainFunc sets how the pool extracts a destination domain from
// an entry for per-domain rate limiting. Defaults to no domain.
func WithDomainFunc(f func(e *retry.Entry) string) PoolOption {
	return func(p *Pool) { p.domainOf = f }
}

// NewPool creates a retry worker pool. clusterStore may be nil for
// single-process deployments; registration and heartbeats are skipped.
func NewPool(
	coordinator *retry.Coordinator,
	clusterStore cluster.Store,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		coordinator:       coordinator,
		clusterStore:      clusterStore,
		concurrency:       10,
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
		claimTimeout:      5 * time.Minute,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		domainOf:          func(*retry.Entry) string { return "" },
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start registers the worker and launches the poll goroutines. It
// returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	if p.clusterStore != nil {
		hostname, _ := os.Hostname()
		w := &cluster.Worker{
			ID:          p.workerID,
			Hostname:    hostname,
			ItemTypes:   p.itemTypes,
			Concurrency: p.concurrency,
			State:       cluster.WorkerActive,
			LastSeen:    time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := p.clusterStore.RegisterWorker(ctx, w); err != nil {
			p.running = false
			return err
		}
		if p.heartbeatInterval > 0 {
			p.wg.Add(1)
			go p.heartbeatLoop()
		}
	}

	p.logger.Info("retry worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.pollLoop()
	}
	if p.claimTimeout > 0 {
		p.wg.Add(1)
		go p.reclaimLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight attempts to
// finish, bounded by the context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("retry worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("retry worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("retry worker pool shutdown timed out")
	}

	if p.clusterStore != nil {
		if err := p.clusterStore.DeregisterWorker(context.Background(), p.workerID); err != nil {
			p.logger.Warn("worker deregistration failed",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// pollLoop is run by each worker goroutine. Each iteration claims at
// most one due entry; the coordinator's conditional claim resolves
// races between pollers.
func (p *Pool) pollLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		due, err := p.coordinator.DueItems(context.Background(), 1)
		if err != nil {
			p.logger.Error("poll due retries error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(due) == 0 {
			p.sleep()
			continue
		}

		e := due[0]
		domain := p.domainOf(e)

		if p.limits != nil && !p.limits.Acquire(e.ItemType, domain) {
			// Rate limited. The entry stays due; back off locally so
			// this goroutine does not spin on it.
			p.sleep()
			continue
		}

		if err := p.coordinator.Process(context.Background(), e.ID); err != nil {
			p.logger.Error("retry processing error",
				slog.String("retry_id", e.ID.String()),
				slog.String("item_type", e.ItemType),
				slog.String("error", err.Error()),
			)
		}

		if p.limits != nil {
			p.limits.Release(e.ItemType, domain)
		}
	}
}

// reclaimLoop periodically returns claims abandoned by dead workers to
// the due queue.
func (p *Pool) reclaimLoop() {
	defer p.wg.Done()

	interval := p.claimTimeout / 2
	if interval < p.pollInterval {
		interval = p.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.coordinator.ReclaimStale(context.Background(), p.claimTimeout, p.concurrency*10)
			if err != nil {
				p.logger.Error("stale claim reclaim error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Warn("reclaimed stale retry claims", slog.Int("count", n))
			}
		}
	}
}

// heartbeatLoop keeps the cluster registration fresh while running.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.clusterStore.HeartbeatWorker(context.Background(), p.workerID); err != nil {
				p.logger.Warn("worker heartbeat failed",
					slog.String("worker_id", p.workerID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
