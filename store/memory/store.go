// Package memory provides a fully in-memory store backend for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/cluster"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store         = (*Store)(nil)
	_ retry.Store            = (*Store)(nil)
	_ approval.RuleStore     = (*Store)(nil)
	_ approval.DecisionStore = (*Store)(nil)
	_ approval.RecipientStore = (*Store)(nil)
	_ cluster.Store          = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	instances  map[string]*workflow.Instance
	retries    map[string]*retry.Entry
	rules      map[string]*approval.Rule
	decisions  []*approval.Decision
	recipients map[string]*approval.Recipient // key: target address
	workers    map[string]*cluster.Worker

	// leader tracks the current leader worker ID string.
	leader      string
	leaderUntil time.Time

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		instances:  make(map[string]*workflow.Instance),
		retries:    make(map[string]*retry.Entry),
		rules:      make(map[string]*approval.Rule),
		recipients: make(map[string]*approval.Recipient),
		workers:    make(map[string]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return gatekit.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is retained so tests can still
// inspect it, but Ping fails afterwards.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateInstance persists a new workflow instance.
func (m *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	if _, exists := m.instances[key]; exists {
		return gatekit.ErrInstanceAlreadyExists
	}
	m.instances[key] = inst.Clone()
	return nil
}

// GetInstance retrieves a workflow instance by ID.
func (m *Store) GetInstance(_ context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, gatekit.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// UpdateInstanceIf persists changes to an instance only if its stored
// status still equals from.
func (m *Store) UpdateInstanceIf(_ context.Context, inst *workflow.Instance, from workflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	stored, ok := m.instances[key]
	if !ok {
		return gatekit.ErrInstanceNotFound
	}
	if stored.Status != from {
		return gatekit.ErrStaleState
	}
	cp := inst.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.instances[key] = cp
	return nil
}

// ListInstancesByStatus returns instances in the given status, newest-first.
func (m *Store) ListInstancesByStatus(_ context.Context, status workflow.Status, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if inst.Status != status {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// FindFailedRetryable returns non-aborted failed instances with
// ErrorCount below maxErrors, newest-first.
func (m *Store) FindFailedRetryable(_ context.Context, maxErrors, limit int) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Instance
	for _, inst := range m.instances {
		if inst.Status != workflow.StatusFailed {
			continue
		}
		if inst.Terminal() {
			// Aborted: failed with completed-at stamped.
			continue
		}
		if inst.ErrorCount >= maxErrors {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FindStuckInstances returns processing instances started before cutoff,
// oldest-first.
func (m *Store) FindStuckInstances(_ context.Context, cutoff time.Time, limit int) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Instance
	for _, inst := range m.instances {
		if inst.Status != workflow.StatusProcessing {
			continue
		}
		if !inst.StartedAt.Before(cutoff) {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Retry Store
// ──────────────────────────────────────────────────

// CreateRetry persists a new retry entry.
func (m *Store) CreateRetry(_ context.Context, e *retry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries[e.ID.String()] = e.Clone()
	return nil
}

// GetRetry retrieves a retry entry by ID.
func (m *Store) GetRetry(_ context.Context, retryID id.RetryID) (*retry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.retries[retryID.String()]
	if !ok {
		return nil, gatekit.ErrRetryNotFound
	}
	return e.Clone(), nil
}

// UpdateRetryIf persists changes to an entry only if its stored status
// still equals from.
func (m *Store) UpdateRetryIf(_ context.Context, e *retry.Entry, from retry.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	stored, ok := m.retries[key]
	if !ok {
		return gatekit.ErrRetryNotFound
	}
	if stored.Status != from {
		return gatekit.ErrStaleState
	}
	cp := e.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.retries[key] = cp
	return nil
}

// ListDueRetries returns pending entries due at or before now, soonest first.
func (m *Store) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*retry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*retry.Entry
	for _, e := range m.retries {
		if e.Status != retry.StatusPending {
			continue
		}
		if e.NextRetryAt.After(now) {
			continue
		}
		result = append(result, e.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].NextRetryAt.Before(result[k].NextRetryAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListRetriesByStatus returns entries in the given status, newest-first.
func (m *Store) ListRetriesByStatus(_ context.Context, status retry.Status, opts retry.ListOpts) ([]*retry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*retry.Entry
	for _, e := range m.retries {
		if e.Status != status {
			continue
		}
		if opts.ItemType != "" && e.ItemType != opts.ItemType {
			continue
		}
		result = append(result, e.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountRetries returns the number of entries in the given status.
func (m *Store) CountRetries(_ context.Context, status retry.Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.retries {
		if status != "" && e.Status != status {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Approval Rule Store
// ──────────────────────────────────────────────────

// CreateRule persists a new approval rule.
func (m *Store) CreateRule(_ context.Context, rule *approval.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rule.ID.String()
	if _, exists := m.rules[key]; exists {
		return gatekit.ErrDuplicateRule
	}
	m.rules[key] = rule.Clone()
	return nil
}

// GetRule retrieves a rule by ID.
func (m *Store) GetRule(_ context.Context, ruleID id.RuleID) (*approval.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[ruleID.String()]
	if !ok {
		return nil, gatekit.ErrRuleNotFound
	}
	return rule.Clone(), nil
}

// ListEnabledRules returns enabled rules ordered by priority ascending,
// ties broken by creation time.
func (m *Store) ListEnabledRules(_ context.Context) ([]*approval.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*approval.Rule
	for _, rule := range m.rules {
		if !rule.Enabled {
			continue
		}
		result = append(result, rule.Clone())
	}
	sortRules(result)
	return result, nil
}

// ListRules returns all rules in evaluation order.
func (m *Store) ListRules(_ context.Context) ([]*approval.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*approval.Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		result = append(result, rule.Clone())
	}
	sortRules(result)
	return result, nil
}

// SetRuleEnabled toggles a rule's enabled flag.
func (m *Store) SetRuleEnabled(_ context.Context, ruleID id.RuleID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[ruleID.String()]
	if !ok {
		return gatekit.ErrRuleNotFound
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

func sortRules(rules []*approval.Rule) {
	sort.Slice(rules, func(i, k int) bool {
		if rules[i].Priority != rules[k].Priority {
			return rules[i].Priority < rules[k].Priority
		}
		return rules[i].CreatedAt.Before(rules[k].CreatedAt)
	})
}

// ──────────────────────────────────────────────────
// Approval Decision Store (append-only)
// ──────────────────────────────────────────────────

// AppendDecision writes one decision record.
func (m *Store) AppendDecision(_ context.Context, d *approval.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions = append(m.decisions, d.Clone())
	return nil
}

// ListDecisions returns decisions for a subject, newest first.
func (m *Store) ListDecisions(_ context.Context, subjectID id.ID, limit int) ([]*approval.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*approval.Decision
	for _, d := range m.decisions {
		if !subjectID.IsNil() && d.SubjectID != subjectID {
			continue
		}
		result = append(result, d.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Approved Recipient Store
// ──────────────────────────────────────────────────

// UpsertRecipient creates or replaces a recipient entry.
func (m *Store) UpsertRecipient(_ context.Context, r *approval.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recipients[r.Target] = r.Clone()
	return nil
}

// GetRecipientByTarget returns the whitelist entry for a target address.
func (m *Store) GetRecipientByTarget(_ context.Context, target string) (*approval.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.recipients[target]
	if !ok {
		return nil, gatekit.ErrRecipientNotFound
	}
	return r.Clone(), nil
}

// IncrementRecipientCounters atomically bumps a recipient's counters.
func (m *Store) IncrementRecipientCounters(_ context.Context, target string, sends, replies int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recipients[target]
	if !ok {
		return gatekit.ErrRecipientNotFound
	}
	r.TotalSends += sends
	r.TotalReplies += replies
	if at.After(r.LastActivityAt) {
		r.LastActivityAt = at
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID.String()] = w.Clone()
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return gatekit.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return gatekit.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, w.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w.Clone())
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to take the leader lease.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wKey := workerID.String()

	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// RenewLeadership extends the leader's lease.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// GetLeader returns the current leader, or nil if there is none.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return w.Clone(), nil
}
