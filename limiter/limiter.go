// Package limiter enforces per-item-type and per-domain rate limits on
// retry execution.
//
// Item types are the retry queue's grouping key (the same tag that
// selects a handler). Domains let operators additionally throttle
// outbound work toward a single destination, so one flooded target
// cannot monopolize the retry budget.
//
// [Manager] uses a token-bucket rate limiter (golang.org/x/time/rate)
// and an active-count gate for concurrency limits. Item types without a
// [Config] have no limits beyond the pool-wide concurrency.
package limiter

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-item-type behaviour such as rate limiting and
// concurrency.
type Config struct {
	// ItemType is the retry item type this config applies to.
	ItemType string

	// MaxConcurrency limits how many entries of this type may run
	// simultaneously across the local worker pool. Zero means no
	// type-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained attempts per second for this
	// item type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// DomainConfig defines rate limits and concurrency for a specific
// destination domain on a specific item type.
type DomainConfig struct {
	// ItemType is the item type this config applies to.
	ItemType string

	// Domain is the destination domain.
	Domain string

	// RateLimit is the sustained attempts per second for this domain.
	RateLimit float64

	// RateBurst is the burst size for the domain's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous attempts toward this domain.
	// Zero means no domain-specific concurrency limit.
	MaxConcurrency int
}

// typeState tracks runtime state for a single item type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// domainState tracks runtime state for a single type+domain pair.
type domainState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// Manager controls per-item-type and per-domain rate limiting and
// concurrency. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	types   map[string]*typeState
	domains map[string]*domainState
}

// NewManager creates a Manager with the given item-type configurations.
// Item types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types:   make(map[string]*typeState, len(configs)),
		domains: make(map[string]*domainState),
	}
	for _, cfg := range configs {
		m.types[cfg.ItemType] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// domainKey builds the map key for a type+domain pair.
func domainKey(itemType, domain string) string {
	return fmt.Sprintf("%s:%s", itemType, domain)
}

// SetDomainConfig configures rate limits and concurrency for a specific
// domain on a specific item type. Calling this multiple times for the
// same pair replaces the previous configuration.
func (m *Manager) SetDomainConfig(cfg DomainConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := domainKey(cfg.ItemType, cfg.Domain)
	existing := m.domains[key]

	ds := &domainState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ds.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ds.active = existing.active
	}
	m.domains[key] = ds
}

// Acquire checks rate limits and concurrency for the given item type
// and domain. If the attempt is allowed to proceed it increments the
// active counters and returns true. The caller MUST call Release when
// the attempt completes. domain may be empty when the payload carries
// no destination.
func (m *Manager) Acquire(itemType, domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[itemType]
	if ts != nil {
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
			return false
		}
	}

	var ds *domainState
	if domain != "" {
		ds = m.domains[domainKey(itemType, domain)]
		if ds != nil {
			if ds.limiter != nil && !ds.limiter.Allow() {
				return false
			}
			if ds.maxConcurrency > 0 && ds.active >= ds.maxConcurrency {
				return false
			}
		}
	}

	if ts != nil {
		ts.active++
	}
	if ds != nil {
		ds.active++
	}
	return true
}

// Release decrements the active counters for the item type and domain.
func (m *Manager) Release(itemType, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[itemType]; ts != nil && ts.active > 0 {
		ts.active--
	}
	if domain != "" {
		if ds := m.domains[domainKey(itemType, domain)]; ds != nil && ds.active > 0 {
			ds.active--
		}
	}
}

// ActiveCount returns the current number of active attempts for an
// item type.
func (m *Manager) ActiveCount(itemType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[itemType]; ts != nil {
		return ts.active
	}
	return 0
}

// DomainActiveCount returns the current number of active attempts for a
// type+domain pair.
func (m *Manager) DomainActiveCount(itemType, domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds := m.domains[domainKey(itemType, domain)]; ds != nil {
		return ds.active
	}
	return 0
}
