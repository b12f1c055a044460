package gatekit

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency is the maximum number of retry entries processed
	// concurrently by the worker pool.
	Concurrency int

	// PollInterval is how often workers poll for due retry entries.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often this node heartbeats its worker
	// record in the cluster store.
	HeartbeatInterval time.Duration

	// ClaimTimeout is how long a retry entry may sit in RETRYING before
	// the pool presumes its worker died and returns it to the due queue.
	ClaimTimeout time.Duration

	// SweepSchedule is the recovery sweep schedule, expressed as a cron
	// expression or descriptor (e.g. "@every 5m").
	SweepSchedule string

	// StuckTimeout is how long a workflow instance may sit in PROCESSING
	// before the recovery sweep presumes its worker died.
	StuckTimeout time.Duration

	// MaxWorkflowRetries is the error-count ceiling under which FAILED
	// workflow instances are eligible for automatic retry.
	MaxWorkflowRetries int

	// SweepBatchSize bounds how many instances one sweep pass recovers
	// or retries.
	SweepBatchSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		ClaimTimeout:       5 * time.Minute,
		SweepSchedule:      "@every 5m",
		StuckTimeout:       30 * time.Minute,
		MaxWorkflowRetries: 3,
		SweepBatchSize:     50,
	}
}
