package canvass

import "time"

// Config holds the tunables of the orchestration engine.
type Config struct {
	// Concurrency is the number of dial worker goroutines polling the
	// call queue.
	Concurrency int

	// PollInterval is how often idle dial workers poll for due calls.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// MaxCallAttempts caps the attempt chain per property. A chain that
	// reaches the cap ends in ExhaustedRetries.
	MaxCallAttempts int

	// RetryFloor and RetryCeiling bound the backoff window between call
	// attempts. The product guarantee is "retried over several hours",
	// so the defaults clamp to [2h, 24h].
	RetryFloor   time.Duration
	RetryCeiling time.Duration

	// LeaseTTL is how long a worker's exclusive claim on a
	// (execution, property) pair lives before a crashed worker's claim
	// becomes reclaimable.
	LeaseTTL time.Duration

	// DialTimeout bounds a single outbound call; a deadline hit counts
	// as a connection failure for retry purposes.
	DialTimeout time.Duration

	// SwapRetries bounds the reload-and-retry loop on version conflicts
	// before ErrVersionConflict is surfaced to the caller.
	SwapRetries int

	// SweepSchedule is the cron expression for the maintenance janitor
	// (expired-lease reaping, stale in-flight requeue).
	SweepSchedule string

	// StaleCallThreshold is how long an attempt may sit in-flight
	// without completing before the janitor returns it to pending.
	StaleCallThreshold time.Duration

	// DialRate and DialBurst rate-limit outbound calls across the
	// worker pool; MaxConcurrentDials caps simultaneous live calls.
	// Zero values disable the respective limit.
	DialRate           float64
	DialBurst          int
	MaxConcurrentDials int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		PollInterval:       5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		MaxCallAttempts:    3,
		RetryFloor:         2 * time.Hour,
		RetryCeiling:       24 * time.Hour,
		LeaseTTL:           10 * time.Minute,
		DialTimeout:        5 * time.Minute,
		SwapRetries:        5,
		SweepSchedule:      "@every 1m",
		StaleCallThreshold: 15 * time.Minute,
	}
}
