// Package throttle bounds outbound dialing: a token-bucket rate limit
// on dials per second plus concurrency caps, global and per execution.
// The scheduler calls Acquire before placing a dequeued call and
// Release after the call finishes.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines dialing limits.
type Config struct {
	// Rate is the maximum sustained dials per second. Zero disables
	// rate limiting.
	Rate float64

	// Burst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if Rate is set but Burst is zero.
	Burst int

	// MaxConcurrent limits how many calls may be in flight
	// simultaneously across the process. Zero means no limit.
	MaxConcurrent int

	// MaxPerExecution limits in-flight calls for a single execution.
	// Zero means no per-execution limit.
	MaxPerExecution int
}

// Manager controls dial rate limiting and concurrency. It is safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	config  Config
	limiter *rate.Limiter
	active  int
	perExec map[string]int
}

// NewManager creates a Manager with the given limits.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		config:  cfg,
		perExec: make(map[string]int),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return m
}

// Acquire checks rate and concurrency limits for a dial belonging to
// the given execution. If the dial is allowed to proceed it increments
// the active counters and returns true. The caller MUST call Release
// when the call completes.
func (m *Manager) Acquire(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limiter != nil && !m.limiter.Allow() {
		return false
	}
	if m.config.MaxConcurrent > 0 && m.active >= m.config.MaxConcurrent {
		return false
	}
	if m.config.MaxPerExecution > 0 && m.perExec[executionID] >= m.config.MaxPerExecution {
		return false
	}

	m.active++
	m.perExec[executionID]++
	return true
}

// Release decrements the active call counters for the execution.
func (m *Manager) Release(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}
	if n := m.perExec[executionID]; n > 1 {
		m.perExec[executionID] = n - 1
	} else {
		delete(m.perExec, executionID)
	}
}

// Active returns the current number of in-flight calls.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ActiveForExecution returns the in-flight call count for one execution.
func (m *Manager) ActiveForExecution(executionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perExec[executionID]
}
