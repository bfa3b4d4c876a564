// Package backoff provides pluggable retry delay strategies for call
// attempt scheduling. All strategies are safe for concurrent use (they
// are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Bounded grows exponentially from Floor, clamps the result to
// [Floor, Ceiling], and spreads it with proportional jitter so that
// retries across many properties do not land on the same instant.
// Delay = clamp(Floor * 2^(attempt-1)) ± Jitter fraction of itself.
type Bounded struct {
	Floor   time.Duration
	Ceiling time.Duration

	// Jitter is the fraction of the computed delay used as the jitter
	// band, e.g. 0.2 spreads the delay uniformly over ±20%. Values
	// outside (0, 1] disable jitter.
	Jitter float64
}

// NewBounded creates a bounded exponential backoff with jitter.
func NewBounded(floor, ceiling time.Duration, jitter float64) *Bounded {
	return &Bounded{Floor: floor, Ceiling: ceiling, Jitter: jitter}
}

// Delay returns the clamped, jittered delay for the given attempt.
// The result never drops below Floor/2 and never exceeds Ceiling.
func (b *Bounded) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(b.Floor) * math.Pow(2, float64(attempt-1))
	if ceil := float64(b.Ceiling); b.Ceiling > 0 && base > ceil {
		base = ceil
	}

	if b.Jitter > 0 && b.Jitter <= 1 {
		// Uniform over [base*(1-j), base*(1+j)], re-clamped to the window.
		span := base * b.Jitter
		base = base - span + 2*span*rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
		if b.Ceiling > 0 && base > float64(b.Ceiling) {
			base = float64(b.Ceiling)
		}
		if base < float64(b.Floor)/2 {
			base = float64(b.Floor) / 2
		}
	}

	return time.Duration(base)
}

// DefaultJitter is the jitter fraction used for call retry backoff.
const DefaultJitter = 0.2

// DefaultDial returns the backoff used for outbound call retries:
// bounded exponential within a several-hour window (2h floor, 24h
// ceiling, ±20% jitter).
func DefaultDial() Strategy {
	return NewBounded(2*time.Hour, 24*time.Hour, DefaultJitter)
}
