// Package dial runs the persistent call scheduler: queued call entries
// survive restarts, workers claim due entries behind per-property
// leases, and failed connections reschedule on a bounded backoff until
// the attempt cap.
package dial

import (
	"context"
	"fmt"
	"time"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/id"
)

// Call is one persisted dial-queue entry: a pointer at a specific
// attempt of a specific property. The attempt record itself lives on
// the execution document; the queue entry only carries what the
// scheduler needs to find it.
type Call struct {
	canvass.Entity

	ID          id.CallID      `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	PropertyID  string         `json:"property_id"`
	// Number is the attempt number this entry will dial.
	Number      int       `json:"number"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewCall builds a queue entry for the given attempt.
func NewCall(execID id.ExecutionID, propertyID string, number int, at time.Time) *Call {
	return &Call{
		Entity:      canvass.NewEntity(),
		ID:          id.NewCallID(),
		ExecutionID: execID,
		PropertyID:  propertyID,
		Number:      number,
		ScheduledAt: at,
	}
}

// LeaseKey returns the lease key guarding this entry's property. One
// lease per (execution, property) pair: a property never has two calls
// in flight, whatever the queue holds.
func (c *Call) LeaseKey() string {
	return LeaseKey(c.ExecutionID, c.PropertyID)
}

// LeaseKey builds the canonical lease key for a property's call chain.
func LeaseKey(execID id.ExecutionID, propertyID string) string {
	return fmt.Sprintf("%s/%s", execID, propertyID)
}

// Store defines the persistence contract for the dial queue and its
// leases.
type Store interface {
	// ScheduleCall enqueues (or reschedules) an entry. Scheduling is an
	// upsert keyed on (execution, property, number): re-running recovery
	// after a crash never duplicates an attempt already queued.
	ScheduleCall(ctx context.Context, c *Call) error

	// DequeueDueCalls atomically claims up to limit entries whose
	// ScheduledAt has passed, removing them from the queue. An entry
	// claimed by one worker is invisible to all others.
	DequeueDueCalls(ctx context.Context, limit int) ([]*Call, error)

	// PurgeCalls drops all queued entries for an execution. Used on
	// cancellation and termination.
	PurgeCalls(ctx context.Context, execID id.ExecutionID) error

	// AcquireLease grants the holder an exclusive lease on the key for
	// the TTL. Returns false when another holder owns an unexpired
	// lease. Re-acquiring one's own lease extends it.
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// ReleaseLease frees the lease if the holder still owns it.
	ReleaseLease(ctx context.Context, key, holder string) error

	// ReapExpiredLeases removes leases past their expiry, returning how
	// many were reaped. Crash recovery for workers that died mid-call.
	ReapExpiredLeases(ctx context.Context) (int, error)
}
