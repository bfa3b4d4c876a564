// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/store"
)

// Ensure Store implements the composite contract at compile time.
var (
	_ execution.Store = (*Store)(nil)
	_ dial.Store      = (*Store)(nil)
	_ audit.Store     = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

type lease struct {
	holder  string
	expires time.Time
}

// Store is a fully in-memory store backend.
type Store struct {
	mu sync.RWMutex

	executions  map[string]*execution.Execution
	calls       map[string]*dial.Call // key: "execID/propID/number"
	leases      map[string]lease
	transitions map[string][]*audit.Transition // key: execution id
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		executions:  make(map[string]*execution.Execution),
		calls:       make(map[string]*dial.Call),
		leases:      make(map[string]lease),
		transitions: make(map[string][]*audit.Transition),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution at version 1.
func (m *Store) CreateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.executions[key]; exists {
		return canvass.ErrExecutionExists
	}
	cp, err := copyExecution(e)
	if err != nil {
		return err
	}
	m.executions[key] = cp
	return nil
}

// GetExecution retrieves a private copy of the execution.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return nil, canvass.ErrExecutionNotFound
	}
	return copyExecution(e)
}

// CompareAndSwapExecution persists e if the stored version equals
// expected, bumping the version. Exactly one of two concurrent swaps
// with the same expected version succeeds.
func (m *Store) CompareAndSwapExecution(_ context.Context, e *execution.Execution, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	stored, ok := m.executions[key]
	if !ok {
		return canvass.ErrExecutionNotFound
	}
	if stored.Version != expected {
		return fmt.Errorf("%w: stored %d, expected %d", canvass.ErrVersionConflict, stored.Version, expected)
	}

	e.Version = expected + 1
	cp, err := copyExecution(e)
	if err != nil {
		e.Version = expected
		return err
	}
	m.executions[key] = cp
	return nil
}

// ListExecutionsByPhase returns executions in any of the given phases,
// ordered by creation time.
func (m *Store) ListExecutionsByPhase(_ context.Context, phases ...execution.Phase) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	phaseSet := make(map[execution.Phase]struct{}, len(phases))
	for _, p := range phases {
		phaseSet[p] = struct{}{}
	}

	out := make([]*execution.Execution, 0)
	for _, e := range m.executions {
		if _, ok := phaseSet[e.Phase]; !ok {
			continue
		}
		cp, err := copyExecution(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Dial Store
// ──────────────────────────────────────────────────

func callKey(execID id.ExecutionID, propertyID string, number int) string {
	return fmt.Sprintf("%s/%s/%d", execID, propertyID, number)
}

// ScheduleCall upserts a queue entry keyed on (execution, property, number).
func (m *Store) ScheduleCall(_ context.Context, c *dial.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.calls[callKey(c.ExecutionID, c.PropertyID, c.Number)] = &cp
	return nil
}

// DequeueDueCalls atomically claims up to limit due entries, removing
// them from the queue, oldest scheduled first.
func (m *Store) DequeueDueCalls(_ context.Context, limit int) ([]*dial.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	due := make([]*dial.Call, 0)
	for _, c := range m.calls {
		if !c.ScheduledAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*dial.Call, 0, len(due))
	for _, c := range due {
		delete(m.calls, callKey(c.ExecutionID, c.PropertyID, c.Number))
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// PurgeCalls drops all queued entries for an execution.
func (m *Store) PurgeCalls(_ context.Context, execID id.ExecutionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, c := range m.calls {
		if c.ExecutionID == execID {
			delete(m.calls, key)
		}
	}
	return nil
}

// AcquireLease grants an exclusive lease on the key for the TTL.
func (m *Store) AcquireLease(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if l, ok := m.leases[key]; ok && l.expires.After(now) && l.holder != holder {
		return false, nil
	}
	m.leases[key] = lease{holder: holder, expires: now.Add(ttl)}
	return true, nil
}

// ReleaseLease frees the lease if the holder still owns it.
func (m *Store) ReleaseLease(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[key]; ok && l.holder == holder {
		delete(m.leases, key)
	}
	return nil
}

// ReapExpiredLeases removes leases past their expiry.
func (m *Store) ReapExpiredLeases(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	reaped := 0
	for key, l := range m.leases {
		if !l.expires.After(now) {
			delete(m.leases, key)
			reaped++
		}
	}
	return reaped, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendTransition records a committed transition.
func (m *Store) AppendTransition(_ context.Context, tr *audit.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tr
	key := tr.ExecutionID.String()
	m.transitions[key] = append(m.transitions[key], &cp)
	return nil
}

// ListTransitions returns an execution's transitions in commit order.
func (m *Store) ListTransitions(_ context.Context, execID id.ExecutionID) ([]*audit.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.transitions[execID.String()]
	out := make([]*audit.Transition, 0, len(stored))
	for _, tr := range stored {
		cp := *tr
		out = append(out, &cp)
	}
	return out, nil
}

// copyExecution deep-copies an execution through its JSON form so the
// caller's maps and slices never alias stored state.
func copyExecution(e *execution.Execution) (*execution.Execution, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("copying execution: %w", err)
	}
	var cp execution.Execution
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("copying execution: %w", err)
	}
	return &cp, nil
}
