// Package flow drives executions through the phase graph. The Machine
// is the single write path for execution state: every change loads the
// aggregate at its current version, applies a deterministic mutation,
// and commits through a compare-and-swap write. Concurrent writers
// lose the swap and retry against the reloaded state, so no committed
// change is ever silently overwritten.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/ext"
	"github.com/canvasshq/canvass/id"
)

// Mutation adjusts the execution document inside a commit attempt. It
// may run more than once when a swap loses a race, so it must be a
// pure function of the loaded state.
type Mutation func(e *execution.Execution) error

// Machine applies phase transitions and document mutations to stored
// executions.
type Machine struct {
	store       execution.Store
	audit       audit.Store
	hooks       *ext.Registry
	logger      *slog.Logger
	swapRetries int
}

// Option configures a Machine.
type Option func(*Machine)

// WithAudit records committed transitions to the given store.
func WithAudit(s audit.Store) Option {
	return func(m *Machine) { m.audit = s }
}

// WithHooks emits lifecycle events through the registry after commits.
func WithHooks(r *ext.Registry) Option {
	return func(m *Machine) { m.hooks = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithSwapRetries bounds how many times a commit is retried after a
// version conflict before giving up.
func WithSwapRetries(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.swapRetries = n
		}
	}
}

// NewMachine creates a Machine over the given execution store.
func NewMachine(store execution.Store, opts ...Option) *Machine {
	m := &Machine{
		store:       store,
		logger:      slog.Default(),
		swapRetries: canvass.DefaultConfig().SwapRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying execution store for read paths that
// bypass the commit loop (listings, recovery scans).
func (m *Machine) Store() execution.Store { return m.store }

// Get loads the execution.
func (m *Machine) Get(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return m.store.GetExecution(ctx, execID)
}

// Apply commits a phase transition: it validates the event against the
// loaded phase, runs the mutation, and swaps the result in. On a
// version conflict the whole sequence reruns against fresh state, up
// to the retry bound. The transition is audited and lifecycle hooks
// fire only after the swap is durable.
func (m *Machine) Apply(ctx context.Context, execID id.ExecutionID, event execution.Event, mutate Mutation) (*execution.Execution, error) {
	var (
		e    *execution.Execution
		from execution.Phase
	)
	err := m.commit(ctx, execID, func(loaded *execution.Execution) error {
		next, err := execution.Next(loaded.Phase, event)
		if err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(loaded); err != nil {
				return err
			}
		}
		from = loaded.Phase
		loaded.Phase = next
		e = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("phase advanced",
		slog.String("execution_id", e.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(e.Phase)),
		slog.String("event", string(event)),
	)

	if m.audit != nil {
		tr := audit.NewTransition(e.ID, from, e.Phase, event, e.TerminatedReason)
		if err := m.audit.AppendTransition(ctx, tr); err != nil {
			// The transition is already durable; the log is best effort.
			m.logger.Warn("audit append failed",
				slog.String("execution_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.hooks != nil {
		m.hooks.EmitPhaseAdvanced(ctx, e, from, event)
		if e.Phase == execution.PhaseTerminated {
			m.hooks.EmitExecutionTerminated(ctx, e, e.TerminatedReason)
		}
	}
	return e, nil
}

// Advance commits a phase transition with no document change.
func (m *Machine) Advance(ctx context.Context, execID id.ExecutionID, event execution.Event) (*execution.Execution, error) {
	return m.Apply(ctx, execID, event, nil)
}

// Mutate commits a document change without moving phase: attempt
// updates, analysis results, gap markers.
func (m *Machine) Mutate(ctx context.Context, execID id.ExecutionID, mutate Mutation) (*execution.Execution, error) {
	var e *execution.Execution
	err := m.commit(ctx, execID, func(loaded *execution.Execution) error {
		if err := mutate(loaded); err != nil {
			return err
		}
		e = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Terminate ends the execution without a report, recording why.
func (m *Machine) Terminate(ctx context.Context, execID id.ExecutionID, event execution.Event, reason string) (*execution.Execution, error) {
	return m.Apply(ctx, execID, event, func(e *execution.Execution) error {
		e.TerminatedReason = reason
		return nil
	})
}

// commit runs the load-mutate-swap loop.
func (m *Machine) commit(ctx context.Context, execID id.ExecutionID, fn Mutation) error {
	var lastErr error
	for attempt := 0; attempt < m.swapRetries; attempt++ {
		e, err := m.store.GetExecution(ctx, execID)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		e.Touch()

		err = m.store.CompareAndSwapExecution(ctx, e, e.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, canvass.ErrVersionConflict) {
			return err
		}
		lastErr = err
		m.logger.Debug("version conflict, retrying commit",
			slog.String("execution_id", execID.String()),
			slog.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("commit retries exhausted for %s: %w", execID, lastErr)
}
