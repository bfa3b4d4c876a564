package execution

import (
	"context"

	"github.com/canvasshq/canvass/id"
)

// Store defines the persistence contract for executions. All mutation
// routes through CompareAndSwapExecution; there is no unconditional
// update.
type Store interface {
	// CreateExecution persists a new execution at version 1.
	// Returns canvass.ErrExecutionExists on duplicate id.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution (a private copy) by id.
	// Returns canvass.ErrExecutionNotFound when absent.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// CompareAndSwapExecution persists e if and only if the stored
	// version equals expected; on success the stored (and passed)
	// version becomes expected+1. Returns canvass.ErrVersionConflict
	// when another writer got there first. For any two concurrent
	// swaps with the same expected version, exactly one succeeds.
	CompareAndSwapExecution(ctx context.Context, e *Execution, expected int64) error

	// ListExecutionsByPhase returns executions currently in any of the
	// given phases, ordered by creation time. Used by crash recovery
	// and the janitor.
	ListExecutionsByPhase(ctx context.Context, phases ...Phase) ([]*Execution, error)
}
