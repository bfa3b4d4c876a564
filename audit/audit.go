// Package audit records the transition history of executions: one
// append-only entry per committed phase change. The log is diagnostic —
// reads never drive workflow decisions.
package audit

import (
	"context"
	"time"

	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
)

// Transition is one committed phase change.
type Transition struct {
	ID          id.TransitionID `json:"id"`
	ExecutionID id.ExecutionID  `json:"execution_id"`
	From        execution.Phase `json:"from"`
	To          execution.Phase `json:"to"`
	Event       execution.Event `json:"event"`
	// Note carries optional detail, e.g. a termination reason.
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// NewTransition builds a Transition stamped with the current time.
func NewTransition(execID id.ExecutionID, from, to execution.Phase, event execution.Event, note string) *Transition {
	return &Transition{
		ID:          id.NewTransitionID(),
		ExecutionID: execID,
		From:        from,
		To:          to,
		Event:       event,
		Note:        note,
		At:          time.Now().UTC(),
	}
}

// Store persists the transition log.
type Store interface {
	// AppendTransition records a committed transition. Append failures
	// must not roll back the transition itself.
	AppendTransition(ctx context.Context, tr *Transition) error

	// ListTransitions returns an execution's transitions in commit order.
	ListTransitions(ctx context.Context, execID id.ExecutionID) ([]*Transition, error)
}
