// Package approval implements the human approval gate: the workflow
// parks in the approval phase with no running process until a decision
// set arrives, then either advances to analysis or terminates when
// nothing was approved.
package approval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/route"
)

// Gate validates and applies approval decisions.
type Gate struct {
	machine  *flow.Machine
	notifier collab.Notifier
	logger   *slog.Logger
}

// NewGate creates a Gate. The notifier may be nil when no user-facing
// channel is wired.
func NewGate(machine *flow.Machine, notifier collab.Notifier, logger *slog.Logger) *Gate {
	return &Gate{machine: machine, notifier: notifier, logger: logger}
}

// Present returns the execution awaiting approval and (re)notifies the
// user. Safe to call repeatedly while the execution is parked; it
// never changes state.
func (g *Gate) Present(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	e, err := g.machine.Get(ctx, execID)
	if err != nil {
		return nil, err
	}
	if e.Phase != execution.PhaseHumanApproval {
		return nil, fmt.Errorf("%w: execution %s is in phase %s", canvass.ErrNotAwaitingApproval, execID, e.Phase)
	}

	if g.notifier != nil {
		if err := g.notifier.NotifyApprovalRequested(ctx, e); err != nil {
			// Notification is best effort; the execution stays parked
			// and Present can be retried.
			g.logger.Warn("approval notification failed",
				slog.String("execution_id", execID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return e, nil
}

// Submit applies a decision set. An empty approved subset terminates
// the execution; otherwise the approved ids, the uniform intent, and
// per-property questions are recorded and the workflow advances to
// location analysis. The whole set is validated before anything is
// written.
func (g *Gate) Submit(ctx context.Context, execID id.ExecutionID, decisions []execution.Decision) (*execution.Execution, error) {
	e, err := g.machine.Get(ctx, execID)
	if err != nil {
		return nil, err
	}
	if e.Phase != execution.PhaseHumanApproval {
		return nil, fmt.Errorf("%w: execution %s is in phase %s", canvass.ErrNotAwaitingApproval, execID, e.Phase)
	}

	approvedIDs, intent, questions, err := validate(e, decisions)
	if err != nil {
		return nil, err
	}

	if len(approvedIDs) == 0 {
		g.logger.Info("no properties approved, terminating",
			slog.String("execution_id", execID.String()),
		)
		return g.machine.Terminate(ctx, execID, execution.EventNoApprovals, execution.ReasonNoApprovals)
	}

	return g.machine.Apply(ctx, execID, execution.EventApprovalGranted, func(e *execution.Execution) error {
		e.ApprovedIDs = approvedIDs
		e.Intent = intent
		e.Questions = questions
		return nil
	})
}

// validate checks the decision set against the extracted properties
// and returns the approved ids, the uniform intent, and the question
// map.
func validate(e *execution.Execution, decisions []execution.Decision) ([]string, execution.Intent, map[string][]string, error) {
	if len(decisions) == 0 {
		return nil, "", nil, fmt.Errorf("%w: empty decision set", canvass.ErrValidation)
	}

	seen := make(map[string]struct{}, len(decisions))
	var (
		approvedIDs []string
		intent      execution.Intent
		questions   map[string][]string
	)
	for _, d := range decisions {
		if _, ok := e.PropertyByID(d.PropertyID); !ok {
			return nil, "", nil, fmt.Errorf("%w: unknown property %q", canvass.ErrValidation, d.PropertyID)
		}
		if _, dup := seen[d.PropertyID]; dup {
			return nil, "", nil, fmt.Errorf("%w: duplicate decision for property %q", canvass.ErrValidation, d.PropertyID)
		}
		seen[d.PropertyID] = struct{}{}

		if !d.Approved {
			continue
		}

		if _, err := route.Select(d.Intent); err != nil {
			return nil, "", nil, err
		}
		if intent == "" {
			intent = d.Intent
		} else if intent != d.Intent {
			return nil, "", nil, fmt.Errorf("%w: mixed intents %q and %q in one approval", canvass.ErrValidation, intent, d.Intent)
		}

		approvedIDs = append(approvedIDs, d.PropertyID)
		if len(d.Questions) > 0 {
			if questions == nil {
				questions = make(map[string][]string)
			}
			questions[d.PropertyID] = d.Questions
		}
	}
	return approvedIDs, intent, questions, nil
}
