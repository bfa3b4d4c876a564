package postgres

import (
	"context"
	"fmt"

	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
)

// AppendTransition records a committed phase transition.
func (s *Store) AppendTransition(ctx context.Context, tr *audit.Transition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO canvass_transitions (id, execution_id, from_phase, to_phase, event, note, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID.String(), tr.ExecutionID.String(), string(tr.From), string(tr.To),
		string(tr.Event), tr.Note, tr.At,
	)
	if err != nil {
		return fmt.Errorf("canvass/postgres: append transition: %w", err)
	}
	return nil
}

// ListTransitions returns an execution's transitions in commit order.
func (s *Store) ListTransitions(ctx context.Context, execID id.ExecutionID) ([]*audit.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, from_phase, to_phase, event, note, at
		FROM canvass_transitions
		WHERE execution_id = $1
		ORDER BY at ASC, id ASC`,
		execID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("canvass/postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var out []*audit.Transition
	for rows.Next() {
		var (
			tr        audit.Transition
			trIDStr   string
			execIDStr string
			from, to  string
			event     string
		)
		if err := rows.Scan(&trIDStr, &execIDStr, &from, &to, &event, &tr.Note, &tr.At); err != nil {
			return nil, fmt.Errorf("canvass/postgres: scan transition: %w", err)
		}
		trID, err := id.ParseTransitionID(trIDStr)
		if err != nil {
			return nil, fmt.Errorf("canvass/postgres: parse transition id: %w", err)
		}
		eID, err := id.ParseExecutionID(execIDStr)
		if err != nil {
			return nil, fmt.Errorf("canvass/postgres: parse execution id: %w", err)
		}
		tr.ID = trID
		tr.ExecutionID = eID
		tr.From = execution.Phase(from)
		tr.To = execution.Phase(to)
		tr.Event = execution.Event(event)
		out = append(out, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvass/postgres: list transitions: %w", err)
	}
	return out, nil
}
