package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
)

// CreateExecution persists a new execution document at version 1.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("canvass/postgres: marshal execution: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO canvass_executions (id, phase, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID.String(), string(e.Phase), e.Version, doc, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return canvass.ErrExecutionExists
		}
		return fmt.Errorf("canvass/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution document by id.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM canvass_executions WHERE id = $1`,
		execID.String(),
	).Scan(&doc)
	if err != nil {
		if isNoRows(err) {
			return nil, canvass.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("canvass/postgres: get execution: %w", err)
	}

	var e execution.Execution
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("canvass/postgres: unmarshal execution: %w", err)
	}
	return &e, nil
}

// CompareAndSwapExecution writes the document only when the stored
// version still equals expected. The version predicate on the UPDATE
// makes the check-and-write a single atomic statement.
func (s *Store) CompareAndSwapExecution(ctx context.Context, e *execution.Execution, expected int64) error {
	e.Version = expected + 1
	doc, err := json.Marshal(e)
	if err != nil {
		e.Version = expected
		return fmt.Errorf("canvass/postgres: marshal execution: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE canvass_executions
		SET phase = $2, version = $3, doc = $4, updated_at = $5
		WHERE id = $1 AND version = $6`,
		e.ID.String(), string(e.Phase), e.Version, doc, e.UpdatedAt, expected,
	)
	if err != nil {
		e.Version = expected
		return fmt.Errorf("canvass/postgres: swap execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		e.Version = expected
		// Distinguish a lost race from a missing row.
		var exists bool
		if probeErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM canvass_executions WHERE id = $1)`,
			e.ID.String(),
		).Scan(&exists); probeErr != nil {
			return fmt.Errorf("canvass/postgres: swap probe: %w", probeErr)
		}
		if !exists {
			return canvass.ErrExecutionNotFound
		}
		return fmt.Errorf("%w: expected version %d", canvass.ErrVersionConflict, expected)
	}
	return nil
}

// ListExecutionsByPhase returns executions in any of the given phases,
// ordered by creation time.
func (s *Store) ListExecutionsByPhase(ctx context.Context, phases ...execution.Phase) ([]*execution.Execution, error) {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM canvass_executions
		WHERE phase = ANY($1)
		ORDER BY created_at ASC`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("canvass/postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("canvass/postgres: scan execution: %w", err)
		}
		var e execution.Execution
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("canvass/postgres: unmarshal execution: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvass/postgres: list executions: %w", err)
	}
	return out, nil
}
