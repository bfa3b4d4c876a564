package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/id"
)

// ScheduleCall upserts a dial-queue entry keyed on
// (execution, property, attempt).
func (s *Store) ScheduleCall(ctx context.Context, c *dial.Call) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO canvass_dial_queue (
			execution_id, property_id, attempt, id, scheduled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, property_id, attempt)
		DO UPDATE SET scheduled_at = EXCLUDED.scheduled_at, updated_at = NOW()`,
		c.ExecutionID.String(), c.PropertyID, c.Number, c.ID.String(),
		c.ScheduledAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("canvass/postgres: schedule call: %w", err)
	}
	return nil
}

// DequeueDueCalls atomically claims up to limit due entries, deleting
// them from the queue. Uses SELECT FOR UPDATE SKIP LOCKED so
// concurrent workers never claim the same entry.
func (s *Store) DequeueDueCalls(ctx context.Context, limit int) ([]*dial.Call, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			DELETE FROM canvass_dial_queue
			WHERE (execution_id, property_id, attempt) IN (
				SELECT execution_id, property_id, attempt
				FROM canvass_dial_queue
				WHERE scheduled_at <= NOW()
				ORDER BY scheduled_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			RETURNING execution_id, property_id, attempt, id, scheduled_at, created_at, updated_at
		)
		SELECT * FROM claimed ORDER BY scheduled_at ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("canvass/postgres: dequeue calls: %w", err)
	}
	defer rows.Close()

	var out []*dial.Call
	for rows.Next() {
		var (
			c         dial.Call
			execIDStr string
			callIDStr string
		)
		if err := rows.Scan(&execIDStr, &c.PropertyID, &c.Number, &callIDStr, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("canvass/postgres: scan call: %w", err)
		}
		execID, err := id.ParseExecutionID(execIDStr)
		if err != nil {
			return nil, fmt.Errorf("canvass/postgres: parse execution id: %w", err)
		}
		callID, err := id.ParseCallID(callIDStr)
		if err != nil {
			return nil, fmt.Errorf("canvass/postgres: parse call id: %w", err)
		}
		c.ExecutionID = execID
		c.ID = callID
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvass/postgres: dequeue calls: %w", err)
	}
	return out, nil
}

// PurgeCalls drops all queued entries for an execution.
func (s *Store) PurgeCalls(ctx context.Context, execID id.ExecutionID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM canvass_dial_queue WHERE execution_id = $1`,
		execID.String(),
	)
	if err != nil {
		return fmt.Errorf("canvass/postgres: purge calls: %w", err)
	}
	return nil
}

// AcquireLease grants an exclusive lease on the key for the TTL. The
// upsert only overwrites an existing row when its lease has expired or
// the same holder is extending, so exactly one holder wins a contended
// key.
func (s *Store) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO canvass_leases (key, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE canvass_leases.expires_at <= NOW()
		   OR canvass_leases.holder = EXCLUDED.holder`,
		key, holder, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("canvass/postgres: acquire lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease frees the lease if the holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, key, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM canvass_leases WHERE key = $1 AND holder = $2`,
		key, holder,
	)
	if err != nil {
		return fmt.Errorf("canvass/postgres: release lease: %w", err)
	}
	return nil
}

// ReapExpiredLeases removes leases past their expiry.
func (s *Store) ReapExpiredLeases(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM canvass_leases WHERE expires_at <= NOW()`,
	)
	if err != nil {
		return 0, fmt.Errorf("canvass/postgres: reap leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
