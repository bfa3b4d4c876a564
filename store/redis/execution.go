package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
)

// swapScript performs the compare-and-swap atomically server-side: the
// version check and the document write happen in one script execution,
// so two racing workers can never both win.
//
// Returns 1 on success, 0 on a version mismatch, -1 when the key is
// missing.
var swapScript = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
	return -1
end
if v ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'phase', ARGV[3], 'doc', ARGV[4], 'updated_at', ARGV[5])
return 1
`)

// CreateExecution stores the execution as a Hash and registers its ID.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	eID := e.ID.String()
	key := executionKey(eID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("canvass/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return canvass.ErrExecutionExists
	}

	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("canvass/redis: marshal execution: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"version", strconv.FormatInt(e.Version, 10),
		"phase", string(e.Phase),
		"doc", string(doc),
		"created_at", e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", e.UpdatedAt.Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, executionIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("canvass/redis: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution document by id.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	doc, err := s.client.HGet(ctx, executionKey(execID.String()), "doc").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, canvass.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("canvass/redis: get execution: %w", err)
	}

	var e execution.Execution
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, fmt.Errorf("canvass/redis: unmarshal execution: %w", err)
	}
	return &e, nil
}

// CompareAndSwapExecution writes the document only when the stored
// version still equals expected.
func (s *Store) CompareAndSwapExecution(ctx context.Context, e *execution.Execution, expected int64) error {
	e.Version = expected + 1
	doc, err := json.Marshal(e)
	if err != nil {
		e.Version = expected
		return fmt.Errorf("canvass/redis: marshal execution: %w", err)
	}

	res, err := swapScript.Run(ctx, s.client,
		[]string{executionKey(e.ID.String())},
		strconv.FormatInt(expected, 10),
		strconv.FormatInt(e.Version, 10),
		string(e.Phase),
		string(doc),
		e.UpdatedAt.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		e.Version = expected
		return fmt.Errorf("canvass/redis: swap execution: %w", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		e.Version = expected
		return canvass.ErrExecutionNotFound
	default:
		e.Version = expected
		return fmt.Errorf("%w: expected version %d", canvass.ErrVersionConflict, expected)
	}
}

// ListExecutionsByPhase returns executions in any of the given phases,
// ordered by creation time.
func (s *Store) ListExecutionsByPhase(ctx context.Context, phases ...execution.Phase) ([]*execution.Execution, error) {
	want := make(map[execution.Phase]bool, len(phases))
	for _, p := range phases {
		want[p] = true
	}

	ids, err := s.client.SMembers(ctx, executionIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("canvass/redis: list executions smembers: %w", err)
	}

	var out []*execution.Execution
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, executionKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		if !want[execution.Phase(vals["phase"])] {
			continue
		}
		var e execution.Execution
		if uErr := json.Unmarshal([]byte(vals["doc"]), &e); uErr != nil {
			s.logger.Warn("skipping undecodable execution", "execution_id", eID, "error", uErr)
			continue
		}
		out = append(out, &e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
