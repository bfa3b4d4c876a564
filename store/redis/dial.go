package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/id"
)

// callMember builds the queue member for a call: execID/propID/attempt.
// The composite member makes rescheduling an attempt a ZADD upsert.
func callMember(c *dial.Call) string {
	return fmt.Sprintf("%s/%s/%d", c.ExecutionID, c.PropertyID, c.Number)
}

// ScheduleCall stores the call as a Hash and adds it to the dial queue
// Sorted Set, scored by due time.
func (s *Store) ScheduleCall(ctx context.Context, c *dial.Call) error {
	member := callMember(c)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, callKey(member), callToMap(c))
	pipe.ZAdd(ctx, dialQueueKey, goredis.Z{
		Score:  float64(c.ScheduledAt.UnixMilli()),
		Member: member,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("canvass/redis: schedule call: %w", err)
	}
	return nil
}

// DequeueDueCalls claims up to limit due entries. Claiming is the ZREM:
// it returns how many members were removed, so of two racing workers
// exactly one sees 1 and takes the entry.
func (s *Store) DequeueDueCalls(ctx context.Context, limit int) ([]*dial.Call, error) {
	now := time.Now().UTC()

	members, err := s.client.ZRangeByScore(ctx, dialQueueKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("canvass/redis: dequeue zrangebyscore: %w", err)
	}

	var calls []*dial.Call
	for _, member := range members {
		removed, zErr := s.client.ZRem(ctx, dialQueueKey, member).Result()
		if zErr != nil {
			return nil, fmt.Errorf("canvass/redis: dequeue zrem: %w", zErr)
		}
		if removed == 0 {
			continue // another worker claimed it
		}

		key := callKey(member)
		vals, getErr := s.client.HGetAll(ctx, key).Result()
		if getErr != nil {
			return nil, fmt.Errorf("canvass/redis: dequeue get call: %w", getErr)
		}
		if len(vals) == 0 {
			continue // hash gone, nothing to dial
		}
		if dErr := s.client.Del(ctx, key).Err(); dErr != nil {
			s.logger.Warn("failed to delete claimed call hash", "member", member, "error", dErr)
		}

		c, convErr := mapToCall(vals)
		if convErr != nil {
			s.logger.Warn("skipping undecodable call", "member", member, "error", convErr)
			continue
		}
		calls = append(calls, c)
	}
	return calls, nil
}

// PurgeCalls drops all queued entries for an execution.
func (s *Store) PurgeCalls(ctx context.Context, execID id.ExecutionID) error {
	members, err := s.client.ZRange(ctx, dialQueueKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("canvass/redis: purge zrange: %w", err)
	}

	prefix := execID.String() + "/"
	pipe := s.client.TxPipeline()
	var matched bool
	for _, member := range members {
		if !strings.HasPrefix(member, prefix) {
			continue
		}
		matched = true
		pipe.ZRem(ctx, dialQueueKey, member)
		pipe.Del(ctx, callKey(member))
	}
	if !matched {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("canvass/redis: purge calls: %w", err)
	}
	return nil
}

// AcquireLease grants an exclusive lease via SET NX with TTL.
// Re-acquiring one's own lease extends it.
func (s *Store) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	lk := leaseKey(key)

	ok, err := s.client.SetNX(ctx, lk, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("canvass/redis: acquire lease setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	// Check if we already hold it.
	current, err := s.client.Get(ctx, lk).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Expired between SETNX and GET; next poll retries.
			return false, nil
		}
		return false, fmt.Errorf("canvass/redis: acquire lease get: %w", err)
	}
	if current == holder {
		// Re-acquire: extend TTL.
		if sErr := s.client.Set(ctx, lk, holder, ttl).Err(); sErr != nil {
			return false, fmt.Errorf("canvass/redis: acquire lease extend: %w", sErr)
		}
		return true, nil
	}
	return false, nil
}

// ReleaseLease frees the lease if the holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, key, holder string) error {
	lk := leaseKey(key)

	current, err := s.client.Get(ctx, lk).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil // already expired
		}
		return fmt.Errorf("canvass/redis: release lease get: %w", err)
	}
	if current != holder {
		return nil // someone else holds it now
	}
	if err := s.client.Del(ctx, lk).Err(); err != nil {
		return fmt.Errorf("canvass/redis: release lease: %w", err)
	}
	return nil
}

// ReapExpiredLeases is a no-op for Redis: lease keys carry a TTL and
// Redis expires them natively.
func (s *Store) ReapExpiredLeases(_ context.Context) (int, error) {
	return 0, nil
}

// ── helpers ──

func callToMap(c *dial.Call) map[string]interface{} {
	return map[string]interface{}{
		"id":           c.ID.String(),
		"execution_id": c.ExecutionID.String(),
		"property_id":  c.PropertyID,
		"attempt":      strconv.Itoa(c.Number),
		"scheduled_at": c.ScheduledAt.Format(time.RFC3339Nano),
		"created_at":   c.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   c.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToCall(m map[string]string) (*dial.Call, error) {
	callID, err := id.ParseCallID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("canvass/redis: parse call id: %w", err)
	}
	execID, err := id.ParseExecutionID(m["execution_id"])
	if err != nil {
		return nil, fmt.Errorf("canvass/redis: parse execution id: %w", err)
	}

	attempt, _ := strconv.Atoi(m["attempt"])                              //nolint:errcheck // best-effort parse from trusted Redis data
	scheduledAt, _ := time.Parse(time.RFC3339Nano, m["scheduled_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])         //nolint:errcheck // best-effort parse from trusted Redis data

	return &dial.Call{
		Entity: canvass.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          callID,
		ExecutionID: execID,
		PropertyID:  m["property_id"],
		Number:      attempt,
		ScheduledAt: scheduledAt,
	}, nil
}
