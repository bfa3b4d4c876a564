package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/id"
)

// AppendTransition appends the transition to the execution's log List.
func (s *Store) AppendTransition(ctx context.Context, tr *audit.Transition) error {
	b, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("canvass/redis: marshal transition: %w", err)
	}
	if err := s.client.RPush(ctx, transitionsKey(tr.ExecutionID.String()), b).Err(); err != nil {
		return fmt.Errorf("canvass/redis: append transition: %w", err)
	}
	return nil
}

// ListTransitions returns an execution's transitions in commit order.
func (s *Store) ListTransitions(ctx context.Context, execID id.ExecutionID) ([]*audit.Transition, error) {
	raw, err := s.client.LRange(ctx, transitionsKey(execID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("canvass/redis: list transitions: %w", err)
	}

	out := make([]*audit.Transition, 0, len(raw))
	for _, item := range raw {
		var tr audit.Transition
		if uErr := json.Unmarshal([]byte(item), &tr); uErr != nil {
			s.logger.Warn("skipping undecodable transition", "execution_id", execID, "error", uErr)
			continue
		}
		out = append(out, &tr)
	}
	return out, nil
}
