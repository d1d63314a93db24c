package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/metrics"
)

// CheckpointStore persists stream delivery positions in Redis so a
// restarted consumer can seed its resumption strategy.
type CheckpointStore struct {
	rdb *redis.Client
}

// NewCheckpointStore creates a Redis-backed checkpoint store.
func NewCheckpointStore(client *Client) *CheckpointStore {
	return &CheckpointStore{rdb: client.rdb}
}

func (s *CheckpointStore) key(streamID string) string {
	return fmt.Sprintf("relay:checkpoint:%s", streamID)
}

// Save upserts the checkpoint for a stream.
func (s *CheckpointStore) Save(ctx context.Context, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(cp.StreamID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	metrics.CheckpointOpsTotal.WithLabelValues("save").Inc()
	return nil
}

// Get retrieves the checkpoint for a stream; nil when absent.
func (s *CheckpointStore) Get(ctx context.Context, streamID string) (*domain.Checkpoint, error) {
	data, err := s.rdb.Get(ctx, s.key(streamID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	metrics.CheckpointOpsTotal.WithLabelValues("get").Inc()
	return &cp, nil
}

// Delete removes the checkpoint for a stream.
func (s *CheckpointStore) Delete(ctx context.Context, streamID string) error {
	if err := s.rdb.Del(ctx, s.key(streamID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	metrics.CheckpointOpsTotal.WithLabelValues("delete").Inc()
	return nil
}
