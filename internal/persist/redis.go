package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-collab/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// RedisSaver stores the latest effective operation per shared object and
// publishes every effective operation on a channel for out-of-process
// consumers (document services, activity feeds). Payloads stay opaque: the
// document format is not owned here.
type RedisSaver struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

var _ Saver = (*RedisSaver)(nil)

func NewRedisSaver(addr, channel string, logger *slog.Logger) *RedisSaver {
	return &RedisSaver{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		logger:  logger.With(slog.String("component", "redis_saver")),
	}
}

// Ping verifies the backend is reachable.
func (s *RedisSaver) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSaver) Save(ctx context.Context, roomKey string, op protocol.Operation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	key := docKey(roomKey, op.ObjectID)
	if op.Type == protocol.OpDelete {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	} else {
		if err := s.client.Set(ctx, key, body, 0).Err(); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	if s.channel != "" {
		if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
			return fmt.Errorf("failed to publish operation: %w", err)
		}
	}
	return nil
}

func (s *RedisSaver) Close() error {
	return s.client.Close()
}

func docKey(roomKey, objectID string) string {
	return "doc:" + roomKey + ":" + objectID
}
