package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisHitPrefix    = "hit:"
	RedisCompletedKey = "hits:completed"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore keeps each hit for ttl, long enough for its unload to arrive. Completed
// hits are appended to the RedisCompletedKey list for downstream consumers.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) Store {
	return &redisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *redisStore) Persist(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal hit: %w", err)
	}
	if err := s.client.Set(ctx, redisHitPrefix+ev.BeaconID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store hit: %w", err)
	}
	return nil
}

func (s *redisStore) UpdateDuration(ctx context.Context, u *DurationUpdate) error {
	key := redisHitPrefix + u.BeaconID

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrEventNotFound
		}
		return fmt.Errorf("failed to load hit: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal hit: %w", err)
	}
	if ev.DurationMs != nil {
		s.logger.Debug("hit already completed", zap.String("bid", u.BeaconID))
		return nil
	}
	ev.DurationMs = &u.DurationMs

	completed, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("failed to marshal hit: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetArgs(ctx, key, completed, redis.SetArgs{KeepTTL: true})
		pipe.RPush(ctx, RedisCompletedKey, completed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete hit: %w", err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
