package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 10 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) IsOwned(ctx context.Context, userID, trackID uuid.UUID) error {
	err := r.client.Get(ctx, ownedKey(userID, trackID)).Err()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	return nil
}

func (r *RedisCache) MarkOwned(ctx context.Context, userID uuid.UUID, trackIDs ...uuid.UUID) error {
	if len(trackIDs) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range trackIDs {
		jitter := time.Duration(rand.Intn(60)) * time.Second
		pipe.Set(ctx, ownedKey(userID, id), "1", r.baseTTL+jitter)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func ownedKey(userID, trackID uuid.UUID) string {
	return fmt.Sprintf("owned:%s:%s", userID, trackID)
}
