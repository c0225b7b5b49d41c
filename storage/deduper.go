package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper records webhook delivery ids in Redis so every instance
// skips a retried delivery.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(tenantID, key string) string {
	return fmt.Sprintf("webhook:%s:%s", tenantID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, tenantID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(tenantID, key), 1, r.ttl).Result()
}

// Remove deletes a recorded key so a failed delivery can be retried.
func (r *RedisDeduper) Remove(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, r.key(tenantID, key)).Err()
}
