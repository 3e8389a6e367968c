package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisCache shares entries between server instances.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *redisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisCache{client, ttl}
}

func redisKey(name, key string) string {
	return "cache:" + name + ":" + key
}

func (c *redisCache) Get(ctx context.Context, name, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, redisKey(name, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("getting %s/%s from redis: %w", name, key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", name, key, err)
	}
	return true, nil
}

func (c *redisCache) Put(ctx context.Context, name, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", name, key, err)
	}
	if err := c.client.Set(ctx, redisKey(name, key), encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("putting %s/%s in redis: %w", name, key, err)
	}
	return nil
}

func (c *redisCache) Invalidate(ctx context.Context, name, key string) error {
	if err := c.client.Del(ctx, redisKey(name, key)).Err(); err != nil {
		return fmt.Errorf("invalidating %s/%s: %w", name, key, err)
	}
	return nil
}

func (c *redisCache) InvalidateAll(ctx context.Context, name string) error {
	iter := c.client.Scan(ctx, 0, redisKey(name, "*"), 100).Iterator()
	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", name, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidating %s: %w", name, err)
	}
	return nil
}

// Close leaves the client open; it is shared with presence.
func (c *redisCache) Close() error {
	return nil
}
