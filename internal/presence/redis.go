package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"uk.co.dudmesh.roost/internal/model"
)

const DefaultTTL = 90 * time.Second

// redisRegistry shares presence between server instances. Each user is a hash
// with one field per instance holding connections for them, so one instance
// going quiet does not hide the user's connections on another. The key expires
// unless a heartbeat renews it, which bounds how long a crashed instance can
// keep a user online.
type redisRegistry struct {
	client   *redis.Client
	instance string
	ttl      time.Duration
}

func NewRedis(client *redis.Client, instance string, ttl time.Duration) *redisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisRegistry{client, instance, ttl}
}

func presenceKey(user model.UserID) string {
	return "presence:user:" + string(user)
}

func (r *redisRegistry) SetOnline(ctx context.Context, user model.UserID) error {
	key := presenceKey(user)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, r.instance, time.Now().Unix())
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting %s online: %w", user, err)
	}
	return nil
}

func (r *redisRegistry) SetOffline(ctx context.Context, user model.UserID) error {
	if err := r.client.HDel(ctx, presenceKey(user), r.instance).Err(); err != nil {
		return fmt.Errorf("setting %s offline: %w", user, err)
	}
	return nil
}

func (r *redisRegistry) IsOnline(ctx context.Context, user model.UserID) (bool, error) {
	n, err := r.client.Exists(ctx, presenceKey(user)).Result()
	if err != nil {
		return false, fmt.Errorf("checking presence of %s: %w", user, err)
	}
	return n == 1, nil
}

func (r *redisRegistry) OnlineCount(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, presenceKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("counting online users: %w", err)
	}
	return count, nil
}

func (r *redisRegistry) Touch(ctx context.Context, user model.UserID) error {
	return r.SetOnline(ctx, user)
}
