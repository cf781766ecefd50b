package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a Ledger shared by every simulator instance pointing at addr.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "warden:",
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) UseOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
}

func (r *Redis) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	k := r.prefix + key
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (r *Redis) Count(ctx context.Context, key string) (int, error) {
	n, err := r.client.Get(ctx, r.prefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, r.prefix+key).Result()
	if err != nil || d < 0 {
		return 0, err
	}
	return d, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
