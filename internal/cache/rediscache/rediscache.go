package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// NewClient returns the client shared by the view cache, the label locker and the
// per-carrier rate limiter.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// RedisCache stores serialized shipment views.
type RedisCache struct {
	c *redis.Client
}

func New(c *redis.Client) *RedisCache {
	return &RedisCache{c: c}
}

// Get reports a miss as (nil, false, nil).
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrapf(err, "cache get %s", key)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrapf(r.c.Set(ctx, key, value, ttl).Err(), "cache set %s", key)
}

func (r *RedisCache) Del(ctx context.Context, key string) error {
	return errors.Wrapf(r.c.Del(ctx, key).Err(), "cache del %s", key)
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}
