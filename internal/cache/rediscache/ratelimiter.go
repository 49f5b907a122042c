package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// fixedWindow counts hits on a key whose expiry is set once, by the first hit, so
// later hits never stretch the window.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a fixed-window counter shared by every worker process.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow records one hit on key and reports whether it fits into limit for the window,
// along with the hit count so far. A non-positive limit means unlimited.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	n, err := fixedWindow.Run(ctx, rl.c, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, errors.Wrapf(err, "rate limit %s", key)
	}
	return n <= limit, n, nil
}
