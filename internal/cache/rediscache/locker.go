package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// release only deletes the key while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks across processes.
type Locker struct {
	c *redis.Client
}

func NewLocker(c *redis.Client) *Locker {
	return &Locker{c: c}
}

// TryLock returns a release func when key was free, or ok=false when someone else holds it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return errors.Wrap(releaseScript.Run(ctx, l.c, []string{key}, token).Err(), "redis unlock")
	}
	return release, true, nil
}
