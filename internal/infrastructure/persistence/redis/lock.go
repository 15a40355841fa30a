package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only while it still holds the caller's
// token, so an expired holder cannot release a lock taken over by another.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock takes resource for ttl with SET NX. ok is false when someone else
// holds it; release is only non-nil when ok is true.
func (c *Cache) TryLock(ctx context.Context, resource, token string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	if resource == "" || token == "" {
		return nil, false, ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		return nil, false, ErrCacheInvalidTTL
	}

	key := LockKey(resource)
	if ok, err = c.client.SetNX(ctx, key, token, ttl).Result(); err != nil || !ok {
		return nil, false, err
	}
	release = func(ctx context.Context) error {
		return unlockScript.Run(ctx, c.client, []string{key}, token).Err()
	}
	return release, true, nil
}
