package lock

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// releaseScript deletes the lock key only if it still holds our token, so a
// slow holder whose TTL already expired cannot release a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker implements AdvisoryLocker on a shared Redis instance.
// The key TTL bounds the lock lifetime: a crashed holder's lock is expired
// by Redis instead of leaking forever.
type RedisLocker struct {
	client  *goredis.Client
	release *goredis.Script
}

// NewRedisLocker wraps an existing Redis client.
func NewRedisLocker(client *goredis.Client) *RedisLocker {
	return &RedisLocker{
		client:  client,
		release: goredis.NewScript(releaseScript),
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisLocker) Release(ctx context.Context, key, token string) error {
	n, err := r.release.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis release %s: token no longer holds the lock", key)
	}
	return nil
}
