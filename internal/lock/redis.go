package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisBackend stores locks as plain string keys with a PX expiry.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend namespaces every lock key under prefix (e.g. "pcs:lock:").
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) k(key string) string { return b.prefix + key }

// TryAcquire implements Backend.
func (b *RedisBackend) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	return b.client.SetNX(ctx, b.k(key), token, lease).Result()
}

// Renew implements Backend.
func (b *RedisBackend) Renew(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.client, []string{b.k(key)}, token, lease.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release implements Backend.
func (b *RedisBackend) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, b.client, []string{b.k(key)}, token).Err()
}

// Holder returns the token currently holding key, or "" when free.
func (b *RedisBackend) Holder(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, b.k(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}
