package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript only deletes the key if it still holds the token we set,
// so a lock that expired and was re-acquired by someone else is never
// released out from under them.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker implements Locker with Redis SETNX-with-TTL.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker builds a RedisLocker on top of an existing client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

type redisHandle struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	if !ok {
		return nil, ErrAlreadyHeld
	}

	return &redisHandle{client: l.client, key: name, token: token}, nil
}

// Release implements Handle.
func (h *redisHandle) Release(ctx context.Context) error {
	if err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("releasing lock %q: %w", h.key, err)
	}
	return nil
}
