package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tubesearch/apps/backend/internal/lock"
)

const keyPrefix = "tubesearch:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker hands out per-key leases backed by SET NX PX.
type Locker struct {
	client *redis.Client
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// TryLock returns ok=false when another holder owns key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("error acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &lease{client: l.client, key: key, token: token}, true, nil
}

type lease struct {
	client *redis.Client
	key    string
	token  string
}

func (s *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, s.client, []string{keyPrefix + s.key}, s.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("error extending lock %s: %w", s.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", lock.ErrLeaseLost, s.key)
	}
	return nil
}

// Release is safe to call after the lease expired.
func (s *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + s.key}, s.token).Err(); err != nil {
		return fmt.Errorf("error releasing lock %s: %w", s.key, err)
	}
	return nil
}
