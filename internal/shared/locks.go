package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OrderLockKey builds the redis key serialising work on one order.
func OrderLockKey(orderID uuid.UUID) string {
	return fmt.Sprintf("orders:%s:lock", orderID)
}

// BatchLockKey builds the redis key serialising structural work on one batch.
func BatchLockKey(batchID uuid.UUID) string {
	return fmt.Sprintf("batches:%s:lock", batchID)
}

// DefaultLockTTL bounds how long a crashed holder can block a key.
const DefaultLockTTL = 15 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker provides short-lived mutual exclusion backed by redis.
// A nil Locker or one without a client hands out no-op locks.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the lock for key or fails with ErrConcurrentModification when it is held.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked", ErrConcurrentModification, key)
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// WithLocks runs fn while holding every key. Keys are taken in the given order.
func (l *Locker) WithLocks(ctx context.Context, keys []string, fn func(context.Context) error) (err error) {
	releases := make([]func(context.Context) error, 0, len(keys))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			if rerr := releases[i](context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, redis.Nil) && err == nil {
				err = rerr
			}
		}
	}()
	for _, key := range keys {
		release, aerr := l.Acquire(ctx, key)
		if aerr != nil {
			return aerr
		}
		releases = append(releases, release)
	}
	return fn(ctx)
}
