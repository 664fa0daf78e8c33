package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Second), mr
}

func TestLockerRejectsSecondHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	key := OrderLockKey(uuid.New())

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrConcurrentModification)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(key))

	release, err = locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	key := BatchLockKey(uuid.New())

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(key))
	require.NoError(t, mr.Set(key, "someone-else"))

	require.NoError(t, release(ctx))
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestWithLocksReleasesAll(t *testing.T) {
	locker, mr := newTestLocker(t)
	keys := []string{OrderLockKey(uuid.New()), BatchLockKey(uuid.New())}

	called := false
	err := locker.WithLocks(context.Background(), keys, func(ctx context.Context) error {
		called = true
		for _, k := range keys {
			require.True(t, mr.Exists(k))
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
	for _, k := range keys {
		require.False(t, mr.Exists(k))
	}
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *Locker
	err := locker.WithLocks(context.Background(), []string{"k"}, func(context.Context) error { return nil })
	require.NoError(t, err)
}
