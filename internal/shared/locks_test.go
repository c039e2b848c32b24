package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second, 200*time.Millisecond), mr
}

func TestDueLockKey(t *testing.T) {
	date := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	require.Equal(t, "billing:due:42:2026-03-02:lock", DueLockKey(42, date))
}

func TestWithLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	ran := false
	err := locker.WithLock(ctx, "k", func() error {
		ran = true
		require.True(t, mr.Exists("k"))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists("k"))
}

func TestWithLockBlocksSecondHolder(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	err := locker.WithLock(ctx, "k", func() error {
		return locker.WithLock(ctx, "k", func() error { return nil })
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	err := locker.WithLock(ctx, "k", func() error {
		// Simulate TTL expiry and takeover by another process.
		mr.Set("k", "someone-else")
		return nil
	})
	require.NoError(t, err)
	require.True(t, mr.Exists("k"))
	got, _ := mr.Get("k")
	require.Equal(t, "someone-else", got)
}

func TestNopLocker(t *testing.T) {
	ran := false
	err := NopLocker{}.WithLock(context.Background(), "k", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}
