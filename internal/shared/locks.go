package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DueLockKey builds redis keys for per-(account, date) ledger critical
// sections.
func DueLockKey(accountID int64, date time.Time) string {
	return fmt.Sprintf("billing:due:%d:%s:lock", accountID, date.Format("2006-01-02"))
}

// ErrLockNotAcquired indicates the lock stayed held past the wait budget.
var ErrLockNotAcquired = errors.New("shared: lock not acquired")

// RedisLocker serializes critical sections across processes with a
// TTL-bounded SETNX lock.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker constructs a RedisLocker. The TTL bounds how long a crashed
// holder can block others; wait bounds how long an acquirer spins.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait}
}

// WithLock runs fn while holding the named lock.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("shared: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	defer l.release(ctx, key, token)
	return fn()
}

// release deletes the lock only if this locker still owns it.
func (l *RedisLocker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	_ = l.client.Eval(ctx, script, []string{key}, token).Err()
}

// NopLocker runs the critical section without cross-process serialization.
// Single-node deployments rely on the database transaction instead.
type NopLocker struct{}

// WithLock runs fn directly.
func (NopLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	return fn()
}
