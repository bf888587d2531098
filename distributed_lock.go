package canarystore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLeaseTTL = 30 * time.Second

// Both scripts act only while KEYS[1] still carries the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// DistributedLock hands out Redis leases so that only one canarystore
// process at a time rewrites a given account's config index.
type DistributedLock struct {
	client *redis.Client
	prefix string
}

func NewDistributedLock(client *redis.Client, keyPrefix string) *DistributedLock {
	return &DistributedLock{client: client, prefix: keyPrefix}
}

func (l *DistributedLock) redisKey(name string) string {
	return l.prefix + ":lock:" + name
}

// Lease is one successful acquisition. Its TTL keeps running until it is
// released or extended.
type Lease struct {
	lock  *DistributedLock
	key   string
	token string
}

// Lock takes name for ttl (30s when ttl <= 0). A lock held elsewhere
// returns ErrLockHeld, which callers may retry.
func (l *DistributedLock) Lock(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	lease := &Lease{lock: l, key: l.redisKey(name), token: NewID()}

	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	case !ok:
		return nil, WithContext(ErrLockHeld, map[string]interface{}{"lock": name, "ttl": ttl})
	}
	return lease, nil
}

// LockWait polls Lock every retry.Backoff, at most retry.MaxAttempts times,
// while the lock is held elsewhere. Other failures return immediately.
func (l *DistributedLock) LockWait(ctx context.Context, name string, ttl time.Duration, retry RetryConfig) (*Lease, error) {
	attempts := max(retry.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var lease *Lease
		if lease, err = l.Lock(ctx, name, ttl); err == nil || !IsRetryable(err) {
			return lease, err
		}
		if attempt < attempts {
			if serr := sleepContext(ctx, retry.Backoff); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, fmt.Errorf("lock %s not acquired after %d attempts: %w", name, attempts, err)
}

// Release gives the lock back if this lease still owns it. It uses a fresh
// context so that a cancelled caller does not leave the key behind. A lease
// that expired and was taken by another owner returns ErrLockHeld and leaves
// the new owner's key alone.
func (s *Lease) Release() error {
	n, err := releaseScript.Run(context.Background(), s.lock.client, []string{s.key}, s.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", s.key, err)
	}
	if n == 0 {
		return WithContext(ErrLockHeld, map[string]interface{}{"lock": s.key, "reason": "lease lost"})
	}
	return nil
}

// Extend resets the lease TTL. It returns ErrLockHeld once the lease has
// expired and been lost to another owner.
func (s *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, s.lock.client, []string{s.key}, s.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", s.key, err)
	}
	if n == 0 {
		return WithContext(ErrLockHeld, map[string]interface{}{"lock": s.key, "reason": "lease lost"})
	}
	return nil
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
