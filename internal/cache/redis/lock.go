package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mkarlsen/updown/internal/domain"
)

// unlockLua deletes a lock key only when its value matches the caller's
// token, so one holder cannot release a lock that has since expired and been
// re-acquired by another.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only when its value still matches the
// holder's token, so an expired and re-acquired lock cannot be extended by
// the old holder.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL.
// The tracker uses it to keep a single instance active per slug prefix.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		tokens:    make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain the lock for key with the given TTL. On success
// it returns an unlock function, safe to call more than once. It returns
// domain.ErrLockHeld when another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		lm.mu.Lock()
		delete(lm.tokens, key)
		lm.mu.Unlock()

		// Background context so unlock works even after the caller's
		// context is cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

// Refresh extends the TTL of a lock this manager acquired. It returns
// domain.ErrLockHeld when the lock has lapsed and been taken by another
// party in the meantime.
func (lm *LockManager) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: refresh lock %s: not held by this instance", key)
	}

	n, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w", key, domain.ErrLockHeld)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
