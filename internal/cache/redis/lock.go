package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// unlockLua deletes the lock only if the caller still holds it.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only if the caller still holds the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and
// token-checked Lua scripts for extend and release.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire obtains the lock for key. It returns domain.ErrLockHeld when
// another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock:", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return &lease{lm: lm, key: lk, token: token}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	once  sync.Once
}

// Extend implements domain.Lease. It returns domain.ErrLockHeld when the
// lease was lost to expiry.
func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := l.lm.extendSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release implements domain.Lease. It is safe to call more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		// The caller's context may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}

var _ domain.LockManager = (*LockManager)(nil)
