package mayasync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockBusy means another job already holds the connection's lock.
	// Control-flow result, not a failure; callers never block or poll on it.
	ErrLockBusy = errors.New("connection lock busy")
	// ErrLockNotHeld means the key is gone or owned by a different token.
	ErrLockNotHeld = errors.New("connection lock not held by this token")
)

// redisCmds is the slice of go-redis this lock needs. *redis.Client
// satisfies it; tests use an in-memory fake.
type redisCmds interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Owner-token compare-and-X scripts. All single-key, so the concurrency
// reasoning stays local: whoever holds the current token wins, everyone
// else gets 0.
const (
	rebindScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("set", KEYS[1], ARGV[2], "keepttl")
else
	return 0
end`
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`
	renewScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`
)

// LockManager provides the short-lived, renewable per-connection lease.
// The TTL is the only timeout primitive: a crashed worker's lock self-expires.
type LockManager struct {
	rdb    redisCmds
	prefix string
}

func NewLockManager(rdb redisCmds) *LockManager {
	return &LockManager{rdb: rdb, prefix: "lock:"}
}

func (m *LockManager) key(connectionId uint) string {
	return fmt.Sprintf("%s%d", m.prefix, connectionId)
}

// Acquire sets the lock to a fresh pending token only if absent. Returns the
// pending token on success, ErrLockBusy if someone else holds the key.
func (m *LockManager) Acquire(ctx context.Context, connectionId uint, ttl time.Duration) (string, error) {
	token := "pending:" + uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, m.key(connectionId), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockBusy
	}
	return token, nil
}

// Rebind swaps the owner token (pending -> job id) keeping the current TTL,
// so any worker that later processes the job can release or renew.
func (m *LockManager) Rebind(ctx context.Context, connectionId uint, token, newOwner string) error {
	res, err := m.rdb.Eval(ctx, rebindScript, []string{m.key(connectionId)}, token, newOwner).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release deletes the lock if the token still owns it.
func (m *LockManager) Release(ctx context.Context, connectionId uint, token string) error {
	res, err := m.rdb.Eval(ctx, releaseScript, []string{m.key(connectionId)}, token).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Renew extends the TTL if the token still owns the lock. Workers call this
// between windows so a long job outlives the initial lease.
func (m *LockManager) Renew(ctx context.Context, connectionId uint, token string, ttl time.Duration) error {
	res, err := m.rdb.Eval(ctx, renewScript, []string{m.key(connectionId)}, token, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Holder returns the current owner token, if any.
func (m *LockManager) Holder(ctx context.Context, connectionId uint) (string, bool, error) {
	val, err := m.rdb.Get(ctx, m.key(connectionId)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}
