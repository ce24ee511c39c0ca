package mayasync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory stand-in for the three commands the lock uses.
// Eval dispatches on the script text, mirroring the atomicity of the real
// scripts with a single mutex.
type fakeRedis struct {
	mu   sync.Mutex
	vals map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{vals: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.vals[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keys[0]
	current, exists := f.vals[key]
	owner, _ := args[0].(string)
	if !exists || current != owner {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case rebindScript:
		f.vals[key] = args[1].(string)
		return redis.NewCmdResult("OK", nil)
	case releaseScript:
		delete(f.vals, key)
		delete(f.ttls, key)
		return redis.NewCmdResult(int64(1), nil)
	case renewScript:
		ms, _ := args[1].(int64)
		f.ttls[key] = time.Duration(ms) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, errors.New("unknown script"))
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, exists := f.vals[key]
	if !exists {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func TestLockManager_ConcurrentAcquire_OneWinner(t *testing.T) {
	lm := NewLockManager(newFakeRedis())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	busy := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lm.Acquire(ctx, 7, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrLockBusy):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if busy != 24 {
		t.Fatalf("busy = %d, want 24", busy)
	}
}

func TestLockManager_RebindInvalidatesOldToken(t *testing.T) {
	lm := NewLockManager(newFakeRedis())
	ctx := context.Background()

	token, err := lm.Acquire(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const jobId = "job-abc"
	if err := lm.Rebind(ctx, 1, token, jobId); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	if err := lm.Release(ctx, 1, token); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("release with stale pending token: err = %v, want ErrLockNotHeld", err)
	}

	holder, held, err := lm.Holder(ctx, 1)
	if err != nil || !held || holder != jobId {
		t.Fatalf("holder = %q held=%v err=%v, want %q", holder, held, err, jobId)
	}

	if err := lm.Release(ctx, 1, jobId); err != nil {
		t.Fatalf("release by job id: %v", err)
	}
	if _, held, _ := lm.Holder(ctx, 1); held {
		t.Fatal("lock must be gone after release")
	}
}

func TestLockManager_RenewOnlyForOwner(t *testing.T) {
	rdb := newFakeRedis()
	lm := NewLockManager(rdb)
	ctx := context.Background()

	token, err := lm.Acquire(ctx, 3, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := lm.Renew(ctx, 3, "someone-else", time.Hour); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("renew by non-owner: err = %v, want ErrLockNotHeld", err)
	}
	if err := lm.Renew(ctx, 3, token, time.Hour); err != nil {
		t.Fatalf("renew by owner: %v", err)
	}
	if got := rdb.ttls["lock:3"]; got != time.Hour {
		t.Fatalf("ttl = %v, want %v", got, time.Hour)
	}
}

func TestLockManager_ReacquireAfterRelease(t *testing.T) {
	lm := NewLockManager(newFakeRedis())
	ctx := context.Background()

	token, err := lm.Acquire(ctx, 9, time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, 9, time.Minute); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("second acquire while held: err = %v, want ErrLockBusy", err)
	}
	if err := lm.Release(ctx, 9, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := lm.Acquire(ctx, 9, time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
