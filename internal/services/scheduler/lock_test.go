package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) *RedisLocker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLockerFromClient(client)
}

func TestTryLockMutualExclusion(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	ok, err := locker.TryLock(ctx, "user_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = locker.TryLock(ctx, "user_1", time.Minute)
	if err != nil {
		t.Fatalf("second lock attempt errored: %v", err)
	}
	if ok {
		t.Fatalf("expected second lock attempt to fail while first holder still holds it")
	}
}

func TestUnlockReleasesForNextHolder(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	if _, err := locker.TryLock(ctx, "user_2", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := locker.Unlock(ctx, "user_2"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	ok, err := locker.TryLock(ctx, "user_2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock to be acquirable after unlock, got ok=%v err=%v", ok, err)
	}
}

func TestUnlockIsSafeAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	locker := NewRedisLockerFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	if _, err := locker.TryLock(ctx, "user_3", time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// miniredis does not expire keys on wall-clock time; advance its clock.
	mr.FastForward(10 * time.Millisecond)

	if err := locker.Unlock(ctx, "user_3"); err != nil {
		t.Fatalf("unlock after expiry should be a no-op, got: %v", err)
	}
}
