package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/gocart/internal/clock"
)

func TestMemoryLockerExclusion(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewMemoryLocker(fake.Now)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "settlement:lock:stripe:evt_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locker.TryLock(ctx, "settlement:lock:stripe:evt_1", time.Minute); ok {
		t.Fatalf("expected second lock to fail while held")
	}

	if err := locker.Release(ctx, "settlement:lock:stripe:evt_1", "someone-else"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "settlement:lock:stripe:evt_1", time.Minute); ok {
		t.Fatalf("release with a foreign token must not unlock")
	}

	if err := locker.Release(ctx, "settlement:lock:stripe:evt_1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "settlement:lock:stripe:evt_1", time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewMemoryLocker(fake.Now)
	ctx := context.Background()

	if _, ok, _ := locker.TryLock(ctx, "k", time.Second); !ok {
		t.Fatalf("expected lock")
	}
	fake.Advance(2 * time.Second)
	if _, ok, _ := locker.TryLock(ctx, "k", time.Second); !ok {
		t.Fatalf("expected expired lock to be reacquired")
	}
}

func TestRedisLockerWithoutClient(t *testing.T) {
	var locker *RedisLocker
	if _, _, err := locker.TryLock(context.Background(), "k", time.Second); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured error, got %v", err)
	}
	if err := locker.Release(context.Background(), "k", "t"); err != nil {
		t.Fatalf("release on nil locker must be a no-op: %v", err)
	}
	if NewRedisLocker(nil) != nil {
		t.Fatalf("expected nil locker for nil client")
	}
}
