package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, max int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{Prefix: "t", MaxAttempts: max, Window: time.Minute}), mr
}

func TestLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 3)

	for i := 0; i < 2; i++ {
		if err := l.Increment(ctx, "id"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if err := l.Check(ctx, "id"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if err := l.Increment(ctx, "id"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on the last attempt, got %v", err)
	}
	if err := l.Check(ctx, "id"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected check to be limited, got %v", err)
	}
	if ttl := mr.TTL("t:id"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected window ttl %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.Check(ctx, "id"); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestLimiterReset(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t, 1)
	_ = l.Increment(ctx, "id")
	if err := l.Check(ctx, "id"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
	if err := l.Reset(ctx, "id"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, err := l.Attempts(ctx, "id"); err != nil || n != 0 {
		t.Fatalf("attempts after reset = %d, %v", n, err)
	}
}
