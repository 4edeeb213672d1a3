package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("second request should pass")
	}
	blocked := limiter.Allow(ctx, "ip-1")
	if blocked.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if blocked.RetryAfter != 45*time.Second {
		t.Fatalf("unexpected retry after %v", blocked.RetryAfter)
	}
	if !limiter.Allow(ctx, "ip-2").Allowed {
		t.Fatalf("other keys have their own quota")
	}

	limiter.now = func() time.Time { return fixed.Add(time.Minute) }
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("next window should pass")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}

func TestNilLimiterDenies(t *testing.T) {
	var limiter *FixedWindowLimiter
	if limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("nil limiter must deny")
	}
}
