package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, nil), mr
}

func TestRedisLimiterWindowReset(t *testing.T) {
	lim, mr := newTestRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := lim.Check(ctx, "submit:k", 3, time.Second)
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if res.Remaining != 2-i {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, 2-i, res.Remaining)
		}
	}
	denied := lim.Check(ctx, "submit:k", 3, time.Second)
	if denied.Allowed || denied.Remaining != 0 {
		t.Fatalf("4th call should be rejected with remaining 0: %+v", denied)
	}
	if v, _ := mr.Get("rl:submit:k"); v != "3" {
		t.Errorf("rejected call must not increment, counter=%s", v)
	}

	mr.FastForward(time.Second + time.Millisecond)
	if !lim.Check(ctx, "submit:k", 3, time.Second).Allowed {
		t.Fatalf("call after window should be allowed")
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	lim := NewRedisLimiter(client, nil)

	res := lim.Check(context.Background(), "vote:x", 1, time.Minute)
	if !res.Allowed {
		t.Fatalf("unreachable backend must fail open")
	}
}
