package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 5; i++ {
		if !rl.Allow("client") {
			t.Fatalf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow("client") {
		t.Error("Allow() should return false once the burst is used up")
	}

	if !rl.Allow("other-client") {
		t.Error("Allow() should track identifiers independently")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("ip") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("ip") {
		t.Fatal("second request should be limited")
	}

	now = now.Add(time.Second)
	if !rl.Allow("ip") {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 3, nil)

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("ip-%d", i))
	}

	if got := rl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	if rl.evictions != 2 {
		t.Errorf("evictions = %d, want 2", rl.evictions)
	}
}

func TestRateLimiter_IdleSweep(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("stale")
	now = now.Add(DefaultRateLimitIdleTimeout + sweepInterval + time.Second)
	rl.Allow("fresh")

	if got := rl.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1 after sweeping the idle entry", got)
	}
}
