package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(base.Add(5 * time.Second)) {
		t.Fatalf("4th event inside window should be refused")
	}
	// The first event (t=0) leaves the window at t=10.
	if !rl.Allow(base.Add(10 * time.Second)) {
		t.Fatalf("event after oldest expired should be allowed")
	}
	if rl.Allow(base.Add(10500 * time.Millisecond)) {
		t.Fatalf("t=1 event still in window")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now()
	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d refused under default limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("default limit not enforced")
	}
}
