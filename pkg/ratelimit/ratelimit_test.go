package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NoBlockWhenZeroDelay(t *testing.T) {
	limiter := NewLimiter(0, 0.5)

	start := time.Now()
	err := limiter.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with zero delay should not block")
	}
}

func TestLimiter_WaitsEveryCall(t *testing.T) {
	limiter := NewLimiter(50*time.Millisecond, 0)
	ctx := context.Background()

	// Every call pays the full delay, including the first one.
	for i := 0; i < 2; i++ {
		start := time.Now()
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		duration := time.Since(start)
		if duration < 45*time.Millisecond || duration > 150*time.Millisecond {
			t.Errorf("call %d: expected wait around 50ms, took %v", i, duration)
		}
	}
}

func TestLimiter_DelayIndependentOfCallerLatency(t *testing.T) {
	limiter := NewLimiter(40*time.Millisecond, 0)
	ctx := context.Background()

	_ = limiter.Wait(ctx)
	// Simulate a slow response: a ticker would let the next call through
	// immediately, the fixed delay must not.
	time.Sleep(60 * time.Millisecond)

	start := time.Now()
	_ = limiter.Wait(ctx)
	if d := time.Since(start); d < 35*time.Millisecond {
		t.Errorf("expected full delay after slow call, took %v", d)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(time.Second, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Wait(ctx)
	if err == nil {
		t.Fatalf("expected context canceled error")
	}
}

func TestLimiter_CancelDuringWait(t *testing.T) {
	limiter := NewLimiter(time.Second, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("wait did not return promptly on cancel")
	}
}

func TestLimiter_Jitter(t *testing.T) {
	limiter := NewLimiter(50*time.Millisecond, 0.5) // 50ms to 75ms

	start := time.Now()
	_ = limiter.Wait(context.Background())
	duration := time.Since(start)

	// Jitter only lengthens the pause. Allow some slack for scheduling.
	if duration < 45*time.Millisecond || duration > 250*time.Millisecond {
		t.Errorf("expected jittered wait between 50ms and 75ms, took %v", duration)
	}
}

func TestNewLimiter_ClampsJitter(t *testing.T) {
	l := NewLimiter(time.Second, 3)
	if l.jitter != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", l.jitter)
	}
	l = NewLimiter(time.Second, -1)
	if l.jitter != 0 {
		t.Errorf("expected jitter clamped to 0, got %v", l.jitter)
	}
	if got := NewLimiter(-time.Second, 0).Delay(); got != 0 {
		t.Errorf("expected negative delay clamped to 0, got %v", got)
	}
}
