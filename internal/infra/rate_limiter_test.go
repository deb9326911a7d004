package infra

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowLimiter_TryAcquire(t *testing.T) {
	rl := NewSlidingWindowLimiter(2, time.Minute)

	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if !rl.TryAcquire() {
		t.Error("expected second TryAcquire to succeed")
	}

	// Third should fail (window full)
	if rl.TryAcquire() {
		t.Error("expected third TryAcquire to fail")
	}
	if rl.Count() != 2 {
		t.Errorf("Expected 2 calls in window, got %d", rl.Count())
	}
	if rl.TimeUntilAllowed() <= 0 {
		t.Error("expected a positive wait once the window is full")
	}
}

func TestSlidingWindowLimiter_WindowSlides(t *testing.T) {
	rl := NewSlidingWindowLimiter(1, 50*time.Millisecond)

	if !rl.TryAcquire() {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if rl.TryAcquire() {
		t.Error("expected immediate TryAcquire to fail")
	}

	time.Sleep(60 * time.Millisecond)

	if !rl.TryAcquire() {
		t.Error("expected TryAcquire to succeed after the window slid")
	}
}

// Limit+1 instantaneous calls: the last one waits for the first to leave the window.
func TestSlidingWindowLimiter_DelaysOverflowCall(t *testing.T) {
	const limit = 120
	window := 200 * time.Millisecond
	rl := NewSlidingWindowLimiter(limit, window)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < limit; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > window/2 {
		t.Fatalf("first %d calls should not block, took %v", limit, elapsed)
	}

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("overflow Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < window {
		t.Errorf("expected call %d to wait for the window, elapsed=%v", limit+1, elapsed)
	}
}

func TestSlidingWindowLimiter_NeverDrops(t *testing.T) {
	rl := NewSlidingWindowLimiter(5, 30*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(ctx); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 20 {
		t.Errorf("Expected all 20 calls admitted, got %d", admitted)
	}
}

func TestSlidingWindowLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewSlidingWindowLimiter(1, time.Minute)
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("expected Wait to fail when context expires")
	}
}
