package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBurstThenWait(t *testing.T) {
	l := New(20, 10)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		if err := l.Acquire(ctx, 1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("burst of 20 should not wait, took %v", elapsed)
	}

	// 21st token needs ~100ms at 10 tokens/sec.
	start = time.Now()
	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatalf("acquire 21: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 60*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Fatalf("expected ~100ms wait, got %v", elapsed)
	}
}

func TestAllowRespectsQueue(t *testing.T) {
	l := New(1, 1)
	if !l.Allow(1) {
		t.Fatalf("first allow should pass")
	}
	if l.Allow(1) {
		t.Fatalf("empty bucket should deny")
	}

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background(), 1) }()

	// Give the waiter time to enqueue; Allow must not steal its token.
	time.Sleep(20 * time.Millisecond)
	if l.Allow(0.5) {
		t.Fatalf("allow must not jump a queued waiter")
	}

	if err := <-done; err != nil {
		t.Fatalf("queued acquire: %v", err)
	}
}

func TestAcquireContextCancel(t *testing.T) {
	l := New(1, 0.1) // very slow refill
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("drain: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, 1); err == nil {
		t.Fatalf("expected context error")
	}
	if l.QueueDepth() != 0 {
		t.Fatalf("cancelled waiter should be removed, depth=%d", l.QueueDepth())
	}
}

func TestFIFOOrder(t *testing.T) {
	l := New(1, 50)
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("drain: %v", err)
	}

	order := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			if err := l.Acquire(context.Background(), 1); err == nil {
				order <- i
			}
		}()
		time.Sleep(10 * time.Millisecond) // establish arrival order
	}

	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("expected waiter %d, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for waiter %d", want)
		}
	}
}

func TestCanceledHeadReleasesWholeBacklog(t *testing.T) {
	l := New(3, 0.001) // refill is effectively frozen for the test window
	if !l.Allow(1) {
		t.Fatalf("initial allow should pass")
	}
	// tokens=2: the head wants the full capacity and cannot be served.

	headCtx, cancelHead := context.WithCancel(context.Background())
	headErr := make(chan error, 1)
	go func() { headErr <- l.Acquire(headCtx, 3) }()
	waitForDepth(t, l, 1)

	second := make(chan error, 1)
	go func() { second <- l.Acquire(context.Background(), 1) }()
	waitForDepth(t, l, 2)
	third := make(chan error, 1)
	go func() { third <- l.Acquire(context.Background(), 1) }()
	waitForDepth(t, l, 3)

	// Removing the head must hand the remaining tokens to every waiter they
	// cover, not just the first.
	cancelHead()
	if err := <-headErr; err == nil {
		t.Fatalf("canceled head should return an error")
	}
	for i, ch := range []chan error{second, third} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("waiter %d: %v", i+2, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d stranded with tokens available: tokens=%.2f depth=%d",
				i+2, l.Available(), l.QueueDepth())
		}
	}
}

func waitForDepth(t *testing.T, l *Limiter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.QueueDepth() != want {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth never reached %d, at %d", want, l.QueueDepth())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReset(t *testing.T) {
	l := New(5, 0.1)
	for i := 0; i < 5; i++ {
		if !l.Allow(1) {
			t.Fatalf("allow %d", i)
		}
	}
	if l.Available() >= 1 {
		t.Fatalf("bucket should be near empty")
	}
	l.Reset()
	if got := l.Available(); got != 5 {
		t.Fatalf("reset should restore capacity, got %v", got)
	}
}
