package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is a token bucket shared by outbound callers. Tokens refill
// continuously at refillRate up to capacity, computed lazily from wall-clock
// time on each access; no background timer runs while the bucket is idle.
// Pending Acquire calls are served strictly in arrival order.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time

	waiters *list.List // of *waiter, FIFO
	timer   *time.Timer
}

type waiter struct {
	cost  float64
	ready chan struct{}
}

// New creates a Limiter with the given burst capacity and refill rate.
func New(capacity, refillPerSec float64) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &Limiter{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillPerSec,
		last:       time.Now(),
		waiters:    list.New(),
	}
}

// refill must be called with mu held.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// Allow consumes cost tokens if immediately available. Queued waiters keep
// their place: Allow never jumps the line.
func (l *Limiter) Allow(cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.waiters.Len() == 0 && l.tokens >= cost {
		l.tokens -= cost
		return true
	}
	return false
}

// Acquire blocks until cost tokens are available or ctx is done. Callers are
// served in arrival order.
func (l *Limiter) Acquire(ctx context.Context, cost float64) error {
	if cost > l.capacity {
		return fmt.Errorf("cost %.1f exceeds bucket capacity %.1f", cost, l.capacity)
	}

	l.mu.Lock()
	l.refill(time.Now())
	if l.waiters.Len() == 0 && l.tokens >= cost {
		l.tokens -= cost
		l.mu.Unlock()
		return nil
	}

	w := &waiter{cost: cost, ready: make(chan struct{})}
	elem := l.waiters.PushBack(w)
	l.schedule()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		// The wakeup may have raced the cancellation; prefer the grant.
		select {
		case <-w.ready:
			l.mu.Unlock()
			return nil
		default:
		}
		l.waiters.Remove(elem)
		l.schedule()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// schedule grants every waiter the current tokens cover, in arrival order,
// then arms the wakeup timer for whoever is left at the head. Must be called
// with mu held.
func (l *Limiter) schedule() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.refill(time.Now())
	for {
		front := l.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		deficit := w.cost - l.tokens
		if deficit > 0 {
			wait := time.Duration(deficit / l.refillRate * float64(time.Second))
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			l.timer = time.AfterFunc(wait, l.onTimer)
			return
		}
		l.grant(front, w)
	}
}

func (l *Limiter) onTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.schedule()
}

// grant must be called with mu held and tokens >= w.cost (or deficit <= 0).
func (l *Limiter) grant(elem *list.Element, w *waiter) {
	l.tokens -= w.cost
	l.waiters.Remove(elem)
	close(w.ready)
}

// Available returns the current token count after a lazy refill.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens
}

// QueueDepth returns the number of callers waiting for tokens.
func (l *Limiter) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Reset restores full burst capacity and releases any waiters that now fit.
// Used in tests and forced recovery.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.capacity
	l.last = time.Now()
	l.schedule()
}
