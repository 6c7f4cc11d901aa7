package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/ratelimit"
)

// fakeAnalyzer scripts per-call outcomes and tracks concurrency.
type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
	fn       func(call int, req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(call, req)
	}
	return &models.AnalysisResult{SignalID: req.SignalID, Decision: models.DecisionWait}, nil
}

func req(id string) *models.AnalysisRequest {
	return &models.AnalysisRequest{SignalID: id, Symbol: "BTCUSDT", Interval: "5m", Price: 50000}
}

func newTestDispatcher(cfg Config, fa *fakeAnalyzer) *Dispatcher {
	return New(cfg, fa, ratelimit.New(1000, 1000), nil, applogger.Discard())
}

func TestConcurrencyCeiling(t *testing.T) {
	fa := &fakeAnalyzer{delay: 50 * time.Millisecond}
	d := newTestDispatcher(Config{MaxConcurrent: 2, TaskTimeout: time.Second, ShutdownGrace: time.Second}, fa)
	defer d.Shutdown()

	futures := make([]*Future, 0, 8)
	for i := 0; i < 8; i++ {
		f, err := d.Submit(req(fmt.Sprintf("s%d", i)), models.PriorityNormal)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		futures = append(futures, f)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("task %d failed: %v", i, err)
		}
	}
	if max := fa.maxSeen.Load(); max > 2 {
		t.Fatalf("in-flight exceeded ceiling: %d", max)
	}
}

func TestPriorityOrdering(t *testing.T) {
	var order []string
	var mu sync.Mutex
	block := make(chan struct{})
	fa := &fakeAnalyzer{fn: func(call int, r *models.AnalysisRequest) (*models.AnalysisResult, error) {
		if r.SignalID == "gate" {
			<-block
		}
		mu.Lock()
		order = append(order, r.SignalID)
		mu.Unlock()
		return &models.AnalysisResult{SignalID: r.SignalID, Decision: models.DecisionWait}, nil
	}}
	d := newTestDispatcher(Config{MaxConcurrent: 1, TaskTimeout: time.Second, ShutdownGrace: time.Second}, fa)
	defer d.Shutdown()

	// Occupy the single slot so subsequent submissions queue up.
	gate, _ := d.Submit(req("gate"), models.PriorityHigh)
	time.Sleep(20 * time.Millisecond)

	fLow, _ := d.Submit(req("low"), models.PriorityLow)
	fNorm1, _ := d.Submit(req("norm1"), models.PriorityNormal)
	fHigh, _ := d.Submit(req("high"), models.PriorityHigh)
	fNorm2, _ := d.Submit(req("norm2"), models.PriorityNormal)
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, f := range []*Future{gate, fLow, fNorm1, fHigh, fNorm2} {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"gate", "high", "norm1", "norm2", "low"}
	if len(order) != len(want) {
		t.Fatalf("got order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	fa := &fakeAnalyzer{fn: func(call int, r *models.AnalysisRequest) (*models.AnalysisResult, error) {
		if call < 3 {
			return nil, fmt.Errorf("upstream hiccup: %w", errs.ErrTransient)
		}
		return &models.AnalysisResult{SignalID: r.SignalID, Decision: models.DecisionEnter, Confidence: 80}, nil
	}}
	d := newTestDispatcher(Config{
		MaxConcurrent: 1, MaxRetries: 3, BaseDelay: 10 * time.Millisecond,
		TaskTimeout: time.Second, ShutdownGrace: time.Second,
	}, fa)
	defer d.Shutdown()

	f, err := d.Submit(req("retry-me"), models.PriorityNormal)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if res.Decision != models.DecisionEnter {
		t.Fatalf("unexpected result %+v", res)
	}
	if s := d.Stats(); s.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", s.Retries)
	}
}

func TestExhaustedRetriesRejectExactlyOnce(t *testing.T) {
	fa := &fakeAnalyzer{fn: func(call int, r *models.AnalysisRequest) (*models.AnalysisResult, error) {
		return nil, fmt.Errorf("always down: %w", errs.ErrTransient)
	}}
	var terminal atomic.Int32
	d := newTestDispatcher(Config{
		MaxConcurrent: 1, MaxRetries: 2, BaseDelay: 5 * time.Millisecond,
		TaskTimeout: time.Second, ShutdownGrace: time.Second,
	}, fa)
	d.SetTerminalFailureHook(func(r *models.AnalysisRequest, err error) { terminal.Add(1) })
	defer d.Shutdown()

	f, _ := d.Submit(req("doomed"), models.PriorityNormal)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); err == nil {
		t.Fatalf("expected terminal failure")
	}

	// The future is resolved exactly once: a second wait finds it drained
	// and times out instead of yielding a duplicate outcome.
	short, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := f.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second wait should find nothing, got %v", err)
	}
	fa.mu.Lock()
	calls := fa.calls
	fa.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected initial attempt + 2 retries, got %d calls", calls)
	}
	if terminal.Load() != 1 {
		t.Fatalf("terminal hook fired %d times", terminal.Load())
	}
}

func TestValidationFailsFast(t *testing.T) {
	d := newTestDispatcher(Config{MaxConcurrent: 1, ShutdownGrace: time.Second}, &fakeAnalyzer{})
	defer d.Shutdown()
	if _, err := d.Submit(&models.AnalysisRequest{}, models.PriorityNormal); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRateLimitedCooldownDoesNotConsumeRetry(t *testing.T) {
	fa := &fakeAnalyzer{fn: func(call int, r *models.AnalysisRequest) (*models.AnalysisResult, error) {
		if call == 1 {
			return nil, fmt.Errorf("throttled upstream: %w", errs.ErrRateLimited)
		}
		return &models.AnalysisResult{SignalID: r.SignalID, Decision: models.DecisionWait}, nil
	}}
	d := newTestDispatcher(Config{
		MaxConcurrent: 1, MaxRetries: 0, BaseDelay: 5 * time.Millisecond,
		RateLimitCooldown: 20 * time.Millisecond,
		TaskTimeout:       time.Second, ShutdownGrace: time.Second,
	}, fa)
	defer d.Shutdown()

	f, _ := d.Submit(req("throttled"), models.PriorityNormal)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); err != nil {
		t.Fatalf("cooldown should not count as a retry even with MaxRetries=0: %v", err)
	}
	if s := d.Stats(); s.Retries != 0 {
		t.Fatalf("cooldown consumed a retry: %d", s.Retries)
	}
}

func TestShutdownRejectsQueued(t *testing.T) {
	fa := &fakeAnalyzer{delay: 200 * time.Millisecond}
	d := newTestDispatcher(Config{MaxConcurrent: 1, TaskTimeout: time.Second, ShutdownGrace: time.Second}, fa)

	running, _ := d.Submit(req("running"), models.PriorityNormal)
	time.Sleep(20 * time.Millisecond)
	queued, _ := d.Submit(req("queued"), models.PriorityNormal)

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := queued.Wait(ctx); !errors.Is(err, errs.ErrShutdown) {
		t.Fatalf("queued task should be rejected on shutdown, got %v", err)
	}
	if _, err := running.Wait(ctx); err != nil {
		t.Fatalf("in-flight task should finish within grace: %v", err)
	}
	<-done

	if _, err := d.Submit(req("late"), models.PriorityNormal); !errors.Is(err, errs.ErrShutdown) {
		t.Fatalf("post-shutdown submit should fail, got %v", err)
	}
}
