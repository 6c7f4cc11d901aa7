// Package dispatch runs analysis tasks against the external reasoning
// service under a concurrency ceiling, a shared rate limit, and a bounded
// retry policy.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/ratelimit"
)

// Config bounds the dispatcher's concurrency and retry behavior.
type Config struct {
	MaxConcurrent     int           `yaml:"max_concurrent" validate:"min=1" default:"4"`
	MaxRetries        int           `yaml:"max_retries" default:"3"`
	BaseDelay         time.Duration `yaml:"base_delay" default:"500ms"`
	TaskTimeout       time.Duration `yaml:"task_timeout" default:"30s"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" default:"2s"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace" default:"10s"`
}

// Outcome is the terminal result of a submitted task: exactly one of Result
// or Err is set.
type Outcome struct {
	Result *models.AnalysisResult
	Err    error
}

// Future resolves exactly once with the task's outcome.
type Future struct {
	ch   chan Outcome
	done atomic.Bool
}

// Wait blocks until the task resolves or ctx expires.
func (f *Future) Wait(ctx context.Context) (*models.AnalysisResult, error) {
	select {
	case out := <-f.ch:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the resolution channel for select-based callers.
func (f *Future) Done() <-chan Outcome { return f.ch }

func (f *Future) resolve(out Outcome) {
	if f.done.CompareAndSwap(false, true) {
		f.ch <- out
	}
}

type job struct {
	req        *models.AnalysisRequest
	priority   models.Priority
	seq        uint64
	retryCount int
	future     *Future
}

// jobQueue orders high > normal > low, FIFO within a tier. A retried job
// keeps its original sequence number, so it re-enters ahead of newer work in
// its tier.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }
func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x any)   { *q = append(*q, x.(*job)) }
func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Dispatcher admits queued tasks for execution only while in-flight work is
// below MaxConcurrent and the shared rate limiter grants a token. Failures
// retry with exponential backoff up to MaxRetries; a rate-limited response
// waits out a cooldown without consuming a retry attempt.
type Dispatcher struct {
	cfg      Config
	analyzer domrepo.Analyzer
	limiter  *ratelimit.Limiter
	metrics  domrepo.Metrics
	log      *applogger.Logger

	// onTerminalFailure, when set, observes tasks that exhausted retries.
	onTerminalFailure func(req *models.AnalysisRequest, err error)

	mu       sync.Mutex
	queue    jobQueue
	seq      uint64
	wake     chan struct{}
	inFlight map[uint64]*job

	// stopCtx gates admission only; taskCtx covers running analyses and is
	// canceled after the shutdown grace period so in-flight work gets a
	// chance to finish.
	stopCtx    context.Context
	stop       context.CancelFunc
	taskCtx    context.Context
	taskCancel context.CancelFunc
	loopDone   chan struct{}
	stopped    bool

	inflight  atomic.Int64
	running   sync.WaitGroup
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// Stats is the dispatcher's observability snapshot.
type Stats struct {
	QueueDepth      int     `json:"queueDepth"`
	InFlight        int     `json:"inFlight"`
	MaxConcurrent   int     `json:"maxConcurrent"`
	Submitted       uint64  `json:"submitted"`
	Completed       uint64  `json:"completed"`
	Failed          uint64  `json:"failed"`
	Retries         uint64  `json:"retries"`
	LimiterTokens   float64 `json:"limiterTokens"`
	LimiterWaiters  int     `json:"limiterWaiters"`
}

func New(cfg Config, analyzer domrepo.Analyzer, limiter *ratelimit.Limiter, metrics domrepo.Metrics, log *applogger.Logger) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	taskCtx, taskCancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:        cfg,
		analyzer:   analyzer,
		limiter:    limiter,
		metrics:    metrics,
		log:        log,
		wake:       make(chan struct{}, 1),
		inFlight:   make(map[uint64]*job),
		stopCtx:    ctx,
		stop:       cancel,
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
		loopDone:   make(chan struct{}),
	}
	go d.schedule()
	return d
}

// SetTerminalFailureHook registers an observer for tasks that exhaust their
// retries. Must be called before the first Submit.
func (d *Dispatcher) SetTerminalFailureHook(fn func(req *models.AnalysisRequest, err error)) {
	d.onTerminalFailure = fn
}

// Submit queues a task and returns its future. Fails fast with ErrShutdown
// once shutdown started and with ErrValidation on a malformed request.
func (d *Dispatcher) Submit(req *models.AnalysisRequest, priority models.Priority) (*Future, error) {
	if req == nil || req.Symbol == "" {
		return nil, fmt.Errorf("%w: analysis request needs a symbol", errs.ErrValidation)
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, errs.ErrShutdown
	}
	d.seq++
	j := &job{
		req:      req,
		priority: priority,
		seq:      d.seq,
		future:   &Future{ch: make(chan Outcome, 1)},
	}
	heap.Push(&d.queue, j)
	d.mu.Unlock()

	d.submitted.Add(1)
	d.nudge()
	return j.future, nil
}

func (d *Dispatcher) nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// schedule is the admission loop: one job leaves the queue only when a
// concurrency slot is free and the limiter granted a token.
func (d *Dispatcher) schedule() {
	defer close(d.loopDone)
	for {
		if d.stopCtx.Err() != nil {
			return
		}
		if int(d.inflight.Load()) >= d.cfg.MaxConcurrent || !d.hasQueued() {
			select {
			case <-d.wake:
			case <-d.stopCtx.Done():
				return
			}
			continue
		}
		if err := d.limiter.Acquire(d.stopCtx, 1); err != nil {
			return
		}
		j := d.popJob()
		if j == nil {
			continue
		}
		d.mu.Lock()
		d.inFlight[j.seq] = j
		d.mu.Unlock()
		d.inflight.Add(1)
		d.running.Add(1)
		go d.run(j)
	}
}

func (d *Dispatcher) hasQueued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len() > 0
}

func (d *Dispatcher) popJob() *job {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&d.queue).(*job)
}

func (d *Dispatcher) requeue(j *job, after time.Duration) {
	time.AfterFunc(after, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			j.future.resolve(Outcome{Err: errs.ErrShutdown})
			return
		}
		heap.Push(&d.queue, j)
		d.mu.Unlock()
		d.nudge()
	})
}

func (d *Dispatcher) run(j *job) {
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, j.seq)
		d.mu.Unlock()
		d.inflight.Add(-1)
		d.running.Done()
		d.nudge()
	}()

	ctx, cancel := context.WithTimeout(d.taskCtx, d.cfg.TaskTimeout)
	result, err := d.analyzer.Analyze(ctx, j.req)
	if err == nil {
		cancel()
		d.completed.Add(1)
		j.future.resolve(Outcome{Result: result})
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, errs.ErrTimeout) {
		// Deadline hits surface as a retryable timeout regardless of how
		// the analyzer reported them.
		err = fmt.Errorf("%w: analysis exceeded %s", errs.ErrTimeout, d.cfg.TaskTimeout)
	}
	cancel()

	switch {
	case errors.Is(err, errs.ErrRateLimited):
		// Cooldown, not a retry: the attempt does not count against
		// the budget.
		d.log.Warn("analysis rate limited, cooling down",
			applogger.String("signal_id", j.req.SignalID),
			applogger.Duration("cooldown", d.cfg.RateLimitCooldown))
		d.requeue(j, d.cfg.RateLimitCooldown)

	case errs.Retryable(err) && j.retryCount < d.cfg.MaxRetries:
		delay := d.cfg.BaseDelay * (1 << j.retryCount)
		j.retryCount++
		d.retries.Add(1)
		d.log.Warn("analysis failed, retrying",
			applogger.String("signal_id", j.req.SignalID),
			applogger.Int("attempt", j.retryCount),
			applogger.Duration("delay", delay),
			applogger.Error(err))
		d.requeue(j, delay)

	default:
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordError("analysis_terminal_failure")
		}
		d.log.Error("analysis failed terminally",
			applogger.String("signal_id", j.req.SignalID),
			applogger.String("symbol", j.req.Symbol),
			applogger.Int("retries", j.retryCount),
			applogger.Error(err))
		if d.onTerminalFailure != nil {
			d.onTerminalFailure(j.req, err)
		}
		j.future.resolve(Outcome{Err: err})
	}
}

// Shutdown stops admission, rejects everything still queued, and waits up to
// the grace period for in-flight tasks before abandoning them.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	pending := make([]*job, 0, d.queue.Len())
	for d.queue.Len() > 0 {
		pending = append(pending, heap.Pop(&d.queue).(*job))
	}
	d.mu.Unlock()

	d.stop()
	<-d.loopDone
	for _, j := range pending {
		j.future.resolve(Outcome{Err: errs.ErrShutdown})
	}

	drained := make(chan struct{})
	go func() {
		d.running.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(d.cfg.ShutdownGrace):
		d.log.Warn("shutdown grace expired, abandoning in-flight analyses",
			applogger.Int64("in_flight", d.inflight.Load()))
		d.mu.Lock()
		abandoned := make([]*job, 0, len(d.inFlight))
		for _, j := range d.inFlight {
			abandoned = append(abandoned, j)
		}
		d.mu.Unlock()
		for _, j := range abandoned {
			j.future.resolve(Outcome{Err: errs.ErrShutdown})
		}
	}
	d.taskCancel()
	d.log.Info("dispatcher stopped",
		applogger.Uint64("completed", d.completed.Load()),
		applogger.Uint64("failed", d.failed.Load()))
}

// Stats returns queue and limiter occupancy.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	depth := d.queue.Len()
	d.mu.Unlock()
	return Stats{
		QueueDepth:     depth,
		InFlight:       int(d.inflight.Load()),
		MaxConcurrent:  d.cfg.MaxConcurrent,
		Submitted:      d.submitted.Load(),
		Completed:      d.completed.Load(),
		Failed:         d.failed.Load(),
		Retries:        d.retries.Load(),
		LimiterTokens:  d.limiter.Available(),
		LimiterWaiters: d.limiter.QueueDepth(),
	}
}
