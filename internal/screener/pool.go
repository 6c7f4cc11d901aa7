package screener

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	applogger "MarketPulse/pkg/logger"
)

// task is one batch of rules to evaluate against a shared snapshot. Results
// come back on the task's own channel so batches complete independently.
type task struct {
	rules   []*Rule
	run     func(rules []*Rule) []*batchItem
	results chan []*batchItem
}

type batchItem struct {
	ruleID  string
	matched []string
	err     error
	tookMs  int64
}

// pool is a dynamically sized worker set. It starts at minWorkers, grows
// lazily up to maxWorkers when a submit would otherwise block, and shrinks
// back when a worker sits idle past idleTimeout. A panicking worker exits
// after failing its batch; its replacement is spawned on demand by the next
// submit that needs it.
type pool struct {
	log         *applogger.Logger
	minWorkers  int
	maxWorkers  int
	idleTimeout time.Duration

	tasks   chan *task
	done    chan struct{}
	workers atomic.Int32
	busy    atomic.Int32

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newPool(minWorkers, maxWorkers int, idleTimeout time.Duration, log *applogger.Logger) *pool {
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	p := &pool{
		log:         log,
		minWorkers:  minWorkers,
		maxWorkers:  maxWorkers,
		idleTimeout: idleTimeout,
		tasks:       make(chan *task),
		done:        make(chan struct{}),
	}
	for i := 0; i < minWorkers; i++ {
		p.spawn()
	}
	return p
}

// submit hands a task to an idle worker, growing the pool when none is free
// and the ceiling allows. At the ceiling it blocks until a worker frees up or
// the pool shuts down.
func (p *pool) submit(t *task) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	select {
	case p.tasks <- t:
		p.mu.Unlock()
		return true
	default:
	}
	if int(p.workers.Load()) < p.maxWorkers {
		p.spawn()
	}
	p.mu.Unlock()

	select {
	case p.tasks <- t:
		return true
	case <-p.done:
		return false
	}
}

// spawn starts one worker. Caller holds p.mu or is the constructor.
func (p *pool) spawn() {
	p.workers.Add(1)
	p.wg.Add(1)
	go p.worker()
}

func (p *pool) worker() {
	defer p.wg.Done()
	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-p.done:
			p.workers.Add(-1)
			return
		case t := <-p.tasks:
			p.busy.Add(1)
			panicked := p.execute(t)
			p.busy.Add(-1)
			if panicked {
				p.workers.Add(-1)
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)
		case <-idle.C:
			if p.tryRetire() {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

// execute runs one batch, converting a worker panic into per-rule errors.
// The caller retires a panicked worker; capacity is restored lazily on the
// next submit that finds the pool short.
func (p *pool) execute(t *task) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			p.log.Error("screener worker crashed", applogger.Any("panic", r))
			items := make([]*batchItem, 0, len(t.rules))
			for _, rule := range t.rules {
				items = append(items, &batchItem{
					ruleID: rule.Def.ID,
					err:    &workerPanicError{value: r},
				})
			}
			t.results <- items
		}
	}()
	t.results <- t.run(t.rules)
	return false
}

type workerPanicError struct{ value any }

func (e *workerPanicError) Error() string {
	return fmt.Sprintf("worker panic during rule evaluation: %v", e.value)
}

// tryRetire removes this worker if the pool is above its floor. The floor
// check and the counter decrement share the pool lock, so two workers idling
// out together cannot both claim the same surplus slot and shrink the pool
// below minWorkers.
func (p *pool) tryRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || int(p.workers.Load()) > p.minWorkers {
		p.workers.Add(-1)
		return true
	}
	return false
}

// shutdown stops accepting work and waits for in-flight batches.
func (p *pool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *pool) stats() (workers, busy int) {
	return int(p.workers.Load()), int(p.busy.Load())
}
