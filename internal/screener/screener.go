package screener

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/marketdata"
	applogger "MarketPulse/pkg/logger"
)

// Config sizes the screener's worker pool and bounds rule execution.
type Config struct {
	MinWorkers  int           `yaml:"min_workers" validate:"min=1" default:"1"`
	MaxWorkers  int           `yaml:"max_workers" validate:"min=1" default:"8"`
	TaskTimeout time.Duration `yaml:"task_timeout" default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" default:"30s"`
	CandleDepth int           `yaml:"candle_depth" default:"200"`
}

// Screener evaluates rule predicates against market snapshots on a bounded,
// dynamically sized worker pool.
type Screener struct {
	cfg     Config
	log     *applogger.Logger
	metrics domrepo.Metrics
	pool    *pool

	executions atomic.Uint64
	lastRunMs  atomic.Int64
}

// Stats is the screener's observability snapshot.
type Stats struct {
	Workers       int    `json:"workers"`
	BusyWorkers   int    `json:"busyWorkers"`
	Executions    uint64 `json:"executions"`
	LastRunMillis int64  `json:"lastRunMillis"`
}

func New(cfg Config, metrics domrepo.Metrics, log *applogger.Logger) *Screener {
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if cfg.CandleDepth <= 0 {
		cfg.CandleDepth = 200
	}
	return &Screener{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		pool:    newPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, log),
	}
}

// ExecuteFilters evaluates every enabled rule against the snapshot and
// returns one result per rule. Rules are partitioned round-robin into at most
// maxWorkers batches; each batch runs under its own timeout, and a failing or
// timed-out batch is reported on its own rules only.
func (s *Screener) ExecuteFilters(ctx context.Context, rules []*Rule, snap *marketdata.Snapshot) map[string]*models.MatchResult {
	started := time.Now()
	results := make(map[string]*models.MatchResult, len(rules))

	enabled := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r.Def.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return results
	}

	numBatches := len(enabled)
	if numBatches > s.cfg.MaxWorkers {
		numBatches = s.cfg.MaxWorkers
	}
	batches := make([][]*Rule, numBatches)
	for i, r := range enabled {
		batches[i%numBatches] = append(batches[i%numBatches], r)
	}

	type dispatched struct {
		t      *task
		ctx    context.Context
		cancel context.CancelFunc
		rules  []*Rule
	}
	inflight := make([]*dispatched, 0, numBatches)
	for _, batch := range batches {
		batchCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
		batch := batch
		t := &task{
			rules:   batch,
			results: make(chan []*batchItem, 1),
			run: func(rules []*Rule) []*batchItem {
				return s.runBatch(batchCtx, rules, snap)
			},
		}
		if !s.pool.submit(t) {
			cancel()
			for _, r := range batch {
				results[r.Def.ID] = &models.MatchResult{RuleID: r.Def.ID, Error: errs.ErrShutdown.Error()}
			}
			continue
		}
		inflight = append(inflight, &dispatched{t: t, ctx: batchCtx, cancel: cancel, rules: batch})
	}

	// Batch deadlines run concurrently, so collecting in order never waits
	// longer than the slowest batch.
	for _, d := range inflight {
		select {
		case items := <-d.t.results:
			for _, it := range items {
				res := &models.MatchResult{
					RuleID:          it.ruleID,
					MatchedSymbols:  it.matched,
					ExecutionTimeMs: it.tookMs,
				}
				if it.err != nil {
					res.Error = it.err.Error()
				}
				results[it.ruleID] = res
			}
		case <-d.ctx.Done():
			for _, r := range d.rules {
				results[r.Def.ID] = &models.MatchResult{
					RuleID: r.Def.ID,
					Error:  fmt.Sprintf("batch timed out after %s", s.cfg.TaskTimeout),
				}
			}
		}
		d.cancel()
	}

	took := time.Since(started)
	s.executions.Add(1)
	s.lastRunMs.Store(took.Milliseconds())
	if s.metrics != nil {
		s.metrics.RecordLatency("screener_execute", took.Seconds())
	}
	s.log.Debug("filter execution finished",
		applogger.Int("rules", len(enabled)),
		applogger.Int("symbols", len(snap.Symbols())),
		applogger.Duration("took", took))
	return results
}

// runBatch evaluates each rule in the batch against every snapshot symbol.
// The first evaluation error aborts that rule and is surfaced on its result;
// other rules in the batch continue.
func (s *Screener) runBatch(ctx context.Context, rules []*Rule, snap *marketdata.Snapshot) []*batchItem {
	symbols := snap.Symbols()
	items := make([]*batchItem, 0, len(rules))
	for _, rule := range rules {
		start := time.Now()
		item := &batchItem{ruleID: rule.Def.ID}
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				item.err = fmt.Errorf("%w: batch deadline exceeded", errs.ErrTimeout)
				break
			}
			mc := buildContext(snap, sym, rule, s.cfg.CandleDepth)
			matched, err := rule.Eval.Evaluate(ctx, mc)
			if err != nil {
				item.err = err
				break
			}
			if matched {
				item.matched = append(item.matched, sym)
			}
		}
		item.tookMs = time.Since(start).Milliseconds()
		if s.metrics != nil && item.err == nil {
			s.metrics.RecordRuleMatch(rule.Def.ID, len(item.matched))
		}
		items = append(items, item)
	}
	return items
}

// Stats returns pool occupancy and run counters.
func (s *Screener) Stats() Stats {
	workers, busy := s.pool.stats()
	return Stats{
		Workers:       workers,
		BusyWorkers:   busy,
		Executions:    s.executions.Load(),
		LastRunMillis: s.lastRunMs.Load(),
	}
}

// Shutdown drains the pool, waiting for in-flight batches.
func (s *Screener) Shutdown() {
	s.pool.shutdown()
}
