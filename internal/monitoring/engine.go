// Package monitoring keeps detected signals under observation: every candle
// close on a watch's interval may trigger a reanalysis through the dispatcher
// until the watch exhausts its budget and expires.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/dispatch"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
	"MarketPulse/pkg/indicators"
	applogger "MarketPulse/pkg/logger"
)

// Config bounds watch lifecycles.
type Config struct {
	// MaxReanalyses caps reanalysis submissions per watch.
	MaxReanalyses int `yaml:"max_reanalyses" default:"5"`
	// ReanalysisInterval is the minimum gap between reanalyses of one
	// watch. Zero means every candle close qualifies, bounded only by
	// MaxReanalyses.
	ReanalysisInterval time.Duration `yaml:"reanalysis_interval" default:"0s"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" default:"1h"`
	Retention          time.Duration `yaml:"retention" default:"24h"`
	CandleDepth        int           `yaml:"candle_depth" default:"50"`
}

// AnalysisSubmitter is the dispatcher surface the engine needs.
type AnalysisSubmitter interface {
	Submit(req *models.AnalysisRequest, priority models.Priority) (*dispatch.Future, error)
}

// Engine consumes candle-close events and drives the watch state machine.
// The event loop is single-threaded; each reanalysis runs detached so a slow
// analysis never delays event processing.
type Engine struct {
	cfg        Config
	registry   *Registry
	store      *marketdata.Store
	rules      domrepo.RuleSource
	submitter  AnalysisSubmitter
	watchStore domrepo.WatchStore
	audit      domrepo.AnalysisAudit
	metrics    domrepo.Metrics
	log        *applogger.Logger

	wg       sync.WaitGroup
	loopDone chan struct{}

	reanalyses atomic.Uint64
	expired    atomic.Uint64
}

// Stats is the engine's observability snapshot.
type Stats struct {
	ActiveWatches int    `json:"activeWatches"`
	TotalWatches  int    `json:"totalWatches"`
	Reanalyses    uint64 `json:"reanalyses"`
	Expired       uint64 `json:"expired"`
}

func NewEngine(
	cfg Config,
	registry *Registry,
	store *marketdata.Store,
	rules domrepo.RuleSource,
	submitter AnalysisSubmitter,
	watchStore domrepo.WatchStore,
	audit domrepo.AnalysisAudit,
	metrics domrepo.Metrics,
	log *applogger.Logger,
) *Engine {
	if cfg.MaxReanalyses <= 0 {
		cfg.MaxReanalyses = 5
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.CandleDepth <= 0 {
		cfg.CandleDepth = 50
	}
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		store:      store,
		rules:      rules,
		submitter:  submitter,
		watchStore: watchStore,
		audit:      audit,
		metrics:    metrics,
		log:        log,
		loopDone:   make(chan struct{}),
	}
}

// Start recovers persisted watches and launches the event loop. Recovery
// failure leaves the registry empty, never crashes startup. The loop exits
// when the event channel closes or ctx is canceled.
func (e *Engine) Start(ctx context.Context, events <-chan *eventbus.CandleCloseEvent) {
	if e.watchStore != nil {
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		watches, err := e.watchStore.LoadActiveWatches(loadCtx)
		cancel()
		if err != nil {
			e.log.Warn("could not recover watches, starting empty", applogger.Error(err))
		} else if n := e.registry.Load(watches); n > 0 {
			e.log.Info("recovered watches", applogger.Int("count", n))
		}
	}
	go e.run(ctx, events)
}

func (e *Engine) run(ctx context.Context, events <-chan *eventbus.CandleCloseEvent) {
	defer close(e.loopDone)
	sweep := time.NewTicker(e.cfg.CleanupInterval)
	defer sweep.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				e.log.Info("event bus closed, monitoring loop exiting")
				return
			}
			e.handleCandleClose(ctx, ev)
			e.publishGauges()
		case <-sweep.C:
			if removed := e.registry.Cleanup(e.cfg.Retention); removed > 0 {
				e.log.Info("swept expired watches", applogger.Int("removed", removed))
			}
			e.publishGauges()
		case <-ctx.Done():
			return
		}
	}
}

// publishGauges exports the registry population for scraping.
func (e *Engine) publishGauges() {
	if e.metrics == nil {
		return
	}
	active, total := e.registry.Counts()
	e.metrics.SetGauge("monitoring_active_watches", float64(active))
	e.metrics.SetGauge("monitoring_total_watches", float64(total))
}

// Stop waits for the event loop and all detached reanalyses to finish.
func (e *Engine) Stop() {
	<-e.loopDone
	e.wg.Wait()
}

// StartWatch places a detected signal under monitoring and persists it
// best-effort.
func (e *Engine) StartWatch(ctx context.Context, sig *models.Signal) (*models.Watch, error) {
	w := &models.Watch{
		SignalID:      sig.ID,
		RuleID:        sig.RuleID,
		Symbol:        sig.Symbol,
		Interval:      sig.Interval,
		MaxReanalyses: e.cfg.MaxReanalyses,
	}
	if err := e.registry.Add(w); err != nil {
		return nil, err
	}
	stored, err := e.registry.Get(sig.ID)
	if err != nil {
		return nil, err
	}
	e.persistWatch(ctx, stored)
	e.log.Info("watch started",
		applogger.String("signal_id", sig.ID),
		applogger.String("symbol", sig.Symbol),
		applogger.String("interval", sig.Interval))
	return stored, nil
}

// handleCandleClose walks the Active watches scoped to the event's symbol and
// interval, expiring exhausted ones and spawning detached reanalyses for the
// rest.
func (e *Engine) handleCandleClose(ctx context.Context, ev *eventbus.CandleCloseEvent) {
	for _, w := range e.registry.ActiveForSymbol(ev.Symbol, string(ev.Interval)) {
		if w.ReanalysisCount >= w.MaxReanalyses {
			e.expire(ctx, w.SignalID)
			continue
		}
		if e.cfg.ReanalysisInterval > 0 && !w.LastReanalysisAt.IsZero() &&
			time.Since(w.LastReanalysisAt) < e.cfg.ReanalysisInterval {
			continue
		}
		e.wg.Add(1)
		go e.reanalyze(ctx, w)
	}
}

// expire transitions a watch to Expired and notifies the durable
// collaborator once. Repeated calls are no-ops.
func (e *Engine) expire(ctx context.Context, signalID string) {
	if !e.registry.Deactivate(signalID) {
		return
	}
	e.expired.Add(1)
	e.log.Info("watch expired", applogger.String("signal_id", signalID))
	if e.watchStore == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.watchStore.UpdateSignalStatus(opCtx, signalID, string(models.WatchExpired)); err != nil {
		e.log.Warn("could not persist watch expiry",
			applogger.String("signal_id", signalID), applogger.Error(err))
		if e.metrics != nil {
			e.metrics.RecordError("watch_store_write")
		}
	}
}

// reanalyze assembles current market context for the watch, submits an
// analysis task, bumps the watch counters, then waits for the outcome to
// record the decision. A failed reanalysis is a no-action outcome, never a
// loop-stopping error.
func (e *Engine) reanalyze(ctx context.Context, w *models.Watch) {
	defer e.wg.Done()

	req, err := e.buildRequest(ctx, w)
	if err != nil {
		e.log.Warn("skipping reanalysis, no market context",
			applogger.String("signal_id", w.SignalID), applogger.Error(err))
		return
	}

	// Claim the budget slot before submitting so racing candle closes can
	// never push a watch past its cap. The slot stays spent even when the
	// submission is rejected: the counter only moves forward, a saturated
	// dispatcher costs the watch one attempt.
	if !e.registry.ReserveReanalysis(w.SignalID, time.Now()) {
		return
	}
	fut, err := e.submitter.Submit(req, models.PriorityNormal)
	if err != nil {
		e.log.Warn("reanalysis submission rejected",
			applogger.String("signal_id", w.SignalID), applogger.Error(err))
		if e.metrics != nil {
			e.metrics.RecordError("reanalysis_submit")
		}
		return
	}
	e.reanalyses.Add(1)
	if updated, err := e.registry.Get(w.SignalID); err == nil {
		e.persistWatch(ctx, updated)
	}

	out := <-fut.Done()
	if out.Err != nil {
		e.log.Warn("reanalysis resolved without a decision",
			applogger.String("signal_id", w.SignalID), applogger.Error(out.Err))
		return
	}
	e.recordResult(ctx, w.SignalID, out.Result)
}

func (e *Engine) buildRequest(ctx context.Context, w *models.Watch) (*models.AnalysisRequest, error) {
	candles := e.store.GetCandles(w.Symbol, domrepo.Interval(w.Interval), e.cfg.CandleDepth)
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", w.Symbol, w.Interval)
	}
	price := candles[len(candles)-1].Close
	if t, err := e.store.GetTicker(w.Symbol); err == nil {
		price = t.Price
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	values := map[string]float64{
		"sma20": indicators.SMA(closes, 20),
		"ema20": indicators.EMA(closes, 20),
		"rsi14": indicators.RSI(closes, 14),
	}

	strategy := ""
	if e.rules != nil {
		ruleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rule, err := e.rules.Get(ruleCtx, w.RuleID)
		cancel()
		if err != nil {
			e.log.Warn("rule lookup failed, analyzing without strategy text",
				applogger.String("rule_id", w.RuleID), applogger.Error(err))
		} else {
			strategy = rule.Name + "\n" + rule.PredicateCode
		}
	}

	return &models.AnalysisRequest{
		SignalID:        w.SignalID,
		Symbol:          w.Symbol,
		Interval:        w.Interval,
		Price:           price,
		RecentCandles:   candles,
		IndicatorValues: values,
		StrategyText:    strategy,
	}, nil
}

func (e *Engine) recordResult(ctx context.Context, signalID string, res *models.AnalysisResult) {
	_ = e.registry.Update(signalID, func(stored *models.Watch) {
		stored.LastDecision = res.Decision
		stored.LastConfidence = res.Confidence
	})
	if e.metrics != nil {
		e.metrics.RecordAnalysis(res.Decision)
	}
	if e.audit != nil {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.audit.Record(opCtx, res); err != nil {
			e.log.Warn("analysis audit write failed",
				applogger.String("signal_id", signalID), applogger.Error(err))
		}
	}
	if updated, err := e.registry.Get(signalID); err == nil {
		e.persistWatch(ctx, updated)
	}
}

// persistWatch is best-effort: failures are logged and in-memory state stays
// authoritative.
func (e *Engine) persistWatch(ctx context.Context, w *models.Watch) {
	if e.watchStore == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.watchStore.SaveWatch(opCtx, w); err != nil {
		e.log.Warn("could not persist watch",
			applogger.String("signal_id", w.SignalID), applogger.Error(err))
		if e.metrics != nil {
			e.metrics.RecordError("watch_store_write")
		}
	}
}

// Stats returns watch counts and lifetime counters.
func (e *Engine) Stats() Stats {
	active, total := e.registry.Counts()
	return Stats{
		ActiveWatches: active,
		TotalWatches:  total,
		Reanalyses:    e.reanalyses.Load(),
		Expired:       e.expired.Load(),
	}
}
