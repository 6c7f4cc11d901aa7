package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/monitoring"
	"MarketPulse/internal/screener"
	applogger "MarketPulse/pkg/logger"
)

// ScreeningConfig tunes the periodic scan.
type ScreeningConfig struct {
	ScanInterval   time.Duration `yaml:"scan_interval" default:"5s"`
	SignalCooldown time.Duration `yaml:"signal_cooldown" default:"5m"`
}

// ScreeningLoop periodically runs every enabled rule against the symbols that
// changed since the previous pass. Matches become signals: published on the
// bus, fanned out to the external publisher, and handed to monitoring.
type ScreeningLoop struct {
	cfg       ScreeningConfig
	store     *marketdata.Store
	screener  *screener.Screener
	rules     drepo.RuleSource
	bus       *eventbus.Bus
	engine    *monitoring.Engine
	publisher drepo.SignalPublisher
	metrics   drepo.Metrics
	log       *applogger.Logger

	compiled map[string]*compiledRule
	lastFire map[string]time.Time // rule|symbol -> last signal time
	counts   map[string]int

	scans   atomic.Uint64
	signals atomic.Uint64

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

type compiledRule struct {
	updatedAt time.Time
	rule      *screener.Rule
}

func NewScreeningLoop(
	cfg ScreeningConfig,
	store *marketdata.Store,
	scr *screener.Screener,
	rules drepo.RuleSource,
	bus *eventbus.Bus,
	engine *monitoring.Engine,
	publisher drepo.SignalPublisher,
	metrics drepo.Metrics,
	log *applogger.Logger,
) *ScreeningLoop {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.SignalCooldown <= 0 {
		cfg.SignalCooldown = 5 * time.Minute
	}
	return &ScreeningLoop{
		cfg:       cfg,
		store:     store,
		screener:  scr,
		rules:     rules,
		bus:       bus,
		engine:    engine,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		compiled:  make(map[string]*compiledRule),
		lastFire:  make(map[string]time.Time),
		counts:    make(map[string]int),
		stop:      make(chan struct{}),
	}
}

func (l *ScreeningLoop) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				l.scan(ctx)
			}
		}
	}()
}

func (l *ScreeningLoop) Stop() {
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
}

// scan is one full pass: changed symbols -> snapshot -> rules -> signals.
func (l *ScreeningLoop) scan(ctx context.Context) {
	changed := l.store.ChangedSymbols()
	if len(changed) == 0 {
		return
	}
	rules, err := l.loadRules(ctx)
	if err != nil {
		l.metrics.RecordError("rules_refresh")
		l.log.Warn("rule refresh failed, skipping scan", applogger.Error(err))
		return
	}
	if len(rules) == 0 {
		return
	}

	snap := l.store.Snapshot(changed)
	results := l.screener.ExecuteFilters(ctx, rules, snap)
	l.scans.Add(1)

	for _, rule := range rules {
		res, ok := results[rule.Def.ID]
		if !ok {
			continue
		}
		if res.Error != "" {
			l.metrics.RecordError("rule_execution")
			l.log.Warn("rule failed",
				applogger.String("rule_id", rule.Def.ID),
				applogger.String("error", res.Error))
			continue
		}
		for _, symbol := range res.MatchedSymbols {
			l.emit(ctx, rule.Def, symbol, snap)
		}
	}
}

// loadRules returns the compiled rule set, recompiling only definitions whose
// UpdatedAt moved since the cached build.
func (l *ScreeningLoop) loadRules(ctx context.Context) ([]*screener.Rule, error) {
	defs, err := l.rules.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(defs))
	out := make([]*screener.Rule, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.ID == "" {
			continue
		}
		seen[def.ID] = struct{}{}
		if c, ok := l.compiled[def.ID]; ok && c.updatedAt.Equal(def.UpdatedAt) {
			out = append(out, c.rule)
			continue
		}
		rule, err := screener.CompileRule(def)
		if err != nil {
			l.metrics.RecordError("rule_compile")
			l.log.Warn("rule compile failed",
				applogger.String("rule_id", def.ID),
				applogger.Error(err))
			continue
		}
		l.compiled[def.ID] = &compiledRule{updatedAt: def.UpdatedAt, rule: rule}
		out = append(out, rule)
	}
	for id := range l.compiled {
		if _, ok := seen[id]; !ok {
			delete(l.compiled, id)
		}
	}
	return out, nil
}

// emit publishes one match as a signal unless the (rule, symbol) pair fired
// within the cooldown; repeats inside the window only bump the counter.
func (l *ScreeningLoop) emit(ctx context.Context, def *models.RuleDefinition, symbol string, snap *marketdata.Snapshot) {
	key := def.ID + "|" + symbol
	now := time.Now()
	l.counts[key]++
	if last, ok := l.lastFire[key]; ok && now.Sub(last) < l.cfg.SignalCooldown {
		return
	}
	l.lastFire[key] = now

	interval := ""
	if len(def.RequiredIntervals) > 0 {
		interval = def.RequiredIntervals[0]
	}
	sig := &models.Signal{
		ID:        fmt.Sprintf("%s:%s:%d", def.ID, symbol, now.UnixNano()),
		RuleID:    def.ID,
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: now,
		Count:     l.counts[key],
	}
	if t := snap.Ticker(symbol); t != nil {
		sig.PriceAtSignal = t.Price
		sig.ChangePercentAtSignal = t.ChangePercent
		sig.VolumeAtSignal = t.Volume
	}

	l.bus.PublishSignal(&eventbus.SignalEvent{Signal: sig})
	if l.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := l.publisher.PublishSignal(pubCtx, sig); err != nil {
			l.metrics.RecordError("signal_publish")
			l.log.Warn("signal publish failed", applogger.Error(err))
		}
		cancel()
	}
	if l.engine != nil {
		if _, err := l.engine.StartWatch(ctx, sig); err != nil {
			l.log.Warn("watch start failed",
				applogger.String("signal_id", sig.ID),
				applogger.Error(err))
		}
	}
	l.signals.Add(1)
	l.log.Info("signal emitted",
		applogger.String("rule_id", def.ID),
		applogger.String("symbol", symbol),
		applogger.Float64("price", sig.PriceAtSignal))
}

// ScreeningStats is the synchronous observability snapshot for the loop.
type ScreeningStats struct {
	Scans   uint64 `json:"scans"`
	Signals uint64 `json:"signals"`
}

func (l *ScreeningLoop) Stats() ScreeningStats {
	return ScreeningStats{Scans: l.scans.Load(), Signals: l.signals.Load()}
}
