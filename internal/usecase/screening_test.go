package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/screener"
	applogger "MarketPulse/pkg/logger"
)

type staticRules struct {
	mu   sync.Mutex
	defs []*models.RuleDefinition
	err  error
}

func (r *staticRules) ListEnabled(context.Context) ([]*models.RuleDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defs, r.err
}

func (r *staticRules) Get(_ context.Context, id string) (*models.RuleDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.defs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

type capturePublisher struct {
	mu      sync.Mutex
	signals []*models.Signal
}

func (p *capturePublisher) PublishSignal(_ context.Context, s *models.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, s)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals)
}

type noopMetrics struct{}

func (noopMetrics) RecordCandleUpdate(string, string)  {}
func (noopMetrics) RecordError(string)                 {}
func (noopMetrics) RecordLastPrice(string, float64)    {}
func (noopMetrics) RecordLatency(string, float64)      {}
func (noopMetrics) RecordRuleMatch(string, int)        {}
func (noopMetrics) RecordEventDropped(string)          {}
func (noopMetrics) RecordAnalysis(string)              {}
func (noopMetrics) SetGauge(string, float64)           {}

func screeningFixture(t *testing.T, defs []*models.RuleDefinition) (*ScreeningLoop, *marketdata.Store, *eventbus.Bus, *capturePublisher) {
	t.Helper()
	log := applogger.Discard()
	store := marketdata.NewStore(marketdata.Config{MaxSymbols: 16, CandleCapacity: 100}, log)
	bus := eventbus.New(16, nil, log)
	scr := screener.New(screener.Config{MinWorkers: 1, MaxWorkers: 2, TaskTimeout: 2 * time.Second}, noopMetrics{}, log)
	t.Cleanup(scr.Shutdown)
	t.Cleanup(bus.Shutdown)

	pub := &capturePublisher{}
	loop := NewScreeningLoop(
		ScreeningConfig{ScanInterval: time.Hour, SignalCooldown: time.Hour},
		store, scr, &staticRules{defs: defs}, bus, nil, pub, noopMetrics{}, log,
	)
	return loop, store, bus, pub
}

func seedCandles(store *marketdata.Store, symbol string) {
	for i := 0; i < 10; i++ {
		store.UpdateCandle(symbol, domrepo.I5m, models.Candle{
			OpenTime: int64((i + 1) * 300_000),
			Open:     100,
			High:     110,
			Low:      95,
			Close:    float64(100 + i),
			Volume:   10,
			Closed:   true,
		})
	}
	store.UpdateTicker(symbol, &models.TickerSnapshot{
		Symbol: symbol, Price: 109, ChangePercent: 2.5, Volume: 1000, UpdatedAt: time.Now(),
	})
}

func TestScanEmitsSignalOncePerCooldown(t *testing.T) {
	def := &models.RuleDefinition{
		ID:                "always",
		Name:              "always fires",
		PredicateCode:     "return len(close) > 0",
		RequiredIntervals: []string{"5m"},
		Enabled:           true,
		UpdatedAt:         time.Now(),
	}
	loop, store, bus, pub := screeningFixture(t, []*models.RuleDefinition{def})
	events := bus.SubscribeSignals()
	seedCandles(store, "BTCUSDT")

	loop.scan(context.Background())

	select {
	case ev := <-events:
		s := ev.Signal
		if s.RuleID != "always" || s.Symbol != "BTCUSDT" || s.Interval != "5m" {
			t.Fatalf("unexpected signal %+v", s)
		}
		if s.PriceAtSignal != 109 || s.VolumeAtSignal != 1000 {
			t.Fatalf("signal not enriched from ticker: %+v", s)
		}
		if s.Count != 1 {
			t.Fatalf("count = %d, want 1", s.Count)
		}
	default:
		t.Fatal("no signal on bus")
	}
	if pub.count() != 1 {
		t.Fatalf("publisher got %d signals, want 1", pub.count())
	}

	// same match inside the cooldown only bumps the dedupe counter
	seedCandles(store, "BTCUSDT")
	loop.scan(context.Background())
	select {
	case ev := <-events:
		t.Fatalf("second scan emitted %+v inside cooldown", ev.Signal)
	default:
	}
	if got := loop.Stats(); got.Scans != 2 || got.Signals != 1 {
		t.Fatalf("stats = %+v, want 2 scans / 1 signal", got)
	}
}

func TestScanSkipsWhenNothingChanged(t *testing.T) {
	def := &models.RuleDefinition{
		ID:                "always",
		PredicateCode:     "return true",
		RequiredIntervals: []string{"5m"},
		Enabled:           true,
		UpdatedAt:         time.Now(),
	}
	loop, store, _, pub := screeningFixture(t, []*models.RuleDefinition{def})
	seedCandles(store, "BTCUSDT")

	loop.scan(context.Background()) // consumes the dirty set
	loop.scan(context.Background()) // nothing changed, no snapshot taken

	if got := loop.Stats(); got.Scans != 1 {
		t.Fatalf("scans = %d, want 1 (second pass had no dirty symbols)", got.Scans)
	}
	if pub.count() != 1 {
		t.Fatalf("publisher got %d signals, want 1", pub.count())
	}
}

func TestCompileErrorDisablesOnlyThatRule(t *testing.T) {
	good := &models.RuleDefinition{
		ID:                "good",
		PredicateCode:     "return close[len(close)-1] > 0",
		RequiredIntervals: []string{"5m"},
		Enabled:           true,
		UpdatedAt:         time.Now(),
	}
	bad := &models.RuleDefinition{
		ID:                "bad",
		PredicateCode:     "return this is not go",
		RequiredIntervals: []string{"5m"},
		Enabled:           true,
		UpdatedAt:         time.Now(),
	}
	loop, store, bus, _ := screeningFixture(t, []*models.RuleDefinition{good, bad})
	events := bus.SubscribeSignals()
	seedCandles(store, "ETHUSDT")

	loop.scan(context.Background())

	select {
	case ev := <-events:
		if ev.Signal.RuleID != "good" {
			t.Fatalf("signal from %q, want good", ev.Signal.RuleID)
		}
	default:
		t.Fatal("good rule did not fire")
	}
	if _, ok := loop.compiled["bad"]; ok {
		t.Fatal("bad rule must not be cached as compiled")
	}
}

func TestRecompileOnRuleUpdate(t *testing.T) {
	def := &models.RuleDefinition{
		ID:                "flip",
		PredicateCode:     "return false",
		RequiredIntervals: []string{"5m"},
		Enabled:           true,
		UpdatedAt:         time.Now(),
	}
	rules := &staticRules{defs: []*models.RuleDefinition{def}}
	log := applogger.Discard()
	store := marketdata.NewStore(marketdata.Config{MaxSymbols: 16, CandleCapacity: 100}, log)
	bus := eventbus.New(16, nil, log)
	scr := screener.New(screener.Config{MinWorkers: 1, MaxWorkers: 2, TaskTimeout: 2 * time.Second}, noopMetrics{}, log)
	t.Cleanup(scr.Shutdown)
	t.Cleanup(bus.Shutdown)
	loop := NewScreeningLoop(ScreeningConfig{ScanInterval: time.Hour}, store, scr, rules, bus, nil, nil, noopMetrics{}, log)
	events := bus.SubscribeSignals()

	seedCandles(store, "BTCUSDT")
	loop.scan(context.Background())
	select {
	case ev := <-events:
		t.Fatalf("false predicate fired: %+v", ev.Signal)
	default:
	}

	rules.mu.Lock()
	rules.defs = []*models.RuleDefinition{{
		ID:                "flip",
		PredicateCode:     "return true",
		RequiredIntervals: []string{"5m"},
		Enabled:           true,
		UpdatedAt:         def.UpdatedAt.Add(time.Minute),
	}}
	rules.mu.Unlock()

	seedCandles(store, "BTCUSDT")
	loop.scan(context.Background())
	select {
	case ev := <-events:
		if ev.Signal.RuleID != "flip" {
			t.Fatalf("unexpected rule %q", ev.Signal.RuleID)
		}
	default:
		t.Fatal("updated predicate did not fire")
	}
}
