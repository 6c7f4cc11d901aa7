package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/dispatch"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/ratelimit"
)

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	return &models.AnalysisResult{
		SignalID: req.SignalID, Decision: models.DecisionWait, Confidence: 50, AnalyzedAt: time.Now(),
	}, nil
}

type fakeRules struct{}

func (fakeRules) ListEnabled(context.Context) ([]*models.RuleDefinition, error) { return nil, nil }
func (fakeRules) Get(_ context.Context, ruleID string) (*models.RuleDefinition, error) {
	return &models.RuleDefinition{ID: ruleID, Name: "momentum", PredicateCode: "return true"}, nil
}

type fakeWatchStore struct {
	mu            sync.Mutex
	loadErr       error
	persisted     []*models.Watch
	saves         int
	statusUpdates map[string][]string
}

func newFakeWatchStore() *fakeWatchStore {
	return &fakeWatchStore{statusUpdates: make(map[string][]string)}
}

func (f *fakeWatchStore) LoadActiveWatches(context.Context) ([]*models.Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.persisted, nil
}

func (f *fakeWatchStore) SaveWatch(_ context.Context, w *models.Watch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeWatchStore) UpdateSignalStatus(_ context.Context, signalID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates[signalID] = append(f.statusUpdates[signalID], status)
	return nil
}

func (f *fakeWatchStore) statusCalls(signalID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusUpdates[signalID]...)
}

type engineFixture struct {
	engine     *Engine
	registry   *Registry
	store      *marketdata.Store
	watchStore *fakeWatchStore
	dispatcher *dispatch.Dispatcher
}

func newFixture(t *testing.T, maxReanalyses int) *engineFixture {
	t.Helper()
	store := marketdata.NewStore(marketdata.Config{
		MaxSymbols:     8,
		CandleCapacity: 50,
		Intervals:      []domrepo.Interval{domrepo.I5m, domrepo.I1h},
	}, applogger.Discard())
	for i := 0; i < 10; i++ {
		store.UpdateCandle("BTCUSDT", domrepo.I5m, models.Candle{
			OpenTime: int64(i) * 300_000,
			Open:     100, High: 101, Low: 99, Close: 100 + float64(i),
			Volume: 10, Closed: true,
		})
	}

	d := dispatch.New(dispatch.Config{
		MaxConcurrent: 2, TaskTimeout: time.Second, ShutdownGrace: time.Second,
	}, fakeAnalyzer{}, ratelimit.New(100, 100), nil, applogger.Discard())
	t.Cleanup(d.Shutdown)

	reg := NewRegistry()
	ws := newFakeWatchStore()
	e := NewEngine(Config{
		MaxReanalyses:   maxReanalyses,
		CleanupInterval: time.Hour,
		Retention:       24 * time.Hour,
		CandleDepth:     20,
	}, reg, store, fakeRules{}, d, ws, nil, nil, applogger.Discard())

	return &engineFixture{engine: e, registry: reg, store: store, watchStore: ws, dispatcher: d}
}

func (fx *engineFixture) candleClose(interval domrepo.Interval) *eventbus.CandleCloseEvent {
	return &eventbus.CandleCloseEvent{Symbol: "BTCUSDT", Interval: interval, OpenTime: 0, Close: 105}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReanalysisLifecycle(t *testing.T) {
	fx := newFixture(t, 2)
	sig := &models.Signal{ID: "sig-1", RuleID: "rule-1", Symbol: "BTCUSDT", Interval: "5m"}
	if _, err := fx.engine.StartWatch(context.Background(), sig); err != nil {
		t.Fatalf("start watch: %v", err)
	}

	// First two candle closes each trigger exactly one reanalysis.
	for want := 1; want <= 2; want++ {
		fx.engine.handleCandleClose(context.Background(), fx.candleClose(domrepo.I5m))
		waitFor(t, fmt.Sprintf("reanalysis %d", want), func() bool {
			w, err := fx.registry.Get("sig-1")
			return err == nil && w.ReanalysisCount == want
		})
	}
	fx.engine.wg.Wait()

	w, _ := fx.registry.Get("sig-1")
	if w.LastDecision != models.DecisionWait {
		t.Fatalf("decision should be recorded, got %+v", w)
	}

	// Third close expires the watch instead of reanalyzing.
	fx.engine.handleCandleClose(context.Background(), fx.candleClose(domrepo.I5m))
	fx.engine.wg.Wait()
	w, _ = fx.registry.Get("sig-1")
	if w.Active() || w.ReanalysisCount != 2 {
		t.Fatalf("watch should expire at budget, got %+v", w)
	}
	if calls := fx.watchStore.statusCalls("sig-1"); len(calls) != 1 || calls[0] != "expired" {
		t.Fatalf("expected exactly one expired status update, got %v", calls)
	}

	// A fourth close is a no-op: expiry is idempotent.
	fx.engine.handleCandleClose(context.Background(), fx.candleClose(domrepo.I5m))
	fx.engine.wg.Wait()
	if calls := fx.watchStore.statusCalls("sig-1"); len(calls) != 1 {
		t.Fatalf("expiry repeated its side effect: %v", calls)
	}
	if s := fx.engine.Stats(); s.Reanalyses != 2 || s.Expired != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

type rejectingSubmitter struct{ calls atomic.Int32 }

func (r *rejectingSubmitter) Submit(*models.AnalysisRequest, models.Priority) (*dispatch.Future, error) {
	r.calls.Add(1)
	return nil, errors.New("dispatcher saturated")
}

func TestRejectedSubmissionStillSpendsBudget(t *testing.T) {
	store := marketdata.NewStore(marketdata.Config{
		MaxSymbols:     8,
		CandleCapacity: 50,
		Intervals:      []domrepo.Interval{domrepo.I5m},
	}, applogger.Discard())
	for i := 0; i < 10; i++ {
		store.UpdateCandle("BTCUSDT", domrepo.I5m, models.Candle{
			OpenTime: int64(i) * 300_000,
			Open:     100, High: 101, Low: 99, Close: 100 + float64(i),
			Volume: 10, Closed: true,
		})
	}
	reg := NewRegistry()
	sub := &rejectingSubmitter{}
	e := NewEngine(Config{
		MaxReanalyses:   2,
		CleanupInterval: time.Hour,
		Retention:       24 * time.Hour,
		CandleDepth:     20,
	}, reg, store, fakeRules{}, sub, nil, nil, nil, applogger.Discard())

	sig := &models.Signal{ID: "sig-rej", RuleID: "rule-1", Symbol: "BTCUSDT", Interval: "5m"}
	if _, err := e.StartWatch(context.Background(), sig); err != nil {
		t.Fatalf("start watch: %v", err)
	}
	ev := &eventbus.CandleCloseEvent{Symbol: "BTCUSDT", Interval: domrepo.I5m, Close: 105}

	// Each rejected submission still consumes a budget slot: the counter
	// never moves backwards.
	for want := 1; want <= 2; want++ {
		e.handleCandleClose(context.Background(), ev)
		e.wg.Wait()
		w, _ := reg.Get("sig-rej")
		if w.ReanalysisCount != want {
			t.Fatalf("after close %d: count = %d, want %d", want, w.ReanalysisCount, want)
		}
	}

	// The exhausted watch expires on the next close instead of retrying.
	e.handleCandleClose(context.Background(), ev)
	e.wg.Wait()
	w, _ := reg.Get("sig-rej")
	if w.Active() || w.ReanalysisCount != 2 {
		t.Fatalf("watch should expire with its budget spent, got %+v", w)
	}
	if got := sub.calls.Load(); got != 2 {
		t.Fatalf("submitter called %d times, want 2", got)
	}
	if s := e.Stats(); s.Reanalyses != 0 {
		t.Fatalf("rejected submissions must not count as reanalyses, got %d", s.Reanalyses)
	}
}

func TestIntervalAndSymbolScoping(t *testing.T) {
	fx := newFixture(t, 5)
	sig := &models.Signal{ID: "sig-5m", RuleID: "rule-1", Symbol: "BTCUSDT", Interval: "5m"}
	if _, err := fx.engine.StartWatch(context.Background(), sig); err != nil {
		t.Fatalf("start watch: %v", err)
	}

	// A 1h close must never touch a 5m watch.
	fx.engine.handleCandleClose(context.Background(), fx.candleClose(domrepo.I1h))
	// Neither may a 5m close for another symbol.
	fx.engine.handleCandleClose(context.Background(), &eventbus.CandleCloseEvent{
		Symbol: "ETHUSDT", Interval: domrepo.I5m,
	})
	fx.engine.wg.Wait()

	w, _ := fx.registry.Get("sig-5m")
	if w.ReanalysisCount != 0 {
		t.Fatalf("out-of-scope events triggered reanalysis: %+v", w)
	}
}

func TestReanalysisIntervalGate(t *testing.T) {
	fx := newFixture(t, 5)
	fx.engine.cfg.ReanalysisInterval = time.Hour
	sig := &models.Signal{ID: "sig-gated", RuleID: "rule-1", Symbol: "BTCUSDT", Interval: "5m"}
	if _, err := fx.engine.StartWatch(context.Background(), sig); err != nil {
		t.Fatalf("start watch: %v", err)
	}

	fx.engine.handleCandleClose(context.Background(), fx.candleClose(domrepo.I5m))
	waitFor(t, "first reanalysis", func() bool {
		w, err := fx.registry.Get("sig-gated")
		return err == nil && w.ReanalysisCount == 1
	})
	fx.engine.wg.Wait()

	// Within the minimum gap the next close is ignored.
	fx.engine.handleCandleClose(context.Background(), fx.candleClose(domrepo.I5m))
	fx.engine.wg.Wait()
	w, _ := fx.registry.Get("sig-gated")
	if w.ReanalysisCount != 1 {
		t.Fatalf("gap not honored, count=%d", w.ReanalysisCount)
	}
}

func TestStartupRecovery(t *testing.T) {
	fx := newFixture(t, 5)
	fx.watchStore.persisted = []*models.Watch{
		{SignalID: "recovered", RuleID: "rule-1", Symbol: "BTCUSDT", Interval: "5m",
			State: models.WatchActive, MaxReanalyses: 5, ReanalysisCount: 2},
	}

	bus := eventbus.New(16, nil, applogger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	fx.engine.Start(ctx, bus.SubscribeCandleClose())

	waitFor(t, "recovery", func() bool {
		_, err := fx.registry.Get("recovered")
		return err == nil
	})
	w, _ := fx.registry.Get("recovered")
	if w.ReanalysisCount != 2 {
		t.Fatalf("recovered counter should survive, got %+v", w)
	}

	bus.Shutdown()
	cancel()
	fx.engine.Stop()
}

func TestRecoveryFailureIsNonFatal(t *testing.T) {
	fx := newFixture(t, 5)
	fx.watchStore.loadErr = errors.New("store down")

	bus := eventbus.New(16, nil, applogger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	fx.engine.Start(ctx, bus.SubscribeCandleClose())

	if _, total := fx.registry.Counts(); total != 0 {
		t.Fatalf("registry should start empty on recovery failure")
	}

	// The engine still processes events.
	sig := &models.Signal{ID: "sig-live", RuleID: "rule-1", Symbol: "BTCUSDT", Interval: "5m"}
	if _, err := fx.engine.StartWatch(ctx, sig); err != nil {
		t.Fatalf("start watch: %v", err)
	}
	bus.PublishCandleClose(fx.candleClose(domrepo.I5m))
	waitFor(t, "live reanalysis", func() bool {
		w, err := fx.registry.Get("sig-live")
		return err == nil && w.ReanalysisCount == 1
	})

	bus.Shutdown()
	cancel()
	fx.engine.Stop()
}
