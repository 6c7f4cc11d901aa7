package eventbus

import (
	"sync"
	"testing"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

type dropCounter struct {
	mu    sync.Mutex
	drops map[string]int
}

func (d *dropCounter) RecordCandleUpdate(string, string) {}
func (d *dropCounter) RecordError(string)                {}
func (d *dropCounter) RecordLastPrice(string, float64)   {}
func (d *dropCounter) RecordLatency(string, float64)     {}
func (d *dropCounter) RecordRuleMatch(string, int)       {}
func (d *dropCounter) RecordAnalysis(string)             {}
func (d *dropCounter) SetGauge(string, float64)          {}

func (d *dropCounter) RecordEventDropped(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops[event]++
}

func (d *dropCounter) count(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drops[event]
}

func TestPublishDelivery(t *testing.T) {
	b := New(4, nil, applogger.Discard())
	ch := b.SubscribeCandleClose()

	b.PublishCandleClose(&CandleCloseEvent{Symbol: "BTCUSDT", Interval: domrepo.I5m, OpenTime: 0})
	ev := <-ch
	if ev.Symbol != "BTCUSDT" || ev.Interval != domrepo.I5m {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDropWhenSubscriberFull(t *testing.T) {
	b := New(2, nil, applogger.Discard())
	slow := b.SubscribeCandleClose()
	fast := b.SubscribeCandleClose()

	// Fill slow's buffer, then keep fast drained.
	for i := 0; i < 5; i++ {
		b.PublishCandleClose(&CandleCloseEvent{Symbol: "A", Interval: domrepo.I1m, OpenTime: int64(i)})
		select {
		case <-fast:
		default:
			t.Fatalf("fast subscriber missed event %d", i)
		}
	}

	if got := len(slow); got != 2 {
		t.Fatalf("slow subscriber should hold exactly its capacity, got %d", got)
	}
	if s := b.Stats(); s.Dropped != 3 {
		t.Fatalf("expected 3 drops, got %d", s.Dropped)
	}
}

func TestDropsReachMetrics(t *testing.T) {
	m := &dropCounter{drops: make(map[string]int)}
	b := New(2, m, applogger.Discard())
	candles := b.SubscribeCandleClose()
	signals := b.SubscribeSignals()

	for i := 0; i < 5; i++ {
		b.PublishCandleClose(&CandleCloseEvent{Symbol: "A", Interval: domrepo.I1m, OpenTime: int64(i)})
	}
	for i := 0; i < 3; i++ {
		b.PublishSignal(&SignalEvent{Signal: &models.Signal{ID: "s"}})
	}

	if got := m.count("candle_close"); got != 3 {
		t.Fatalf("candle_close drops recorded = %d, want 3", got)
	}
	if got := m.count("signal"); got != 1 {
		t.Fatalf("signal drops recorded = %d, want 1", got)
	}
	if got := len(candles); got != 2 {
		t.Fatalf("candle subscriber holds %d events, want 2", got)
	}
	if got := len(signals); got != 2 {
		t.Fatalf("signal subscriber holds %d events, want 2", got)
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	b := New(2, nil, applogger.Discard())
	ch := b.SubscribeCandleClose()
	sig := b.SubscribeSignals()

	b.Shutdown()
	if _, ok := <-ch; ok {
		t.Fatalf("candle channel should be closed")
	}
	if _, ok := <-sig; ok {
		t.Fatalf("signal channel should be closed")
	}

	// Publishing and re-shutdown after shutdown are no-ops.
	b.PublishCandleClose(&CandleCloseEvent{Symbol: "A", Interval: domrepo.I1m})
	b.Shutdown()

	// New subscriptions observe immediate closure.
	if _, ok := <-b.SubscribeCandleClose(); ok {
		t.Fatalf("post-shutdown subscription should be closed")
	}
}
