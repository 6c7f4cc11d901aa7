package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// CandleCloseEvent announces that a (symbol, interval) bucket closed.
type CandleCloseEvent struct {
	Symbol   string
	Interval domrepo.Interval
	OpenTime int64 // unix ms
	Close    float64
}

// SignalEvent announces a newly detected signal.
type SignalEvent struct {
	Signal *models.Signal
}

// Bus is an in-memory fan-out with explicit lossy-under-load semantics: a
// publish never blocks, and a subscriber whose channel is full misses that
// event (counted, not silent). Shutdown closes every subscriber channel so
// consumers detect termination deterministically.
type Bus struct {
	log     *applogger.Logger
	metrics domrepo.Metrics
	bufSize int

	mu          sync.RWMutex
	candleSubs  []chan *CandleCloseEvent
	signalSubs  []chan *SignalEvent
	closed      bool
	dropped     atomic.Uint64
	published   atomic.Uint64
}

// Stats is the synchronous observability snapshot.
type Stats struct {
	CandleSubscribers int    `json:"candleSubscribers"`
	SignalSubscribers int    `json:"signalSubscribers"`
	Published         uint64 `json:"published"`
	Dropped           uint64 `json:"dropped"`
}

// New creates a bus handing out channels of the given capacity. metrics may
// be nil.
func New(bufSize int, metrics domrepo.Metrics, log *applogger.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &Bus{log: log, metrics: metrics, bufSize: bufSize}
}

func (b *Bus) recordDrop(event string) {
	b.dropped.Add(1)
	if b.metrics != nil {
		b.metrics.RecordEventDropped(event)
	}
}

// SubscribeCandleClose returns a fresh bounded channel of candle close
// events.
func (b *Bus) SubscribeCandleClose() <-chan *CandleCloseEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *CandleCloseEvent, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.candleSubs = append(b.candleSubs, ch)
	return ch
}

// SubscribeSignals returns a fresh bounded channel of signal events.
func (b *Bus) SubscribeSignals() <-chan *SignalEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *SignalEvent, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.signalSubs = append(b.signalSubs, ch)
	return ch
}

// PublishCandleClose delivers to every subscriber without blocking the
// publisher. Slow subscribers lose the event.
func (b *Bus) PublishCandleClose(ev *CandleCloseEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, ch := range b.candleSubs {
		select {
		case ch <- ev:
		default:
			b.recordDrop("candle_close")
			b.log.Warn("candle close event dropped, subscriber full",
				applogger.String("symbol", ev.Symbol),
				applogger.String("interval", string(ev.Interval)))
		}
	}
}

// PublishSignal delivers a signal event, same drop semantics.
func (b *Bus) PublishSignal(ev *SignalEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, ch := range b.signalSubs {
		select {
		case ch <- ev:
		default:
			b.recordDrop("signal")
			b.log.Warn("signal event dropped, subscriber full",
				applogger.String("signal_id", ev.Signal.ID))
		}
	}
}

// Shutdown closes all subscriber channels. Publishing after shutdown is a
// no-op. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.candleSubs {
		close(ch)
	}
	for _, ch := range b.signalSubs {
		close(ch)
	}
	b.candleSubs = nil
	b.signalSubs = nil
	b.log.Info("event bus shut down")
}

// Stats returns the synchronous observability snapshot.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		CandleSubscribers: len(b.candleSubs),
		SignalSubscribers: len(b.signalSubs),
		Published:         b.published.Load(),
		Dropped:           b.dropped.Load(),
	}
}

// CloseTime computes the close boundary for an event's bucket.
func (e *CandleCloseEvent) CloseTime() time.Time {
	return time.UnixMilli(e.OpenTime).Add(e.Interval.Duration())
}
