package middleware

import (
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
)

// IngestPipeline sits between the market stream and the store. It validates
// incoming frames, throttles per-symbol ticker bursts, writes into the store,
// and announces closed candles on the bus. Store writes are fire-and-forget,
// so the pipeline carries no retry buffer.
type IngestPipeline struct {
	store   *marketdata.Store
	bus     *eventbus.Bus
	metrics domrepo.Metrics

	maxTickerRPS int
	mu           sync.Mutex
	lastSeen     map[string]time.Time
}

type PipelineOption func(*IngestPipeline)

// WithMaxTickerRPS caps accepted ticker updates per symbol per second.
// Candles are never throttled.
func WithMaxTickerRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxTickerRPS = n
		}
	}
}

func NewIngestPipeline(store *marketdata.Store, bus *eventbus.Bus, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		store:        store,
		bus:          bus,
		metrics:      metrics,
		maxTickerRPS: 20,
		lastSeen:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessCandle validates and stores one streamed candle; a closed bucket is
// announced on the bus.
func (p *IngestPipeline) ProcessCandle(sc *domrepo.StreamCandle) error {
	if err := validateCandle(sc); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("ingest_validate")
		}
		return err
	}
	p.store.UpdateCandle(sc.Symbol, sc.Interval, sc.Candle)
	if p.metrics != nil {
		p.metrics.RecordCandleUpdate(sc.Symbol, string(sc.Interval))
	}
	if sc.Candle.Closed {
		p.bus.PublishCandleClose(&eventbus.CandleCloseEvent{
			Symbol:   sc.Symbol,
			Interval: sc.Interval,
			OpenTime: sc.Candle.OpenTime,
			Close:    sc.Candle.Close,
		})
	}
	return nil
}

// ProcessTicker validates, throttles, and stores one ticker snapshot.
// Throttled updates are dropped silently; the next accepted one supersedes
// them anyway.
func (p *IngestPipeline) ProcessTicker(t *models.TickerSnapshot) error {
	if err := validateTicker(t); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("ingest_validate")
		}
		return err
	}
	if !p.allow(t.Symbol, time.Now()) {
		return nil
	}
	p.store.UpdateTicker(t.Symbol, t)
	if p.metrics != nil {
		p.metrics.RecordLastPrice(t.Symbol, t.Price)
	}
	return nil
}

func validateCandle(sc *domrepo.StreamCandle) error {
	if sc == nil || sc.Symbol == "" {
		return fmt.Errorf("candle missing symbol")
	}
	if !domrepo.IsValidInterval(sc.Interval) {
		return fmt.Errorf("unknown interval %q", sc.Interval)
	}
	if sc.Candle.OpenTime <= 0 {
		return fmt.Errorf("candle open time invalid")
	}
	if sc.Candle.Open < 0 || sc.Candle.High < 0 || sc.Candle.Low < 0 || sc.Candle.Close < 0 || sc.Candle.Volume < 0 {
		return fmt.Errorf("negative candle fields")
	}
	return nil
}

func validateTicker(t *models.TickerSnapshot) error {
	if t == nil || t.Symbol == "" {
		return fmt.Errorf("ticker missing symbol")
	}
	if t.Price < 0 || t.Volume < 0 {
		return fmt.Errorf("negative ticker fields")
	}
	return nil
}

func (p *IngestPipeline) allow(symbol string, now time.Time) bool {
	if p.maxTickerRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxTickerRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
