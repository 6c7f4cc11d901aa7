package usecase

import (
	"time"

	"MarketPulse/internal/dispatch"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/monitoring"
	"MarketPulse/internal/screener"
)

// SystemStats aggregates the per-component observability snapshots for the
// stats endpoint.
type SystemStats struct {
	startedAt  time.Time
	collector  *MarketCollector
	store      *marketdata.Store
	bus        *eventbus.Bus
	screener   *screener.Screener
	screening  *ScreeningLoop
	engine     *monitoring.Engine
	dispatcher *dispatch.Dispatcher
}

func NewSystemStats(
	collector *MarketCollector,
	store *marketdata.Store,
	bus *eventbus.Bus,
	scr *screener.Screener,
	screening *ScreeningLoop,
	engine *monitoring.Engine,
	dispatcher *dispatch.Dispatcher,
) *SystemStats {
	return &SystemStats{
		startedAt:  time.Now(),
		collector:  collector,
		store:      store,
		bus:        bus,
		screener:   scr,
		screening:  screening,
		engine:     engine,
		dispatcher: dispatcher,
	}
}

type SystemStatsResult struct {
	Uptime          string           `json:"uptime"`
	StreamConnected bool             `json:"streamConnected"`
	Store           marketdata.Stats `json:"store"`
	Bus             eventbus.Stats   `json:"bus"`
	Screener        screener.Stats   `json:"screener"`
	Screening       ScreeningStats   `json:"screening"`
	Monitoring      monitoring.Stats `json:"monitoring"`
	Dispatcher      dispatch.Stats   `json:"dispatcher"`
}

func (s *SystemStats) Snapshot() *SystemStatsResult {
	res := &SystemStatsResult{
		Uptime: Uptime(s.startedAt),
	}
	if s.collector != nil {
		res.StreamConnected = s.collector.IsConnected()
	}
	if s.store != nil {
		res.Store = s.store.Stats()
	}
	if s.bus != nil {
		res.Bus = s.bus.Stats()
	}
	if s.screener != nil {
		res.Screener = s.screener.Stats()
	}
	if s.screening != nil {
		res.Screening = s.screening.Stats()
	}
	if s.engine != nil {
		res.Monitoring = s.engine.Stats()
	}
	if s.dispatcher != nil {
		res.Dispatcher = s.dispatcher.Stats()
	}
	return res
}
