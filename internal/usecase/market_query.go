package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/monitoring"
	"MarketPulse/pkg/util"
)

// MarketQuery serves read-side API requests from the in-memory store and the
// watch registry.
type MarketQuery struct {
	store    *marketdata.Store
	registry *monitoring.Registry
}

func NewMarketQuery(store *marketdata.Store, registry *monitoring.Registry) *MarketQuery {
	return &MarketQuery{store: store, registry: registry}
}

type GetCandlesParams struct {
	Symbol   string
	Interval domrepo.Interval
	Limit    int
	From     time.Time // zero means unbounded
	To       time.Time
}

type GetCandlesResult struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Count    int             `json:"count"`
	Candles  []models.Candle `json:"candles"`
}

func (q *MarketQuery) GetCandles(_ context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", errs.ErrValidation)
	}
	if !domrepo.IsValidInterval(p.Interval) {
		return nil, fmt.Errorf("%w: unknown interval %q", errs.ErrValidation, p.Interval)
	}
	if p.Limit <= 0 {
		p.Limit = 200
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	candles := q.store.GetCandles(p.Symbol, p.Interval, p.Limit)
	if !p.From.IsZero() || !p.To.IsZero() {
		candles = filterByRange(candles, p.From, p.To, string(p.Interval))
	}
	return &GetCandlesResult{
		Symbol:   p.Symbol,
		Interval: string(p.Interval),
		Count:    len(candles),
		Candles:  candles,
	}, nil
}

// filterByRange keeps candles whose bucket start falls inside [from, to],
// with both bounds aligned down to the interval's bucket boundary.
func filterByRange(candles []models.Candle, from, to time.Time, interval string) []models.Candle {
	from, to = util.AlignFromTo(from, to, interval)
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		ts := time.UnixMilli(c.OpenTime)
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (q *MarketQuery) GetTicker(_ context.Context, symbol string) (*models.TickerSnapshot, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", errs.ErrValidation)
	}
	return q.store.GetTicker(symbol)
}

type ListWatchesResult struct {
	Count   int             `json:"count"`
	Watches []*models.Watch `json:"watches"`
}

// ListWatches returns active watches, optionally filtered by symbol and
// interval and truncated to limit (0 means all).
func (q *MarketQuery) ListWatches(_ context.Context, symbol, interval string, limit int) *ListWatchesResult {
	watches := q.registry.List(true)
	if symbol != "" || interval != "" {
		filtered := watches[:0]
		for _, w := range watches {
			if symbol != "" && w.Symbol != symbol {
				continue
			}
			if interval != "" && w.Interval != interval {
				continue
			}
			filtered = append(filtered, w)
		}
		watches = filtered
	}
	if limit > 0 && len(watches) > limit {
		watches = watches[:limit]
	}
	return &ListWatchesResult{Count: len(watches), Watches: watches}
}

// Uptime helper for the stats endpoint.
func Uptime(since time.Time) string {
	return time.Since(since).Truncate(time.Second).String()
}
