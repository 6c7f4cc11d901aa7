package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/monitoring"
	applogger "MarketPulse/pkg/logger"
)

func queryFixture(t *testing.T) (*MarketQuery, *marketdata.Store, *monitoring.Registry) {
	t.Helper()
	store := marketdata.NewStore(marketdata.Config{MaxSymbols: 16, CandleCapacity: 100}, applogger.Discard())
	registry := monitoring.NewRegistry()
	return NewMarketQuery(store, registry), store, registry
}

func TestGetCandlesRangeAlignsToBuckets(t *testing.T) {
	q, store, _ := queryFixture(t)
	base := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * 5 * time.Minute)
		store.UpdateCandle("BTCUSDT", domrepo.I5m, models.Candle{
			OpenTime: ts.UnixMilli(),
			Close:    float64(100 + i),
			Closed:   true,
		})
	}

	// 10:06:30..10:12:00 aligns down to the 10:05 and 10:10 buckets.
	res, err := q.GetCandles(context.Background(), GetCandlesParams{
		Symbol:   "BTCUSDT",
		Interval: domrepo.I5m,
		From:     base.Add(6*time.Minute + 30*time.Second),
		To:       base.Add(12 * time.Minute),
	})
	if err != nil {
		t.Fatalf("GetCandles = %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("count = %d, want 2 (got %+v)", res.Count, res.Candles)
	}
	if got := res.Candles[0].OpenTime; got != base.Add(5*time.Minute).UnixMilli() {
		t.Fatalf("first candle at %d, want the 10:05 bucket", got)
	}
	if got := res.Candles[1].OpenTime; got != base.Add(10*time.Minute).UnixMilli() {
		t.Fatalf("second candle at %d, want the 10:10 bucket", got)
	}

	// open-ended range: only a lower bound
	res, err = q.GetCandles(context.Background(), GetCandlesParams{
		Symbol:   "BTCUSDT",
		Interval: domrepo.I5m,
		From:     base.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("GetCandles(from only) = %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("from-only count = %d, want 2", res.Count)
	}
}

func TestGetCandlesValidation(t *testing.T) {
	q, _, _ := queryFixture(t)
	if _, err := q.GetCandles(context.Background(), GetCandlesParams{Interval: domrepo.I5m}); err == nil {
		t.Fatal("missing symbol must fail")
	}
	if _, err := q.GetCandles(context.Background(), GetCandlesParams{Symbol: "BTCUSDT", Interval: "7m"}); err == nil {
		t.Fatal("bad interval must fail")
	}
}

func TestListWatchesFilterAndLimit(t *testing.T) {
	q, _, registry := queryFixture(t)
	for i := 0; i < 5; i++ {
		w := &models.Watch{
			SignalID:      fmt.Sprintf("sig-%d", i),
			Symbol:        "BTCUSDT",
			Interval:      "5m",
			MaxReanalyses: 5,
		}
		if i == 4 {
			w.Symbol = "ETHUSDT"
		}
		if err := registry.Add(w); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	all := q.ListWatches(context.Background(), "", "", 0)
	if all.Count != 5 {
		t.Fatalf("all = %d, want 5", all.Count)
	}
	btc := q.ListWatches(context.Background(), "BTCUSDT", "5m", 0)
	if btc.Count != 4 {
		t.Fatalf("btc = %d, want 4", btc.Count)
	}
	capped := q.ListWatches(context.Background(), "BTCUSDT", "", 2)
	if capped.Count != 2 || len(capped.Watches) != 2 {
		t.Fatalf("capped = %d, want 2", capped.Count)
	}
}
