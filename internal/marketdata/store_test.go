package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

func newTestStore(t *testing.T, maxSymbols, capacity int) *Store {
	t.Helper()
	return NewStore(Config{
		MaxSymbols:     maxSymbols,
		CandleCapacity: capacity,
		Intervals:      []domrepo.Interval{domrepo.I5m, domrepo.I1h},
	}, applogger.Discard())
}

func candleAt(openTime int64, close float64) models.Candle {
	return models.Candle{OpenTime: openTime, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestCandleOrderingAndOverwrite(t *testing.T) {
	s := newTestStore(t, 4, 3)

	s.UpdateCandle("BTCUSDT", domrepo.I5m, candleAt(0, 100))
	s.UpdateCandle("BTCUSDT", domrepo.I5m, candleAt(300, 101))
	s.UpdateCandle("BTCUSDT", domrepo.I5m, candleAt(300, 102)) // same bucket, overwrite
	s.UpdateCandle("BTCUSDT", domrepo.I5m, candleAt(600, 103))

	got := s.GetCandles("BTCUSDT", domrepo.I5m, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].OpenTime <= got[i-1].OpenTime {
			t.Fatalf("candles not strictly ascending: %v", got)
		}
	}
	if got[1].Close != 102 {
		t.Fatalf("same-timestamp write should overwrite in place, close=%v", got[1].Close)
	}

	// Fourth distinct bucket evicts the oldest.
	s.UpdateCandle("BTCUSDT", domrepo.I5m, candleAt(900, 104))
	got = s.GetCandles("BTCUSDT", domrepo.I5m, 0)
	if len(got) != 3 || got[0].OpenTime != 300 || got[2].OpenTime != 900 {
		t.Fatalf("expected window [300,600,900], got %v", got)
	}
}

func TestGetCandlesLimit(t *testing.T) {
	s := newTestStore(t, 2, 10)
	for i := 0; i < 6; i++ {
		s.UpdateCandle("ETHUSDT", domrepo.I5m, candleAt(int64(i*300), float64(i)))
	}
	got := s.GetCandles("ETHUSDT", domrepo.I5m, 2)
	if len(got) != 2 || got[0].Close != 4 || got[1].Close != 5 {
		t.Fatalf("limit should return most recent ascending, got %v", got)
	}
}

func TestReplaceCandlesTruncates(t *testing.T) {
	s := newTestStore(t, 2, 3)
	seed := make([]models.Candle, 5)
	for i := range seed {
		seed[i] = candleAt(int64(i*300), float64(i))
	}
	s.ReplaceCandles("BTCUSDT", domrepo.I5m, seed)

	got := s.GetCandles("BTCUSDT", domrepo.I5m, 0)
	if len(got) != 3 || got[0].Close != 2 || got[2].Close != 4 {
		t.Fatalf("replace should keep newest capacity entries, got %v", got)
	}
}

func TestChangedSymbolsSwap(t *testing.T) {
	s := newTestStore(t, 8, 4)
	for _, sym := range []string{"A", "B", "C"} {
		if _, err := s.RegisterSymbol(sym); err != nil {
			t.Fatalf("register %s: %v", sym, err)
		}
	}

	s.UpdateTicker("A", &models.TickerSnapshot{Symbol: "A", Price: 1, UpdatedAt: time.Now()})
	s.UpdateCandle("B", domrepo.I5m, candleAt(0, 1))

	changed := s.ChangedSymbols()
	sort.Strings(changed)
	if len(changed) != 2 || changed[0] != "A" || changed[1] != "B" {
		t.Fatalf("expected {A,B}, got %v", changed)
	}

	// No intervening writes: second call must be empty.
	if again := s.ChangedSymbols(); len(again) != 0 {
		t.Fatalf("expected empty set, got %v", again)
	}

	// Writes after the swap land in the next cycle, not the drained one.
	s.UpdateTicker("C", &models.TickerSnapshot{Symbol: "C", Price: 2, UpdatedAt: time.Now()})
	if next := s.ChangedSymbols(); len(next) != 1 || next[0] != "C" {
		t.Fatalf("expected {C}, got %v", next)
	}
}

func TestRegisterCapacity(t *testing.T) {
	s := newTestStore(t, 2, 4)
	if _, err := s.RegisterSymbol("A"); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if _, err := s.RegisterSymbol("B"); err != nil {
		t.Fatalf("register B: %v", err)
	}
	_, err := s.RegisterSymbol("C")
	if !errors.Is(err, errs.ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	// Removing a symbol frees its slot for reuse.
	s.RemoveSymbol("A")
	if _, err := s.RegisterSymbol("C"); err != nil {
		t.Fatalf("register after remove: %v", err)
	}
}

func TestGetTickerNotFound(t *testing.T) {
	s := newTestStore(t, 2, 4)
	if _, err := s.GetTicker("NOPE"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := s.GetCandles("NOPE", domrepo.I5m, 10); got != nil {
		t.Fatalf("unknown symbol should read empty, got %v", got)
	}
}

func TestCleanupStale(t *testing.T) {
	s := newTestStore(t, 4, 4)
	s.UpdateTicker("OLD", &models.TickerSnapshot{Symbol: "OLD", Price: 1, UpdatedAt: time.Now()})
	time.Sleep(30 * time.Millisecond)
	s.UpdateTicker("FRESH", &models.TickerSnapshot{Symbol: "FRESH", Price: 2, UpdatedAt: time.Now()})

	if removed := s.CleanupStale(20 * time.Millisecond); removed != 1 {
		t.Fatalf("expected 1 stale removal, got %d", removed)
	}
	if _, err := s.GetTicker("OLD"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("stale symbol should be gone, got %v", err)
	}
	if _, err := s.GetTicker("FRESH"); err != nil {
		t.Fatalf("fresh symbol should remain: %v", err)
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := newTestStore(t, 64, 32)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			sym := fmt.Sprintf("SYM%d", i%32)
			s.UpdateCandle(sym, domrepo.I5m, candleAt(int64(i*300), float64(i)))
		}
	}()

	for {
		select {
		case <-done:
			// Final drain picks up any writes racing the last swap.
			s.ChangedSymbols()
			if n := s.Stats().SymbolCount; n != 32 {
				t.Fatalf("expected 32 symbols, got %d", n)
			}
			return
		default:
			s.ChangedSymbols()
			s.GetCandles("SYM0", domrepo.I5m, 5)
		}
	}
}
