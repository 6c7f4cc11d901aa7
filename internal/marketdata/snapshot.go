package marketdata

import (
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
)

// Snapshot is the read-only view handed to the screener for one evaluation
// pass. It pins the symbol set at capture time but reads candles and tickers
// live through the store's lock-free paths; workers share one snapshot, never
// per-worker copies of the dataset.
type Snapshot struct {
	store   *Store
	symbols []string
	taken   time.Time
}

// Snapshot captures the current symbol set for one screening pass. With a
// non-empty subset only those symbols are screened (incremental pass over
// changed symbols).
func (s *Store) Snapshot(subset []string) *Snapshot {
	symbols := subset
	if len(symbols) == 0 {
		symbols = s.Symbols()
	}
	return &Snapshot{store: s, symbols: symbols, taken: time.Now()}
}

// Symbols returns the pinned symbol set.
func (sn *Snapshot) Symbols() []string { return sn.symbols }

// Taken returns the capture timestamp.
func (sn *Snapshot) Taken() time.Time { return sn.taken }

// Ticker returns the latest snapshot for symbol, or nil.
func (sn *Snapshot) Ticker(symbol string) *models.TickerSnapshot {
	t, err := sn.store.GetTicker(symbol)
	if err != nil {
		return nil
	}
	return t
}

// Candles returns up to limit most recent candles, ascending.
func (sn *Snapshot) Candles(symbol string, interval domrepo.Interval, limit int) []models.Candle {
	return sn.store.GetCandles(symbol, interval, limit)
}
