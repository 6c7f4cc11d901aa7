package marketdata

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// Store holds live market data for a bounded set of symbols: one ticker
// snapshot per symbol plus one candle ring buffer per (symbol, interval).
//
// Concurrency model: the ingestion path is the only writer of market data;
// readers (screener, monitoring, API) never block it. Tickers are swapped
// through an atomic pointer, candle rings take a short per-slot lock, and
// change tracking uses two alternating dirty bit-sets so ChangedSymbols is a
// pure bit-set swap with no lock against writers.
type Store struct {
	cfg Config
	log *applogger.Logger

	mu      sync.RWMutex // guards index, symbols, free list
	index   map[string]int
	symbols []string // slot id -> symbol, "" when free
	free    []int
	next    int

	slots []*slot

	// Double-buffered dirty tracking. The low bit of cycle selects the set
	// writers mark; ChangedSymbols bumps cycle and drains the retired set.
	dirty [2][]atomic.Uint64
	cycle atomic.Uint64

	updates atomic.Uint64
}

// Config bounds the store's pre-allocated layout.
type Config struct {
	MaxSymbols     int
	CandleCapacity int
	Intervals      []domrepo.Interval
}

type slot struct {
	ticker    atomic.Pointer[models.TickerSnapshot]
	lastWrite atomic.Int64 // unix nano of most recent write

	mu     sync.RWMutex
	series map[domrepo.Interval]*ring
}

// Stats is the synchronous observability snapshot.
type Stats struct {
	SymbolCount int    `json:"symbolCount"`
	MaxSymbols  int    `json:"maxSymbols"`
	UpdateCount uint64 `json:"updateCount"`
}

// NewStore creates a store with pre-allocated slots and dirty sets.
func NewStore(cfg Config, log *applogger.Logger) *Store {
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = 512
	}
	if cfg.CandleCapacity <= 0 {
		cfg.CandleCapacity = 1000
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = domrepo.Intervals()
	}

	words := (cfg.MaxSymbols + 63) / 64
	s := &Store{
		cfg:     cfg,
		log:     log,
		index:   make(map[string]int, cfg.MaxSymbols),
		symbols: make([]string, cfg.MaxSymbols),
		slots:   make([]*slot, cfg.MaxSymbols),
	}
	s.dirty[0] = make([]atomic.Uint64, words)
	s.dirty[1] = make([]atomic.Uint64, words)
	return s
}

// RegisterSymbol assigns a stable slot for symbol, lazily creating it. Returns
// errs.ErrCapacityExceeded once all slots are taken.
func (s *Store) RegisterSymbol(symbol string) (int, error) {
	if symbol == "" {
		return 0, fmt.Errorf("empty symbol: %w", errs.ErrValidation)
	}

	s.mu.RLock()
	idx, ok := s.index[symbol]
	s.mu.RUnlock()
	if ok {
		return idx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.index[symbol]; ok {
		return idx, nil
	}

	switch {
	case len(s.free) > 0:
		idx = s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
	case s.next < s.cfg.MaxSymbols:
		idx = s.next
		s.next++
	default:
		return 0, fmt.Errorf("symbol table full (%d): %w", s.cfg.MaxSymbols, errs.ErrCapacityExceeded)
	}

	sl := &slot{series: make(map[domrepo.Interval]*ring, len(s.cfg.Intervals))}
	for _, iv := range s.cfg.Intervals {
		sl.series[iv] = newRing(s.cfg.CandleCapacity)
	}
	s.slots[idx] = sl
	s.symbols[idx] = symbol
	s.index[symbol] = idx
	return idx, nil
}

func (s *Store) lookup(symbol string) (int, *slot, bool) {
	s.mu.RLock()
	idx, ok := s.index[symbol]
	var sl *slot
	if ok {
		sl = s.slots[idx]
	}
	s.mu.RUnlock()
	return idx, sl, ok && sl != nil
}

// UpdateTicker stores the latest snapshot for symbol. Fire-and-forget: an
// unregistered symbol is registered lazily; a full table drops the update.
func (s *Store) UpdateTicker(symbol string, snap *models.TickerSnapshot) {
	idx, sl, ok := s.lookup(symbol)
	if !ok {
		var err error
		if idx, err = s.RegisterSymbol(symbol); err != nil {
			s.log.Warn("ticker dropped", applogger.String("symbol", symbol), applogger.Error(err))
			return
		}
		_, sl, _ = s.lookup(symbol)
	}

	sl.ticker.Store(snap)
	sl.lastWrite.Store(time.Now().UnixNano())
	s.markDirty(idx)
	s.updates.Add(1)
}

// UpdateCandle applies one candle write to the (symbol, interval) ring: an
// existing open time overwrites in place, a new one appends and evicts the
// oldest entry once the ring is full.
func (s *Store) UpdateCandle(symbol string, interval domrepo.Interval, c models.Candle) {
	idx, sl, ok := s.lookup(symbol)
	if !ok {
		var err error
		if idx, err = s.RegisterSymbol(symbol); err != nil {
			s.log.Warn("candle dropped", applogger.String("symbol", symbol), applogger.Error(err))
			return
		}
		_, sl, _ = s.lookup(symbol)
	}

	sl.mu.Lock()
	r := sl.series[interval]
	if r == nil {
		r = newRing(s.cfg.CandleCapacity)
		sl.series[interval] = r
	}
	r.upsert(c)
	sl.mu.Unlock()

	sl.lastWrite.Store(time.Now().UnixNano())
	s.markDirty(idx)
	s.updates.Add(1)
}

// ReplaceCandles bulk-loads a series, replacing whatever the ring holds.
// Input must be ascending by open time; extra leading entries beyond the ring
// capacity are discarded.
func (s *Store) ReplaceCandles(symbol string, interval domrepo.Interval, candles []models.Candle) {
	idx, sl, ok := s.lookup(symbol)
	if !ok {
		var err error
		if idx, err = s.RegisterSymbol(symbol); err != nil {
			s.log.Warn("seed dropped", applogger.String("symbol", symbol), applogger.Error(err))
			return
		}
		_, sl, _ = s.lookup(symbol)
	}

	sl.mu.Lock()
	r := newRing(s.cfg.CandleCapacity)
	r.replace(candles)
	sl.series[interval] = r
	sl.mu.Unlock()

	sl.lastWrite.Store(time.Now().UnixNano())
	s.markDirty(idx)
	s.updates.Add(1)
}

// GetTicker returns the latest snapshot, or errs.ErrNotFound.
func (s *Store) GetTicker(symbol string) (*models.TickerSnapshot, error) {
	_, sl, ok := s.lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, errs.ErrNotFound)
	}
	snap := sl.ticker.Load()
	if snap == nil {
		return nil, fmt.Errorf("symbol %s has no ticker yet: %w", symbol, errs.ErrNotFound)
	}
	return snap, nil
}

// GetCandles returns up to limit most recent candles in ascending time order.
// Unknown symbols read as empty, not as an error.
func (s *Store) GetCandles(symbol string, interval domrepo.Interval, limit int) []models.Candle {
	_, sl, ok := s.lookup(symbol)
	if !ok {
		return nil
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	r := sl.series[interval]
	if r == nil {
		return nil
	}
	return r.lastN(limit)
}

func (s *Store) markDirty(idx int) {
	active := s.cycle.Load() & 1
	s.dirty[active][idx/64].Or(1 << (uint(idx) % 64))
}

// ChangedSymbols returns the set of symbols mutated since the previous call,
// then resets tracking. Implemented as a bit-set swap: writers keep marking
// the now-active set while this call drains the retired one, so a reader
// never observes a partially written set and writers never block. A write
// racing the swap lands in the next cycle instead of being lost.
func (s *Store) ChangedSymbols() []string {
	retired := s.cycle.Add(1) - 1
	set := s.dirty[retired&1]

	var out []string
	s.mu.RLock()
	for w := range set {
		word := set[w].Swap(0)
		for word != 0 {
			idx := w*64 + bits.TrailingZeros64(word)
			if sym := s.symbols[idx]; sym != "" {
				out = append(out, sym)
			}
			word &= word - 1
		}
	}
	s.mu.RUnlock()
	return out
}

// RemoveSymbol frees the symbol's slot and all its data.
func (s *Store) RemoveSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[symbol]
	if !ok {
		return
	}
	delete(s.index, symbol)
	s.symbols[idx] = ""
	s.slots[idx] = nil
	s.free = append(s.free, idx)
	s.dirty[0][idx/64].And(^uint64(1 << (uint(idx) % 64)))
	s.dirty[1][idx/64].And(^uint64(1 << (uint(idx) % 64)))
}

// CleanupStale removes symbols that have not been written for maxAge,
// reclaiming slots under symbol churn. Returns the number removed.
func (s *Store) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).UnixNano()

	s.mu.RLock()
	stale := make([]string, 0)
	for sym, idx := range s.index {
		if sl := s.slots[idx]; sl != nil && sl.lastWrite.Load() < cutoff {
			stale = append(stale, sym)
		}
	}
	s.mu.RUnlock()

	for _, sym := range stale {
		s.RemoveSymbol(sym)
	}
	if len(stale) > 0 {
		s.log.Info("stale symbols removed", applogger.Int("count", len(stale)))
	}
	return len(stale)
}

// Symbols returns all registered symbols.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.index))
	for sym := range s.index {
		out = append(out, sym)
	}
	return out
}

// Stats returns the synchronous observability snapshot.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	n := len(s.index)
	s.mu.RUnlock()
	return Stats{
		SymbolCount: n,
		MaxSymbols:  s.cfg.MaxSymbols,
		UpdateCount: s.updates.Load(),
	}
}
