package monitoring

import (
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
)

// Registry is the in-memory, authoritative set of watches keyed by signal
// ID. All mutation goes through its methods; reads hand out copies so
// callers can never corrupt registry state.
type Registry struct {
	mu      sync.RWMutex
	watches map[string]*models.Watch
}

func NewRegistry() *Registry {
	return &Registry{watches: make(map[string]*models.Watch)}
}

// Add registers a new watch, stamping creation/start timestamps and marking
// it Active. Duplicate signal IDs are rejected.
func (r *Registry) Add(w *models.Watch) error {
	if w == nil || w.SignalID == "" {
		return fmt.Errorf("%w: watch needs a signal id", errs.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.watches[w.SignalID]; exists {
		return fmt.Errorf("%w: watch %s already registered", errs.ErrValidation, w.SignalID)
	}
	now := time.Now()
	cp := *w
	cp.State = models.WatchActive
	cp.MonitoringStarted = now
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.watches[w.SignalID] = &cp
	return nil
}

// Load seeds the registry from recovered watches, keeping their persisted
// timestamps and counters. Inactive entries are skipped.
func (r *Registry) Load(watches []*models.Watch) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	loaded := 0
	for _, w := range watches {
		if w == nil || w.SignalID == "" || !w.Active() {
			continue
		}
		if _, exists := r.watches[w.SignalID]; exists {
			continue
		}
		cp := *w
		r.watches[w.SignalID] = &cp
		loaded++
	}
	return loaded
}

// Get returns a copy of the watch, or NotFound.
func (r *Registry) Get(signalID string) (*models.Watch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watches[signalID]
	if !ok {
		return nil, fmt.Errorf("watch %s: %w", signalID, errs.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

// Update applies fn to the stored watch under the registry lock and bumps
// UpdatedAt.
func (r *Registry) Update(signalID string, fn func(w *models.Watch)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[signalID]
	if !ok {
		return fmt.Errorf("watch %s: %w", signalID, errs.ErrNotFound)
	}
	fn(w)
	w.UpdatedAt = time.Now()
	return nil
}

// ReserveReanalysis atomically claims one reanalysis slot: it bumps the
// counter and timestamp only while the watch is Active with budget left.
// Returns false when nothing was claimed.
func (r *Registry) ReserveReanalysis(signalID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[signalID]
	if !ok || !w.Active() || w.ReanalysisCount >= w.MaxReanalyses {
		return false
	}
	w.ReanalysisCount++
	w.LastReanalysisAt = at
	w.UpdatedAt = at
	return true
}

// Deactivate transitions a watch to Expired. Idempotent: the first call
// returns true, repeats and unknown IDs return false.
func (r *Registry) Deactivate(signalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[signalID]
	if !ok || w.State == models.WatchExpired {
		return false
	}
	w.State = models.WatchExpired
	w.UpdatedAt = time.Now()
	return true
}

// ActiveByInterval returns copies of all Active watches registered for the
// interval.
func (r *Registry) ActiveByInterval(interval string) []*models.Watch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Watch
	for _, w := range r.watches {
		if w.Active() && w.Interval == interval {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out
}

// ActiveForSymbol narrows ActiveByInterval to one symbol.
func (r *Registry) ActiveForSymbol(symbol, interval string) []*models.Watch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Watch
	for _, w := range r.watches {
		if w.Active() && w.Interval == interval && w.Symbol == symbol {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out
}

// Cleanup removes Expired watches whose last update is older than retention.
// Active watches are never swept.
func (r *Registry) Cleanup(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, w := range r.watches {
		if w.State == models.WatchExpired && w.UpdatedAt.Before(cutoff) {
			delete(r.watches, id)
			removed++
		}
	}
	return removed
}

// List returns copies of all watches, optionally restricted to Active ones.
func (r *Registry) List(activeOnly bool) []*models.Watch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Watch, 0, len(r.watches))
	for _, w := range r.watches {
		if activeOnly && !w.Active() {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// Counts returns (active, total).
func (r *Registry) Counts() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := 0
	for _, w := range r.watches {
		if w.Active() {
			active++
		}
	}
	return active, len(r.watches)
}
