package monitoring

import (
	"errors"
	"testing"
	"time"

	"MarketPulse/internal/domain/errs"
	"MarketPulse/internal/domain/models"
)

func testWatch(id string) *models.Watch {
	return &models.Watch{
		SignalID:      id,
		RuleID:        "rule-1",
		Symbol:        "BTCUSDT",
		Interval:      "5m",
		MaxReanalyses: 3,
	}
}

func TestAddAndDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(testWatch("s1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(testWatch("s1")); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("duplicate add should fail, got %v", err)
	}

	w, err := r.Get("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !w.Active() || w.MonitoringStarted.IsZero() {
		t.Fatalf("add should activate and stamp the watch: %+v", w)
	}
	if _, err := r.Get("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(testWatch("s1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !r.Deactivate("s1") {
		t.Fatalf("first deactivate should report a transition")
	}
	if r.Deactivate("s1") {
		t.Fatalf("second deactivate must be a no-op")
	}
	if r.Deactivate("unknown") {
		t.Fatalf("unknown id must be a no-op")
	}
	w, _ := r.Get("s1")
	if w.Active() {
		t.Fatalf("watch should be expired")
	}
}

func TestReserveReanalysisBudget(t *testing.T) {
	r := NewRegistry()
	w := testWatch("s1")
	w.MaxReanalyses = 2
	if err := r.Add(w); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 2; i++ {
		if !r.ReserveReanalysis("s1", time.Now()) {
			t.Fatalf("reservation %d should succeed", i+1)
		}
	}
	if r.ReserveReanalysis("s1", time.Now()) {
		t.Fatalf("budget exhausted, reservation must fail")
	}
	got, _ := r.Get("s1")
	if got.ReanalysisCount != 2 {
		t.Fatalf("count = %d, want 2", got.ReanalysisCount)
	}

	r.Deactivate("s1")
	if r.ReserveReanalysis("s1", time.Now()) {
		t.Fatalf("expired watch must not reserve")
	}
}

func TestCleanupSweepsOnlyOldExpired(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"old-expired", "fresh-expired", "active"} {
		if err := r.Add(testWatch(id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	r.Deactivate("old-expired")
	r.Deactivate("fresh-expired")

	// Backdate one expired watch past the retention window.
	if err := r.Update("old-expired", func(w *models.Watch) {}); err != nil {
		t.Fatalf("touch: %v", err)
	}
	r.mu.Lock()
	r.watches["old-expired"].UpdatedAt = time.Now().Add(-48 * time.Hour)
	r.mu.Unlock()

	if removed := r.Cleanup(24 * time.Hour); removed != 1 {
		t.Fatalf("expected 1 sweep, got %d", removed)
	}
	if _, err := r.Get("old-expired"); err == nil {
		t.Fatalf("old expired watch should be gone")
	}
	if _, err := r.Get("fresh-expired"); err != nil {
		t.Fatalf("fresh expired watch should remain: %v", err)
	}
	if _, err := r.Get("active"); err != nil {
		t.Fatalf("active watch must never be swept: %v", err)
	}
}

func TestLoadSkipsInactive(t *testing.T) {
	r := NewRegistry()
	active := testWatch("a")
	active.State = models.WatchActive
	expired := testWatch("b")
	expired.State = models.WatchExpired

	if n := r.Load([]*models.Watch{active, expired, nil}); n != 1 {
		t.Fatalf("expected 1 loaded, got %d", n)
	}
	if _, err := r.Get("a"); err != nil {
		t.Fatalf("active watch should load: %v", err)
	}
	if _, err := r.Get("b"); err == nil {
		t.Fatalf("expired watch should be skipped")
	}
}
