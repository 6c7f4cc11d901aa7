package models

import "time"

// WatchState is the lifecycle state of a monitored signal. Transitions are
// Active→Active (reanalysis) or Active→Expired; Expired is terminal.
type WatchState string

const (
	WatchActive  WatchState = "active"
	WatchExpired WatchState = "expired"
)

// Watch tracks a detected signal under observation for reanalysis.
type Watch struct {
	SignalID string `json:"signalId"`
	RuleID   string `json:"ruleId"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`

	MonitoringStarted time.Time `json:"monitoringStarted"`
	LastReanalysisAt  time.Time `json:"lastReanalysisAt"`
	ReanalysisCount   int       `json:"reanalysisCount"`
	MaxReanalyses     int       `json:"maxReanalyses"`

	LastDecision   string  `json:"lastDecision,omitempty"`
	LastConfidence float64 `json:"lastConfidence,omitempty"`

	State     WatchState `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Active reports whether the watch may still be reanalyzed.
func (w *Watch) Active() bool { return w.State == WatchActive }
