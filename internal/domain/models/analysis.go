package models

import "time"

// AnalysisRequest is the payload sent to the external reasoning service.
type AnalysisRequest struct {
	SignalID        string             `json:"signalId"`
	Symbol          string             `json:"symbol"`
	Interval        string             `json:"interval"`
	Price           float64            `json:"price"`
	RecentCandles   []Candle           `json:"recentCandles"`
	IndicatorValues map[string]float64 `json:"indicatorValues,omitempty"`
	StrategyText    string             `json:"strategyText"`
}

// Analysis decisions returned by the reasoning service.
const (
	DecisionEnter  = "enter"
	DecisionReject = "reject"
	DecisionWait   = "wait"
)

// AnalysisResult is the parsed reasoning service response.
type AnalysisResult struct {
	SignalID   string    `json:"signalId"`
	Decision   string    `json:"decision"`
	Confidence float64   `json:"confidence"` // 0-100
	Reasoning  string    `json:"reasoning,omitempty"`
	TradePlan  string    `json:"tradePlan,omitempty"`
	KeyLevels  []float64 `json:"keyLevels,omitempty"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// IsValidDecision reports whether the decision string is one we accept.
func IsValidDecision(d string) bool {
	switch d {
	case DecisionEnter, DecisionReject, DecisionWait:
		return true
	}
	return false
}
