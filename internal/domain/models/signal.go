package models

import "time"

// Signal is a rule match promoted to an observable event.
type Signal struct {
	ID                    string    `json:"id"`
	RuleID                string    `json:"ruleId"`
	Symbol                string    `json:"symbol"`
	Interval              string    `json:"interval"`
	Timestamp             time.Time `json:"timestamp"`
	PriceAtSignal         float64   `json:"priceAtSignal"`
	ChangePercentAtSignal float64   `json:"changePercentAtSignal"`
	VolumeAtSignal        float64   `json:"volumeAtSignal"`
	Count                 int       `json:"count"` // dedupe counter for repeated matches
}
