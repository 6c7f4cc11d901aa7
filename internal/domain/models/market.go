package models

import "time"

// Candle represents one OHLCV bucket for a symbol+interval.
type Candle struct {
	OpenTime int64   `json:"openTime"` // unix ms, bucket start
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Closed   bool    `json:"closed"` // true once the bucket is final
}

// TickerSnapshot holds the latest observed state for a symbol. Single current
// value, not historized.
type TickerSnapshot struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	ChangePercent float64   `json:"changePercent"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
