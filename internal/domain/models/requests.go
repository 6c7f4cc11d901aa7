package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type CandlesRequest struct {
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"5m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	Limit    int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=1000"`
	From     string `query:"from" json:"from"` // RFC3339 or unix seconds, optional
	To       string `query:"to" json:"to"`
}

type TickerRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type WatchesRequest struct {
	Symbol   string `query:"symbol" json:"symbol"`
	Interval string `query:"interval" json:"interval"`
}
