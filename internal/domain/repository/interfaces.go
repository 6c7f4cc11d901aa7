package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
)

// MarketStream delivers live candles and ticker snapshots from an exchange.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *StreamCandle, <-chan *models.TickerSnapshot, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// StreamCandle pairs a streamed candle with its routing metadata.
type StreamCandle struct {
	Symbol   string
	Interval Interval
	Candle   models.Candle
}

// RuleSource serves screening rule definitions.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]*models.RuleDefinition, error)
	Get(ctx context.Context, ruleID string) (*models.RuleDefinition, error)
}

// WatchStore is the durable collaborator for watch state. It is a recovery
// backstop, never consulted for in-process decisions.
type WatchStore interface {
	LoadActiveWatches(ctx context.Context) ([]*models.Watch, error)
	SaveWatch(ctx context.Context, w *models.Watch) error
	UpdateSignalStatus(ctx context.Context, signalID, status string) error
}

// Analyzer calls the external reasoning service.
type Analyzer interface {
	Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

// AnalysisAudit persists completed analysis outcomes for offline review.
// Failures are logged and never block the pipeline.
type AnalysisAudit interface {
	Record(ctx context.Context, res *models.AnalysisResult) error
	Close() error
}

// SignalPublisher fans detected signals out to downstream consumers.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, s *models.Signal) error
	Close() error
}

// Metrics abstracts the Prometheus recorder so components stay testable.
type Metrics interface {
	RecordCandleUpdate(symbol, interval string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordRuleMatch(ruleID string, matched int)
	RecordEventDropped(event string)
	RecordAnalysis(decision string)
	SetGauge(name string, v float64)
}
