package usecase

import (
	"context"
	"encoding/json"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	mid "MarketPulse/internal/middleware"
	pkgkafka "MarketPulse/pkg/kafka"
)

// KafkaCandlesHandler consumes candle messages from Kafka as an alternative
// ingest path (e.g. a replay or a relay feed) and routes them through the
// same pipeline as the live stream.
type KafkaCandlesHandler struct {
	topic   string
	pipe    *mid.IngestPipeline
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)

func NewKafkaCandlesHandler(topic string, pipe *mid.IngestPipeline, metrics domrepo.Metrics) *KafkaCandlesHandler {
	return &KafkaCandlesHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, interval, t, o, h, l, c, v, closed}
func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol   string  `json:"symbol"`
		Interval string  `json:"interval"`
		T        int64   `json:"t"`
		O        float64 `json:"o"`
		H        float64 `json:"h"`
		L        float64 `json:"l"`
		C        float64 `json:"c"`
		V        float64 `json:"v"`
		Closed   bool    `json:"closed"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.T > 0 && m.T < 1e11 { // seconds -> ms
		m.T = m.T * 1000
	}

	sc := &domrepo.StreamCandle{
		Symbol:   m.Symbol,
		Interval: domrepo.NormalizeInterval(m.Interval),
		Candle: models.Candle{
			OpenTime: m.T,
			Open:     m.O,
			High:     m.H,
			Low:      m.L,
			Close:    m.C,
			Volume:   m.V,
			Closed:   m.Closed,
		},
	}
	if err := h.pipe.ProcessCandle(sc); err != nil {
		h.metrics.RecordError("consumer_ingest")
		return err
	}
	return nil
}
