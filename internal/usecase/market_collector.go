package usecase

import (
	"context"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	mid "MarketPulse/internal/middleware"
	applogger "MarketPulse/pkg/logger"
)

// MarketCollector drains the exchange stream and feeds the ingest pipeline.
type MarketCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.IngestPipeline
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewMarketCollector(stream drepo.MarketStream, pipe *mid.IngestPipeline, metrics drepo.Metrics, log *applogger.Logger) *MarketCollector {
	return &MarketCollector{stream: stream, pipe: pipe, metrics: metrics, log: log}
}

// IsConnected reports the underlying stream state.
func (c *MarketCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	candles, tickers, errCh := c.stream.Read(ctx)
	go c.consume(ctx, candles, tickers, errCh)
	return nil
}

func (c *MarketCollector) consume(ctx context.Context, candles <-chan *drepo.StreamCandle, tickers <-chan *models.TickerSnapshot, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				return
			}
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("stream error, reconnecting", applogger.Error(err))
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.log.Error("reconnect failed", applogger.Error(rerr))
				}
			}
		case sc, ok := <-candles:
			if !ok {
				return
			}
			if sc == nil {
				continue
			}
			if err := c.pipe.ProcessCandle(sc); err != nil {
				c.log.Debug("candle rejected",
					applogger.String("symbol", sc.Symbol),
					applogger.Error(err))
			}
		case t, ok := <-tickers:
			if !ok {
				return
			}
			if t == nil {
				continue
			}
			_ = c.pipe.ProcessTicker(t)
		}
	}
}

func (c *MarketCollector) Stop() error { return c.stream.Close() }
