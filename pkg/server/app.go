package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPulse/internal/dispatch"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/marketdata"
	"MarketPulse/internal/monitoring"
	"MarketPulse/internal/screener"
	"MarketPulse/internal/usecase"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
)

// Components bundles everything the app lifecycle owns. Optional
// infrastructure (Kafka, Redis, ClickHouse) may be nil.
type Components struct {
	Store      *marketdata.Store
	Bus        *eventbus.Bus
	Collector  *usecase.MarketCollector
	Screening  *usecase.ScreeningLoop
	Screener   *screener.Screener
	Engine     *monitoring.Engine
	Dispatcher *dispatch.Dispatcher

	HTTPHandler xhttp.Handler

	Consumer       *pkgkafka.Consumer
	CandlesHandler pkgkafka.MessageHandler
	Publisher      domrepo.SignalPublisher
	Audit          domrepo.AnalysisAudit
	CHClient       *pkgch.Client
	Redis          *redis.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	c          *Components
	httpServer *xhttp.Server
	rootCancel context.CancelFunc
}

func New(cfg *config.Config, log *applogger.Logger, c *Components) *App {
	return &App{cfg: cfg, log: log, c: c}
}

// Run starts every component and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.rootCancel = cancel
	defer cancel()

	for _, s := range a.cfg.Binance.Symbols {
		if _, err := a.c.Store.RegisterSymbol(s); err != nil {
			a.log.Warn("symbol registration failed",
				applogger.String("symbol", s), applogger.Error(err))
		}
	}

	// Monitoring consumes candle closes before the collector produces any,
	// so the first events cannot be dropped on an unsubscribed bus.
	a.c.Engine.Start(ctx, a.c.Bus.SubscribeCandleClose())
	a.c.Screening.Start(ctx)

	if err := a.c.Collector.Start(ctx); err != nil {
		a.log.Error("collector start failed", applogger.Error(err))
		return err
	}
	a.log.Info("collector started",
		applogger.Strings("symbols", a.cfg.Binance.Symbols),
		applogger.Strings("intervals", a.cfg.Binance.Intervals))

	if a.c.Consumer != nil && a.c.CandlesHandler != nil {
		a.c.Consumer.RegisterHandler(a.c.CandlesHandler)
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started",
			applogger.String("topic", a.c.CandlesHandler.Topic()))
	}

	go a.cleanupLoop(ctx)

	a.httpServer = xhttp.NewServer(a.c.HTTPHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start failed", applogger.Error(err))
		return err
	}
	a.log.Info("http server listening", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// cleanupLoop evicts symbols with no writes for the configured stale window.
func (a *App) cleanupLoop(ctx context.Context) {
	interval := a.cfg.Market.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	stale := a.cfg.Market.StaleAfter
	if stale <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.c.Store.CleanupStale(stale); n > 0 {
				a.log.Info("stale symbols evicted", applogger.Int("count", n))
			}
		}
	}
}

// shutdown stops components in dependency order: sources first, then the
// event fan-out, then the consumers of that fan-out, then infrastructure.
func (a *App) shutdown() error {
	if err := a.c.Collector.Stop(); err != nil {
		a.log.Warn("collector stop error", applogger.Error(err))
	}
	a.c.Screening.Stop()
	a.c.Bus.Shutdown() // closes subscriber channels, engine loop drains out
	a.c.Engine.Stop()
	a.c.Dispatcher.Shutdown()
	a.c.Screener.Shutdown()

	if a.c.Consumer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.c.Consumer.Stop(stopCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.c.Publisher != nil {
		if err := a.c.Publisher.Close(); err != nil {
			a.log.Warn("signal publisher close error", applogger.Error(err))
		}
	}
	if a.c.Audit != nil {
		_ = a.c.Audit.Close()
	}
	if a.c.CHClient != nil {
		if err := a.c.CHClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.c.Redis != nil {
		if err := a.c.Redis.Close(); err != nil {
			a.log.Warn("redis close error", applogger.Error(err))
		}
	}
	if a.rootCancel != nil {
		a.rootCancel()
	}

	a.log.Info("shutdown complete")
	return nil
}
