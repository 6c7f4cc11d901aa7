package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPulse/internal/dispatch"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/eventbus"
	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/marketdata"
	mid "MarketPulse/internal/middleware"
	"MarketPulse/internal/monitoring"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/screener"
	"MarketPulse/internal/service/binance"
	"MarketPulse/internal/service/reasoner"
	"MarketPulse/internal/usecase"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/ratelimit"
	"MarketPulse/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideStore creates the in-memory market data store.
func ProvideStore(cfg *config.Config, log *applogger.Logger) *marketdata.Store {
	intervals := make([]domrepo.Interval, 0, len(cfg.Binance.Intervals))
	for _, iv := range cfg.Binance.Intervals {
		intervals = append(intervals, domrepo.NormalizeInterval(iv))
	}
	return marketdata.NewStore(marketdata.Config{
		MaxSymbols:     cfg.Market.MaxSymbols,
		CandleCapacity: cfg.Market.CandleCapacity,
		Intervals:      intervals,
	}, log)
}

// ProvideBus creates the in-process event bus.
func ProvideBus(cfg *config.Config, m domrepo.Metrics, log *applogger.Logger) *eventbus.Bus {
	return eventbus.New(cfg.Screener.EventBuffer, m, log)
}

// ProvideBinanceStream creates the Binance WebSocket stream.
func ProvideBinanceStream(cfg *config.Config, log *applogger.Logger) domrepo.MarketStream {
	return binance.New(
		cfg.Binance.WebSocketURL,
		cfg.Binance.Symbols,
		cfg.Binance.Intervals,
		cfg.Binance.ReconnectDelay,
		cfg.Binance.PingInterval,
		log,
	)
}

// ProvideIngestPipeline builds the validation/throttle layer between stream
// and store.
func ProvideIngestPipeline(store *marketdata.Store, bus *eventbus.Bus, m domrepo.Metrics) *mid.IngestPipeline {
	return mid.NewIngestPipeline(store, bus, m)
}

// ProvideMarketCollector creates the stream consumer.
func ProvideMarketCollector(stream domrepo.MarketStream, pipe *mid.IngestPipeline, m domrepo.Metrics, log *applogger.Logger) *usecase.MarketCollector {
	return usecase.NewMarketCollector(stream, pipe, m, log)
}

// ProvideRuleSource creates the cached HTTP rule client.
func ProvideRuleSource(cfg *config.Config, log *applogger.Logger) domrepo.RuleSource {
	return internalrepo.NewHTTPRuleSource(cfg.Rules.BaseURL, cfg.Rules.CacheTTL, cfg.Rules.Timeout, log)
}

// ProvideAnalyzer creates the reasoning service client.
func ProvideAnalyzer(cfg *config.Config, log *applogger.Logger) domrepo.Analyzer {
	return reasoner.New(reasoner.Config{
		BaseURL: cfg.Reasoner.BaseURL,
		APIKey:  cfg.Reasoner.APIKey,
		Model:   cfg.Reasoner.Model,
		Timeout: cfg.Reasoner.Timeout,
	}, log)
}

// ProvideRateLimiter creates the token bucket gating analysis submissions.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.MaxTokens, cfg.RateLimit.TokensPerSecond)
}

// ProvideDispatcher creates the analysis dispatcher.
func ProvideDispatcher(cfg *config.Config, analyzer domrepo.Analyzer, limiter *ratelimit.Limiter, m domrepo.Metrics, log *applogger.Logger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		MaxConcurrent:     cfg.Dispatcher.MaxConcurrent,
		MaxRetries:        cfg.Dispatcher.MaxRetries,
		BaseDelay:         cfg.Dispatcher.BaseDelay,
		TaskTimeout:       cfg.Dispatcher.TaskTimeout,
		RateLimitCooldown: cfg.Dispatcher.RateLimitCooldown,
		ShutdownGrace:     cfg.Dispatcher.ShutdownGrace,
	}, analyzer, limiter, m, log)
}

// ProvideRedis creates the Redis client when enabled.
func ProvideRedis(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideWatchStore creates the durable watch store; nil means monitoring
// runs without recovery persistence.
func ProvideWatchStore(rdb *redis.Client, cfg *config.Config, log *applogger.Logger) domrepo.WatchStore {
	if rdb == nil {
		return nil
	}
	return internalrepo.NewRedisWatchStore(rdb, cfg.Redis.KeyPrefix, log)
}

// ProvideClickHouseClient creates the ClickHouse client and applies the audit
// schema when enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.AuditSchema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideAudit creates the analysis audit sink; nil disables auditing.
func ProvideAudit(client *pkgch.Client) domrepo.AnalysisAudit {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseAudit(client.DB(), "analysis_audit")
}

// ProvideKafkaProducer creates a Kafka producer when enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSignalPublisher creates the Kafka signal publisher; nil keeps
// signals in-process only.
func ProvideSignalPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.SignalPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalsTopic)
}

// ProvideKafkaConsumer creates the candle-replay consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.CandlesTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideCandlesHandler creates the Kafka candle ingest handler.
func ProvideCandlesHandler(cfg *config.Config, pipe *mid.IngestPipeline, m domrepo.Metrics) pkgkafka.MessageHandler {
	if !cfg.Kafka.Enabled || cfg.Kafka.CandlesTopic == "" {
		return nil
	}
	return usecase.NewKafkaCandlesHandler(cfg.Kafka.CandlesTopic, pipe, m)
}

// ProvideRegistry creates the in-memory watch registry.
func ProvideRegistry() *monitoring.Registry {
	return monitoring.NewRegistry()
}

// ProvideScreener creates the parallel rule screener.
func ProvideScreener(cfg *config.Config, m domrepo.Metrics, log *applogger.Logger) *screener.Screener {
	return screener.New(screener.Config{
		MinWorkers:  cfg.Screener.MinWorkers,
		MaxWorkers:  cfg.Screener.MaxWorkers,
		TaskTimeout: cfg.Screener.TaskTimeout,
		IdleTimeout: cfg.Screener.IdleTimeout,
		CandleDepth: cfg.Screener.CandleDepth,
	}, m, log)
}

// ProvideEngine creates the monitoring engine.
func ProvideEngine(
	cfg *config.Config,
	registry *monitoring.Registry,
	store *marketdata.Store,
	rules domrepo.RuleSource,
	dispatcher *dispatch.Dispatcher,
	watchStore domrepo.WatchStore,
	audit domrepo.AnalysisAudit,
	m domrepo.Metrics,
	log *applogger.Logger,
) *monitoring.Engine {
	return monitoring.NewEngine(monitoring.Config{
		MaxReanalyses:      cfg.Monitoring.MaxReanalyses,
		ReanalysisInterval: cfg.Monitoring.ReanalysisInterval,
		CleanupInterval:    cfg.Monitoring.CleanupInterval,
		Retention:          cfg.Monitoring.Retention,
		CandleDepth:        cfg.Monitoring.CandleDepth,
	}, registry, store, rules, dispatcher, watchStore, audit, m, log)
}

// ProvideScreeningLoop creates the periodic scan loop.
func ProvideScreeningLoop(
	cfg *config.Config,
	store *marketdata.Store,
	scr *screener.Screener,
	rules domrepo.RuleSource,
	bus *eventbus.Bus,
	engine *monitoring.Engine,
	publisher domrepo.SignalPublisher,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.ScreeningLoop {
	return usecase.NewScreeningLoop(usecase.ScreeningConfig{
		ScanInterval: cfg.Screener.ScanInterval,
	}, store, scr, rules, bus, engine, publisher, m, log)
}

// ProvideHTTPHandler assembles the read-side API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	store *marketdata.Store,
	registry *monitoring.Registry,
	collector *usecase.MarketCollector,
	bus *eventbus.Bus,
	scr *screener.Screener,
	screening *usecase.ScreeningLoop,
	engine *monitoring.Engine,
	dispatcher *dispatch.Dispatcher,
) xhttp.Handler {
	query := usecase.NewMarketQuery(store, registry)
	stats := usecase.NewSystemStats(collector, store, bus, scr, screening, engine, dispatcher)
	return api.NewMarketEchoHandler(log, query, stats)
}

// ProvideComponents bundles everything the app lifecycle owns.
func ProvideComponents(
	store *marketdata.Store,
	bus *eventbus.Bus,
	collector *usecase.MarketCollector,
	screening *usecase.ScreeningLoop,
	scr *screener.Screener,
	engine *monitoring.Engine,
	dispatcher *dispatch.Dispatcher,
	handler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	candlesHandler pkgkafka.MessageHandler,
	publisher domrepo.SignalPublisher,
	audit domrepo.AnalysisAudit,
	chClient *pkgch.Client,
	rdb *redis.Client,
) *server.Components {
	return &server.Components{
		Store:          store,
		Bus:            bus,
		Collector:      collector,
		Screening:      screening,
		Screener:       scr,
		Engine:         engine,
		Dispatcher:     dispatcher,
		HTTPHandler:    handler,
		Consumer:       consumer,
		CandlesHandler: candlesHandler,
		Publisher:      publisher,
		Audit:          audit,
		CHClient:       chClient,
		Redis:          rdb,
	}
}

// ProvideApp creates the application server.
func ProvideApp(cfg *config.Config, log *applogger.Logger, c *server.Components) *server.App {
	return server.New(cfg, log, c)
}
