//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedis,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideWatchStore,
		ProvideAudit,
		ProvideSignalPublisher,
		ProvideRuleSource,
		ProvideAnalyzer,
		ProvideBinanceStream,

		// Core components
		ProvideStore,
		ProvideBus,
		ProvideIngestPipeline,
		ProvideRateLimiter,
		ProvideDispatcher,
		ProvideRegistry,
		ProvideScreener,
		ProvideEngine,

		// Use cases
		ProvideMarketCollector,
		ProvideScreeningLoop,
		ProvideCandlesHandler,
		ProvideHTTPHandler,

		// Application server
		ProvideComponents,
		ProvideApp,
	)
	return &server.App{}, nil
}
