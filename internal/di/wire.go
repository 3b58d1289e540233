//go:build wireinject
// +build wireinject

package di

import (
	"WxEdge/pkg/config"
	"WxEdge/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// City registry
		ProvideCities,

		// Upstream sources
		ProvideNWSClient,
		ProvideForecastSources,
		ProvideStationSource,
		ProvideMarketSource,
		ProvideMarketStream,
		ProvideSettlementSource,
		ProvideDailySummary,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideAnalysisStore,
		ProvideRedisCache,
		ProvideCacheService,
		ProvidePriceCache,
		ProvideResponseCache,
		ProvideKafkaProducer,
		ProvideSignalPublisher,
		ProvideKafkaConsumer,

		// Pricing engine
		ProvideCombiner,
		ProvideAdjuster,
		ProvideCalculator,
		ProvideDetector,

		// Use cases
		ProvideAnalyzer,
		ProvideForecastUseCase,
		ProvideBracketViewUseCase,
		ProvideHistoryUseCase,
		ProvideSettlementUseCase,
		ProvideSettlementVerifyJob,
		ProvideQueue,
		ProvideAlertsHandler,
		ProvidePriceCollector,

		// HTTP API
		ProvideMarketHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
