package di

import (
	"context"
	"fmt"
	"time"

	"WxEdge/internal/domain/models"
	"WxEdge/internal/domain/repository"
	domsvc "WxEdge/internal/domain/service"
	"WxEdge/internal/engine"
	"WxEdge/internal/handler/api"
	mid "WxEdge/internal/middleware"
	internalrepo "WxEdge/internal/repository"
	icache "WxEdge/internal/service/cache"
	"WxEdge/internal/service/iem"
	"WxEdge/internal/service/kalshi"
	"WxEdge/internal/service/nws"
	"WxEdge/internal/service/openmeteo"
	"WxEdge/internal/usecase"
	pkgcache "WxEdge/pkg/cache"
	pkgch "WxEdge/pkg/clickhouse"
	"WxEdge/pkg/config"
	xhttp "WxEdge/pkg/http"
	pkgkafka "WxEdge/pkg/kafka"
	applogger "WxEdge/pkg/logger"
	"WxEdge/pkg/metrics"
	pkgqueue "WxEdge/pkg/queue"
	"WxEdge/pkg/server"

	kafkago "github.com/segmentio/kafka-go"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCities builds the city registry from config, falling back to the
// built-in registry when none are configured.
func ProvideCities(cfg *config.Config) []models.City {
	if len(cfg.Cities) == 0 {
		return models.DefaultCities()
	}
	cities := make([]models.City, 0, len(cfg.Cities))
	for _, c := range cfg.Cities {
		cities = append(cities, models.City{
			Name:       c.Name,
			Code:       c.Code,
			StationID:  c.StationID,
			Latitude:   c.Latitude,
			Longitude:  c.Longitude,
			Timezone:   c.Timezone,
			HighTicker: c.HighTicker,
			LowTicker:  c.LowTicker,
			WFO:        c.WFO,
		})
	}
	return cities
}

// ProvideNWSClient creates the NWS API client shared by the forecast and
// station sources.
func ProvideNWSClient(cfg *config.Config, log *applogger.Logger) *nws.Client {
	return nws.NewClient(
		cfg.Weather.NWSAPIBase,
		cfg.Weather.NWSUserAgent,
		cfg.Weather.RequestTimeout,
		cfg.Engine.DefaultStdDev,
		log,
	)
}

// ProvideForecastSources assembles the forecast models the analyzer blends:
// the NWS point forecast plus three Open-Meteo models.
func ProvideForecastSources(cfg *config.Config, nwsc *nws.Client, log *applogger.Logger) []repository.ForecastSource {
	om := openmeteo.NewClient(
		cfg.Weather.OpenMeteoBase,
		cfg.Weather.RequestTimeout,
		cfg.Weather.ForecastDays,
		cfg.Engine.DefaultStdDev,
		log,
	)
	return []repository.ForecastSource{
		nwsc.Forecast(),
		om.BestMatch(),
		om.GFS(),
		om.Ensemble(),
	}
}

// ProvideStationSource exposes NWS station observations.
func ProvideStationSource(nwsc *nws.Client) repository.StationSource {
	return nwsc.Station()
}

// ProvideMarketSource creates the Kalshi REST client.
func ProvideMarketSource(cfg *config.Config, log *applogger.Logger) repository.MarketSource {
	return kalshi.NewClient(cfg.Kalshi.APIBase, cfg.Kalshi.RequestTimeout, log)
}

// ProvideMarketStream creates the Kalshi WebSocket stream.
func ProvideMarketStream(cfg *config.Config, log *applogger.Logger) repository.MarketStream {
	return kalshi.NewStream(
		cfg.Kalshi.WebSocketURL,
		cfg.Kalshi.ReconnectDelay,
		cfg.Kalshi.PingInterval,
		log,
	)
}

// ProvideSettlementSource creates the climate report source with the
// Open-Meteo archive as fallback.
func ProvideSettlementSource(cfg *config.Config, log *applogger.Logger) repository.SettlementSource {
	return iem.NewClient(
		cfg.Weather.IEMAFOSBase,
		cfg.Weather.OpenMeteoArchive,
		cfg.Weather.NWSUserAgent,
		cfg.Weather.RequestTimeout,
		log,
	)
}

// ProvideDailySummary creates the daily summary message source used to
// settle days the climate report has not covered yet.
func ProvideDailySummary(cfg *config.Config, log *applogger.Logger) *iem.DSM {
	return iem.NewDSM(
		cfg.Weather.DSMProductBase,
		cfg.Weather.NWSUserAgent,
		cfg.Weather.RequestTimeout,
		log,
	)
}

// ProvideClickHouseClient creates a ClickHouse client and runs the schema.
// Returns nil when another storage driver is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Storage.Driver != "clickhouse" {
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

	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideAnalysisStore creates the storage backend named by config.
func ProvideAnalysisStore(cfg *config.Config, chClient *pkgch.Client, log *applogger.Logger) (repository.AnalysisStore, error) {
	switch cfg.Storage.Driver {
	case "clickhouse":
		return internalrepo.NewClickHouseStore(chClient.DB(), cfg.ClickHouse.Database), nil
	case "sqlite":
		store, err := internalrepo.NewSQLiteStore(cfg.SQLite.Path, log.Zerolog())
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

// ProvideRedisCache creates the shared Redis connection. Returns nil when
// the memory cache backend is configured; config validation guarantees the
// queue is disabled in that case.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if cfg.Cache.Backend == "memory" {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Cache.Redis.Host),
		pkgcache.WithRedisPort(cfg.Cache.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCacheService picks the cache backend for shared state like stream
// prices.
func ProvideCacheService(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	switch cfg.Cache.Backend {
	case "redis":
		return rc
	case "layered":
		return pkgcache.NewLayeredCache(rc)
	default:
		return pkgcache.NewMemoryCache()
	}
}

// ProvidePriceCache keeps the freshest stream quote per ticker.
func ProvidePriceCache(cfg *config.Config, svc pkgcache.Service) repository.PriceCache {
	return internalrepo.NewCachePriceCache(svc, cfg.Cache.MarketTTL)
}

// ProvideResponseCache creates the HTTP response cache. Redis-backed
// deployments share cached responses across instances.
func ProvideResponseCache(cfg *config.Config, rc *pkgcache.RedisCache) icache.BytesCache {
	if cfg.Cache.Backend == "memory" {
		return icache.NewTTLCache()
	}
	return icache.NewRedisCacheFromClient(rc.Client())
}

// ProvideKafkaProducer creates a Kafka producer, nil when Kafka is disabled.
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

// ProvideSignalPublisher publishes detected signals to the bus. Nil when
// Kafka is disabled; the analyzer then skips publishing.
func ProvideSignalPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SignalPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.Topic)
}

// ProvideKafkaConsumer creates a Kafka consumer for the alerts pipeline,
// nil when Kafka or alerting is disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Alerts.Enabled {
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

// ProvideAlertsHandler consumes the signals topic and surfaces actionable
// alerts.
func ProvideAlertsHandler(cfg *config.Config, m repository.Metrics, log *applogger.Logger) *usecase.SignalAlertsHandler {
	return usecase.NewSignalAlertsHandler(
		cfg.Kafka.Topic,
		cfg.Alerts.MinConfidence,
		cfg.Alerts.Cooldown,
		m,
		log,
	)
}

// ProvideCombiner creates the forecast blender.
func ProvideCombiner(cfg *config.Config) *engine.Combiner {
	return engine.NewCombiner(
		engine.WithStdBounds(cfg.Engine.MinStdDev, cfg.Engine.MaxStdDev),
	)
}

// ProvideAdjuster creates the observation adjuster.
func ProvideAdjuster(cfg *config.Config) *engine.Adjuster {
	return engine.NewAdjuster(
		engine.WithAdjusterMinStdDev(cfg.Engine.MinStdDev),
	)
}

// ProvideCalculator creates the bracket pricer.
func ProvideCalculator() engine.Calculator {
	return engine.NewCalculator()
}

// ProvideDetector creates the edge detector with the configured thresholds.
func ProvideDetector(cfg *config.Config, c *engine.Combiner, a *engine.Adjuster) domsvc.EdgeDetector {
	return engine.NewDetector(
		engine.WithMinEdge(cfg.Engine.MinEdge),
		engine.WithFeeRate(cfg.Engine.FeeRate),
		engine.WithCombiner(c),
		engine.WithAdjuster(a),
	)
}

// ProvideAnalyzer creates the full analysis pipeline use case.
func ProvideAnalyzer(
	sources []repository.ForecastSource,
	station repository.StationSource,
	markets repository.MarketSource,
	prices repository.PriceCache,
	store repository.AnalysisStore,
	pub repository.SignalPublisher,
	detector domsvc.EdgeDetector,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Analyzer {
	return usecase.NewAnalyzer(sources, station, markets, prices, store, pub, detector, m, log)
}

// ProvideForecastUseCase creates the forecast-only view.
func ProvideForecastUseCase(
	sources []repository.ForecastSource,
	station repository.StationSource,
	combiner *engine.Combiner,
	adjuster *engine.Adjuster,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.ForecastUseCase {
	return usecase.NewForecastUseCase(sources, station, combiner, adjuster, m, log)
}

// ProvideBracketViewUseCase creates the market snapshot view.
func ProvideBracketViewUseCase(
	markets repository.MarketSource,
	prices repository.PriceCache,
	store repository.AnalysisStore,
	calc engine.Calculator,
	log *applogger.Logger,
) *usecase.BracketViewUseCase {
	return usecase.NewBracketViewUseCase(markets, prices, store, calc, log)
}

// ProvideHistoryUseCase serves stored signals and settlements.
func ProvideHistoryUseCase(store repository.AnalysisStore) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(store)
}

// ProvideSettlementUseCase verifies stored forecasts against official
// settlement temperatures.
func ProvideSettlementUseCase(
	source repository.SettlementSource,
	dsm *iem.DSM,
	store repository.AnalysisStore,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.SettlementUseCase {
	return usecase.NewSettlementUseCase(source, dsm, store, m, log)
}

// ProvideSettlementVerifyJob wraps settlement verification as a queue job.
func ProvideSettlementVerifyJob(uc *usecase.SettlementUseCase, cities []models.City, log *applogger.Logger) *usecase.SettlementVerifyJob {
	return usecase.NewSettlementVerifyJob(uc, cities, log)
}

// ProvideQueue creates the Redis-backed job queue with the settlement job
// registered, nil when the queue is disabled. The retry delay doubles as
// the poll interval for climate reports that have not been published yet.
func ProvideQueue(cfg *config.Config, log *applogger.Logger, rc *pkgcache.RedisCache, job *usecase.SettlementVerifyJob) *pkgqueue.RedisQueue {
	if !cfg.Queue.Enabled {
		return nil
	}
	return pkgqueue.NewRedisConsumer(
		log,
		&pkgqueue.QueueConfig{
			Workers:    cfg.Queue.Workers,
			QueueSize:  100,
			RetryLimit: cfg.Queue.RetryLimit,
			RetryDelay: cfg.Queue.RetryDelay,
		},
		rc.Client(),
		[]pkgqueue.Job{job},
	)
}

// ProvidePriceCollector creates the stream collector feeding the price
// cache through the buffering pipeline.
func ProvidePriceCollector(
	stream repository.MarketStream,
	markets repository.MarketSource,
	cities []models.City,
	prices repository.PriceCache,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.PriceCollector {
	proc := usecase.NewPriceProcessor(prices, m)
	pipe := mid.NewPricePipeline(proc, m,
		mid.WithMaxRPS(200),
		mid.WithBufferSize(2000),
	)
	return usecase.NewPriceCollector(stream, markets, cities, pipe, m, log)
}

// ProvideMarketHandler creates the HTTP API handler.
func ProvideMarketHandler(
	log *applogger.Logger,
	analyzer *usecase.Analyzer,
	forecasts *usecase.ForecastUseCase,
	brackets *usecase.BracketViewUseCase,
	history *usecase.HistoryUseCase,
	settlements *usecase.SettlementUseCase,
	markets repository.MarketSource,
	cities []models.City,
	respCache icache.BytesCache,
) xhttp.Handler {
	h := api.NewMarketHandler(log, analyzer, forecasts, brackets, history, settlements, markets, cities)
	h.SetCache(respCache)
	return h
}

// consumerMetricsHook counts handler failures on the alerts consumer.
type consumerMetricsHook struct {
	pkgkafka.NoopHook
	metrics repository.Metrics
}

func (h consumerMetricsHook) OnError(ctx context.Context, topic string, km kafkago.Message, data []byte, err error) {
	h.metrics.RecordError("consumer_handler")
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.PriceCollector,
	consumer *pkgkafka.Consumer,
	alerts *usecase.SignalAlertsHandler,
	queue *pkgqueue.RedisQueue,
	producer *pkgkafka.Producer,
	pub repository.SignalPublisher,
	store repository.AnalysisStore,
	chClient *pkgch.Client,
	cities []models.City,
	handler xhttp.Handler,
	m repository.Metrics,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(consumerMetricsHook{metrics: m})
	}
	app := server.New(cfg, log, collector, consumer, alerts, queue, producer, pub, store, chClient, cities)
	app.SetHTTPHandler(handler)
	return app
}
