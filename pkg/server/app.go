package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	"WxEdge/internal/usecase"
	pkgch "WxEdge/pkg/clickhouse"
	"WxEdge/pkg/config"
	xhttp "WxEdge/pkg/http"
	pkgkafka "WxEdge/pkg/kafka"
	applogger "WxEdge/pkg/logger"
	pkgqueue "WxEdge/pkg/queue"

	"github.com/labstack/echo/v4"
)

// App encapsulates the entire application lifecycle. consumer, alerts,
// queue, producer, pub, and chClient may be nil depending on config.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	collector *usecase.PriceCollector
	consumer  *pkgkafka.Consumer
	alerts    pkgkafka.MessageHandler
	queue     *pkgqueue.RedisQueue
	producer  *pkgkafka.Producer
	pub       domrepo.SignalPublisher
	store     domrepo.AnalysisStore
	chClient  *pkgch.Client
	cities    []models.City

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.PriceCollector,
	consumer *pkgkafka.Consumer,
	alerts pkgkafka.MessageHandler,
	queue *pkgqueue.RedisQueue,
	producer *pkgkafka.Producer,
	pub domrepo.SignalPublisher,
	store domrepo.AnalysisStore,
	chClient *pkgch.Client,
	cities []models.City,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		collector: collector,
		consumer:  consumer,
		alerts:    alerts,
		queue:     queue,
		producer:  producer,
		pub:       pub,
		store:     store,
		chClient:  chClient,
		cities:    cities,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ship aggregated error logs to the bus when one is configured
	if a.producer != nil && a.cfg.Kafka.LogsTopic != "" {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.LogsTopic,
			Publisher:      kafkaLogSink{producer: a.producer},
		})
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	a.httpServer.Echo().GET("/health", a.health)

	// Start the stream collector feeding the price cache
	go func() {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("price collector error", applogger.Error(err))
		}
	}()
	codes := make([]string, len(a.cities))
	for i, city := range a.cities {
		codes[i] = city.Code
	}
	a.log.Info("price collector started", applogger.Strings("cities", codes))

	// Start alerts consumer if configured
	if a.consumer != nil && a.alerts != nil {
		a.consumer.RegisterHandler(a.alerts)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.alerts.Topic()))
	}

	// Start the job queue and seed yesterday's settlement checks
	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			a.log.Error("queue start error", applogger.Error(err))
			return err
		}
		if a.cfg.Queue.VerifyOnBoot {
			a.enqueueSettlementChecks(ctx)
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// enqueueSettlementChecks schedules a verification of yesterday's high for
// every city. Days the climate report has not covered yet fail and ride the
// queue's retry delay until the report publishes.
func (a *App) enqueueSettlementChecks(ctx context.Context) {
	for _, city := range a.cities {
		payload := usecase.SettlementVerifyPayload{City: city.Code}
		if err := a.queue.Enqueue(ctx, usecase.TypeSettlementVerify, payload); err != nil {
			a.log.Warn("settlement check enqueue failed",
				applogger.String("city", city.Code),
				applogger.Error(err))
		}
	}
	a.log.Info("settlement checks enqueued", applogger.Int("cities", len(a.cities)))
}

// health reports process liveness plus the state of the stream and storage.
func (a *App) health(c echo.Context) error {
	status := "ok"
	report := map[string]interface{}{
		"stream_connected": a.collector.IsConnected(),
	}
	if a.store != nil {
		if err := a.store.Health(c.Request().Context()); err != nil {
			status = "degraded"
			report["storage"] = err.Error()
		} else {
			report["storage"] = "ok"
		}
	}
	report["status"] = status

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	// Stop collector (pipeline + stream)
	if err := a.collector.Shutdown(ctx); err != nil {
		a.log.Warn("collector stop error", applogger.Error(err))
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// Stop the job queue
	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}

	// Stop consumer
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Flush aggregated logs before the producer goes away
	a.log.RemoveCollector()

	// Close the signal publisher and its producer
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	} else if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	// Close storage
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}

// kafkaLogSink adapts the Kafka producer to the log collector's publisher.
type kafkaLogSink struct {
	producer *pkgkafka.Producer
}

func (s kafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.producer.Publish(ctx, topic, nil, payload)
}
