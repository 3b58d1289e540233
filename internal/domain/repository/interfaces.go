package repository

import (
	"context"

	"WxEdge/internal/domain/models"
)

// ForecastSource fetches model forecasts of a city's daily high. One source
// may emit several forecasts (e.g. multiple model endpoints).
type ForecastSource interface {
	Name() string
	Fetch(ctx context.Context, city models.City, date string) ([]models.TemperatureForecast, error)
}

// StationSource fetches same-day station observations. A day with no
// readings returns (nil, nil).
type StationSource interface {
	Observe(ctx context.Context, city models.City, date string) (*models.DailyObservation, error)
}

// MarketSource fetches the tradeable temperature brackets for a city.
type MarketSource interface {
	Brackets(ctx context.Context, city models.City, date string) ([]models.MarketBracket, error)
	Status(ctx context.Context) (*models.MarketStatus, error)
	OpenDates(ctx context.Context, city models.City) ([]string, error)
}

// MarketStream delivers live bracket quote updates.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, tickers []string) error
	Read(ctx context.Context) (<-chan *models.PriceUpdate, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SettlementSource fetches the official settlement temperatures for past
// dates.
type SettlementSource interface {
	Settlement(ctx context.Context, city models.City, date string) (*models.SettlementRecord, error)
	SettlementRange(ctx context.Context, city models.City, days int) ([]models.SettlementRecord, error)
}

// AnalysisStore persists analyses, signals, and settlement outcomes.
type AnalysisStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreAnalysis(ctx context.Context, a *models.MarketAnalysis) error
	StoreSettlement(ctx context.Context, rec *models.SettlementRecord, v *models.SettlementVerification) error
	QuerySignals(ctx context.Context, city, date string, limit int) ([]models.TradingSignal, error)
	QuerySettlements(ctx context.Context, city string, limit int) ([]models.SettlementRecord, error)
	LatestAnalysis(ctx context.Context, city, date string) (*models.MarketAnalysis, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// SignalPublisher pushes detected signals onto the bus.
type SignalPublisher interface {
	Publish(ctx context.Context, s *models.TradingSignal) error
	PublishBatch(ctx context.Context, signals []*models.TradingSignal) error
	Close() error
}

// Metrics records domain-level observability signals.
type Metrics interface {
	RecordForecastFetch(source, city string)
	RecordError(kind string)
	RecordForecast(city string, mean, std float64)
	RecordObservedHigh(city string, highF float64)
	RecordSignal(city, side string, edge float64)
	RecordMessageSent(backend, city string)
	RecordLatency(op string, seconds float64)
}
