package usecase

import (
	"context"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	mid "WxEdge/internal/middleware"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

// PriceCollector keeps the price cache fed from the market stream so
// analyses price against live books instead of stale REST snapshots.
type PriceCollector struct {
	stream  domrepo.MarketStream
	markets domrepo.MarketSource
	cities  []models.City
	pipe    *mid.PricePipeline
	metrics domrepo.Metrics
	log     *logger.Logger
}

// NewPriceCollector creates a collector subscribing to every city's open
// brackets for today.
func NewPriceCollector(
	stream domrepo.MarketStream,
	markets domrepo.MarketSource,
	cities []models.City,
	pipe *mid.PricePipeline,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *PriceCollector {
	return &PriceCollector{
		stream:  stream,
		markets: markets,
		cities:  cities,
		pipe:    pipe,
		metrics: metrics,
		log:     log,
	}
}

// IsConnected reports whether the market stream is up.
func (c *PriceCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *PriceCollector) Start(ctx context.Context) error {
	tickers := c.todayTickers(ctx)
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if len(tickers) > 0 {
		if err := c.stream.Subscribe(ctx, tickers); err != nil {
			return err
		}
	} else {
		c.log.Warn("no open brackets found, stream connected without subscriptions")
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	upCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, upCh, errCh)
	return nil
}

// todayTickers collects every bracket ticker trading today across the
// configured cities. Cities whose fetch fails are skipped.
func (c *PriceCollector) todayTickers(ctx context.Context) []string {
	var tickers []string
	for _, city := range c.cities {
		loc, err := time.LoadLocation(city.Timezone)
		if err != nil {
			c.log.Warn("bad city timezone", logger.String("city", city.Code), logger.Error(err))
			continue
		}
		brackets, err := c.markets.Brackets(ctx, city, util.LocalDate(time.Now(), loc))
		if err != nil {
			c.metrics.RecordError("bracket_fetch")
			c.log.Warn("bracket discovery failed", logger.String("city", city.Code), logger.Error(err))
			continue
		}
		for _, b := range brackets {
			tickers = append(tickers, b.Ticker)
		}
	}
	return tickers
}

func (c *PriceCollector) consume(ctx context.Context, upCh <-chan *models.PriceUpdate, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("stream error, reconnecting", logger.Error(err))
				_ = c.stream.Reconnect(ctx)
			}
		case u := <-upCh:
			if u == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, u)
			}
		}
	}
}

func (c *PriceCollector) Stop() error { return c.stream.Close() }

// Shutdown stops the pipeline and closes the stream.
func (c *PriceCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
