package usecase

import (
	"context"
	"fmt"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
)

// PriceProcessor is the pipeline's downstream: it lands validated stream
// updates in the price cache.
type PriceProcessor struct {
	cache   domrepo.PriceCache
	metrics domrepo.Metrics
}

// NewPriceProcessor creates a new PriceProcessor instance.
func NewPriceProcessor(cache domrepo.PriceCache, metrics domrepo.Metrics) *PriceProcessor {
	return &PriceProcessor{cache: cache, metrics: metrics}
}

// Process stores a single update.
func (p *PriceProcessor) Process(ctx context.Context, u *models.PriceUpdate) error {
	if u == nil {
		return fmt.Errorf("update is nil")
	}

	start := time.Now()
	if err := p.cache.SetPrice(ctx, u); err != nil {
		p.metrics.RecordError("price_store")
		return fmt.Errorf("store price: %w", err)
	}

	p.metrics.RecordMessageSent("price_cache", u.Ticker)
	p.metrics.RecordLatency("price_store", time.Since(start).Seconds())
	return nil
}
