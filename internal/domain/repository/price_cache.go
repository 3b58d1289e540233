package repository

import (
	"context"

	"WxEdge/internal/domain/models"
)

// PriceCache holds the freshest stream quotes per ticker so analyses price
// against live books instead of the last REST snapshot.
type PriceCache interface {
	SetPrice(ctx context.Context, u *models.PriceUpdate) error
	GetPrice(ctx context.Context, ticker string) (*models.PriceUpdate, bool)
	GetPrices(ctx context.Context, tickers []string) map[string]*models.PriceUpdate
}
