package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	pkgcache "WxEdge/pkg/cache"
)

const priceKeyPrefix = "price"

// CachePriceCache keeps the freshest stream quote per ticker in the shared
// cache service. Updates are stored as JSON strings so the memory and redis
// backends behave identically.
type CachePriceCache struct {
	cache pkgcache.Service
	ttl   time.Duration
}

// NewCachePriceCache creates a price cache with the given entry TTL. A zero
// ttl keeps quotes until evicted.
func NewCachePriceCache(cache pkgcache.Service, ttl time.Duration) *CachePriceCache {
	return &CachePriceCache{cache: cache, ttl: ttl}
}

func (c *CachePriceCache) SetPrice(ctx context.Context, u *models.PriceUpdate) error {
	if u == nil || u.Ticker == "" {
		return errors.New("price update missing ticker")
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, pkgcache.GenerateKey(priceKeyPrefix, u.Ticker), string(b), c.ttl)
}

func (c *CachePriceCache) GetPrice(ctx context.Context, ticker string) (*models.PriceUpdate, bool) {
	var s string
	if err := c.cache.Get(ctx, pkgcache.GenerateKey(priceKeyPrefix, ticker), &s); err != nil {
		return nil, false
	}
	var u models.PriceUpdate
	if err := json.Unmarshal([]byte(s), &u); err != nil {
		return nil, false
	}
	return &u, true
}

// GetPrices fetches quotes for many tickers at once. Tickers with no cached
// quote are simply absent from the result.
func (c *CachePriceCache) GetPrices(ctx context.Context, tickers []string) map[string]*models.PriceUpdate {
	out := make(map[string]*models.PriceUpdate, len(tickers))
	if len(tickers) == 0 {
		return out
	}
	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = pkgcache.GenerateKey(priceKeyPrefix, t)
	}
	found, err := c.cache.MGet(ctx, keys...)
	if err != nil {
		return out
	}
	for i, t := range tickers {
		s, ok := found[keys[i]]
		if !ok {
			continue
		}
		var u models.PriceUpdate
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			continue
		}
		out[t] = &u
	}
	return out
}

var _ domrepo.PriceCache = (*CachePriceCache)(nil)
