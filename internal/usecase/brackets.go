package usecase

import (
	"context"
	"fmt"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	domsvc "WxEdge/internal/domain/service"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

// BracketViewUseCase serves the market snapshot: today's brackets with the
// freshest quotes, priced against the latest stored analysis when one
// exists. It never runs a new analysis itself.
type BracketViewUseCase struct {
	markets domrepo.MarketSource
	prices  domrepo.PriceCache
	store   domrepo.AnalysisStore
	pricer  domsvc.BracketPricer
	log     *logger.Logger
}

func NewBracketViewUseCase(
	markets domrepo.MarketSource,
	prices domrepo.PriceCache,
	store domrepo.AnalysisStore,
	pricer domsvc.BracketPricer,
	log *logger.Logger,
) *BracketViewUseCase {
	return &BracketViewUseCase{
		markets: markets,
		prices:  prices,
		store:   store,
		pricer:  pricer,
		log:     log,
	}
}

// BracketsResult pairs the live book with model probabilities. Probabilities
// is nil when no analysis has been stored for the date yet.
type BracketsResult struct {
	City          string
	Date          string
	Brackets      []models.MarketBracket
	Probabilities []models.BracketProbability
	ForecastMean  float64
	ForecastStd   float64
	AnalyzedAt    *time.Time // when the pricing analysis ran
}

func (uc *BracketViewUseCase) Get(ctx context.Context, city models.City, date string) (*BracketsResult, error) {
	if city.Code == "" {
		return nil, fmt.Errorf("city required")
	}
	if date == "" {
		loc, err := time.LoadLocation(city.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", city.Timezone, err)
		}
		date = util.LocalDate(time.Now(), loc)
	} else if _, err := util.ParseDate(date); err != nil {
		return nil, fmt.Errorf("parse date %s: %w", date, err)
	}

	brackets, err := uc.markets.Brackets(ctx, city, date)
	if err != nil {
		return nil, fmt.Errorf("fetch brackets for %s %s: %w", city.Code, date, err)
	}
	overlayLivePrices(ctx, uc.prices, brackets)

	res := &BracketsResult{City: city.Code, Date: date, Brackets: brackets}
	if uc.store == nil || len(brackets) == 0 {
		return res, nil
	}

	analysis, err := uc.store.LatestAnalysis(ctx, city.Code, date)
	if err != nil {
		uc.log.Warn("analysis lookup failed",
			logger.String("city", city.Code),
			logger.String("date", date),
			logger.Error(err))
		return res, nil
	}
	if analysis == nil || analysis.ForecastStd <= 0 {
		return res, nil
	}

	res.Probabilities = uc.pricer.Probabilities(brackets, analysis.ForecastMean, analysis.ForecastStd)
	res.ForecastMean = analysis.ForecastMean
	res.ForecastStd = analysis.ForecastStd
	at := analysis.AnalyzedAt
	res.AnalyzedAt = &at
	return res, nil
}
