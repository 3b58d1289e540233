package usecase

import (
	"context"
	"fmt"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
)

// HistoryUseCase provides business logic for reading back stored analyses,
// signals, and settlements.
type HistoryUseCase struct {
	store domrepo.AnalysisStore
}

func NewHistoryUseCase(store domrepo.AnalysisStore) *HistoryUseCase {
	return &HistoryUseCase{store: store}
}

type GetSignalsParams struct {
	City  string
	Date  string // optional; empty returns signals across dates
	Limit int
}

type GetSignalsResult struct {
	City    string
	Date    string
	Count   int
	Signals []models.TradingSignal
}

func (uc *HistoryUseCase) GetSignals(ctx context.Context, p GetSignalsParams) (*GetSignalsResult, error) {
	if p.City == "" {
		return nil, fmt.Errorf("city required")
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}

	signals, err := uc.store.QuerySignals(ctx, p.City, p.Date, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}

	return &GetSignalsResult{
		City:    p.City,
		Date:    p.Date,
		Count:   len(signals),
		Signals: signals,
	}, nil
}

type GetSettlementsParams struct {
	City  string
	Limit int
}

type GetSettlementsResult struct {
	City        string
	Count       int
	Settlements []models.SettlementRecord
}

func (uc *HistoryUseCase) GetSettlements(ctx context.Context, p GetSettlementsParams) (*GetSettlementsResult, error) {
	if p.City == "" {
		return nil, fmt.Errorf("city required")
	}
	if p.Limit <= 0 {
		p.Limit = 30
	}
	if p.Limit > 365 {
		p.Limit = 365
	}

	settlements, err := uc.store.QuerySettlements(ctx, p.City, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}

	return &GetSettlementsResult{
		City:        p.City,
		Count:       len(settlements),
		Settlements: settlements,
	}, nil
}

// LatestAnalysis returns the most recent stored analysis for a city and
// date, or nil when none has been stored yet.
func (uc *HistoryUseCase) LatestAnalysis(ctx context.Context, city, date string) (*models.MarketAnalysis, error) {
	if city == "" {
		return nil, fmt.Errorf("city required")
	}
	if date == "" {
		return nil, fmt.Errorf("date required")
	}
	a, err := uc.store.LatestAnalysis(ctx, city, date)
	if err != nil {
		return nil, fmt.Errorf("latest analysis: %w", err)
	}
	return a, nil
}
