package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

// dsmSource labels records built from the station's own daily summary, used
// before the climate report is published.
const dsmSource = "NWS Daily Summary Message"

// SettlementUseCase fetches official settlement temperatures and scores the
// model's stored forecasts against them.
type SettlementUseCase struct {
	source  domrepo.SettlementSource
	summary domrepo.StationSource // daily summary message, the early official number
	store   domrepo.AnalysisStore
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewSettlementUseCase(
	source domrepo.SettlementSource,
	summary domrepo.StationSource,
	store domrepo.AnalysisStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *SettlementUseCase {
	return &SettlementUseCase{
		source:  source,
		summary: summary,
		store:   store,
		metrics: metrics,
		log:     log,
	}
}

// VerifyResult pairs a settlement record with its verification for callers
// that want both in one payload.
type VerifyResult struct {
	Record       *models.SettlementRecord
	Verification *models.SettlementVerification // nil when no analysis was stored
}

// Verify fetches the official high for a past date and, when an analysis was
// stored for that day, scores the forecast and names the winning bracket.
// The verification is nil when no analysis exists to score.
func (uc *SettlementUseCase) Verify(ctx context.Context, city models.City, date string) (*models.SettlementRecord, *models.SettlementVerification, error) {
	if loc, err := time.LoadLocation(city.Timezone); err == nil {
		// ISO dates compare lexicographically. Today's high is not final.
		if date >= util.LocalDate(time.Now(), loc) {
			return nil, nil, fmt.Errorf("settlement for %s %s: day not settled yet", city.Code, date)
		}
	}

	rec, err := uc.source.Settlement(ctx, city, date)
	if err != nil {
		// The climate report lags by a day; the station's daily summary is
		// published within hours of midnight.
		rec = uc.fromDailySummary(ctx, city, date, err)
		if rec == nil {
			return nil, nil, fmt.Errorf("settlement for %s %s: %w", city.Code, date, err)
		}
	}

	v := uc.verifyAgainstStored(ctx, city, rec)
	if uc.store != nil {
		if err := uc.store.StoreSettlement(ctx, rec, v); err != nil {
			uc.metrics.RecordError("store_settlement")
			uc.log.Warn("store settlement failed", logger.Error(err))
		}
	}
	return rec, v, nil
}

// Backfill fetches up to days of settlement history ending yesterday,
// scoring and persisting each record.
func (uc *SettlementUseCase) Backfill(ctx context.Context, city models.City, days int) ([]models.SettlementRecord, error) {
	records, err := uc.source.SettlementRange(ctx, city, days)
	if err != nil {
		return nil, fmt.Errorf("settlement range for %s: %w", city.Code, err)
	}

	for i := range records {
		rec := &records[i]
		v := uc.verifyAgainstStored(ctx, city, rec)
		if uc.store == nil {
			continue
		}
		if err := uc.store.StoreSettlement(ctx, rec, v); err != nil {
			uc.metrics.RecordError("store_settlement")
			uc.log.Warn("store settlement failed",
				logger.String("date", rec.Date), logger.Error(err))
		}
	}
	return records, nil
}

// fromDailySummary turns the station's daily summary into a settlement
// record when the climate report is not out yet.
func (uc *SettlementUseCase) fromDailySummary(ctx context.Context, city models.City, date string, cause error) *models.SettlementRecord {
	if uc.summary == nil {
		return nil
	}
	obs, err := uc.summary.Observe(ctx, city, date)
	if err != nil || obs == nil {
		return nil
	}
	uc.log.Info("using daily summary for settlement",
		logger.String("city", city.Code),
		logger.String("date", date),
		logger.Error(cause))
	return &models.SettlementRecord{
		City:        city.Code,
		Date:        date,
		High:        obs.ObservedHigh,
		Source:      dsmSource,
		StationName: city.StationID,
		FetchedAt:   time.Now(),
	}
}

// verifyAgainstStored scores the stored analysis for the record's date, or
// returns nil when none exists.
func (uc *SettlementUseCase) verifyAgainstStored(ctx context.Context, city models.City, rec *models.SettlementRecord) *models.SettlementVerification {
	if uc.store == nil {
		return nil
	}
	analysis, err := uc.store.LatestAnalysis(ctx, city.Code, rec.Date)
	if err != nil {
		uc.metrics.RecordError("settlement_lookup")
		uc.log.Warn("analysis lookup failed",
			logger.String("date", rec.Date), logger.Error(err))
		return nil
	}
	if analysis == nil {
		return nil
	}

	v := &models.SettlementVerification{
		City:         city.Code,
		Date:         rec.Date,
		OfficialHigh: rec.High,
		ForecastMean: analysis.ForecastMean,
		ForecastStd:  analysis.ForecastStd,
		AbsError:     math.Abs(rec.High - analysis.ForecastMean),
		VerifiedAt:   time.Now(),
	}
	v.WithinOneSigma = analysis.ForecastStd > 0 && v.AbsError <= analysis.ForecastStd
	v.WinningTicker = winningTicker(analysis.Brackets, rec.High)
	return v
}

// winningTicker finds the bracket that settles YES at the official high.
func winningTicker(brackets []models.MarketBracket, high float64) string {
	for _, b := range brackets {
		if b.Range != nil && b.Range.Contains(high) {
			return b.Ticker
		}
	}
	return ""
}
