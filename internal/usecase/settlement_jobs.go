package usecase

import (
	"context"
	"fmt"
	"time"

	"WxEdge/internal/domain/models"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/queue"
	"WxEdge/pkg/util"
)

// TypeSettlementVerify is the queue message type for settlement scoring.
const TypeSettlementVerify = "settlement.verify"

// SettlementVerifyPayload asks for one city's settlement to be verified.
// An empty date means yesterday in the city's time zone; Days > 1 backfills
// a window instead.
type SettlementVerifyPayload struct {
	City string `json:"city"`
	Date string `json:"date,omitempty"`
	Days int    `json:"days,omitempty"`
}

// SettlementVerifyJob scores stored analyses against official highs off the
// queue. The climate report lags the day's end by hours, so failed attempts
// ride the queue's retry delay until the report publishes.
type SettlementVerifyJob struct {
	uc     *SettlementUseCase
	cities []models.City
	log    *logger.Logger
}

func NewSettlementVerifyJob(uc *SettlementUseCase, cities []models.City, log *logger.Logger) *SettlementVerifyJob {
	return &SettlementVerifyJob{uc: uc, cities: cities, log: log}
}

func (j *SettlementVerifyJob) Name() string { return "SettlementVerifyJob" }

func (j *SettlementVerifyJob) Type() string { return TypeSettlementVerify }

func (j *SettlementVerifyJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[SettlementVerifyPayload](payload)
	if err != nil {
		return fmt.Errorf("settlement verify payload: %w", err)
	}
	city, err := models.CityByCode(j.cities, p.City)
	if err != nil {
		return err
	}

	if p.Days > 1 {
		records, err := j.uc.Backfill(ctx, city, p.Days)
		if err != nil {
			return err
		}
		j.log.Info("settlement backfill complete",
			logger.String("city", city.Code),
			logger.Int("records", len(records)))
		return nil
	}

	date := p.Date
	if date == "" {
		loc, err := time.LoadLocation(city.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %s: %w", city.Timezone, err)
		}
		date = util.LocalDate(time.Now().AddDate(0, 0, -1), loc)
	}

	rec, v, err := j.uc.Verify(ctx, city, date)
	if err != nil {
		return err
	}
	fields := []logger.Field{
		logger.String("city", city.Code),
		logger.String("date", date),
		logger.Float64("high", rec.High),
		logger.String("source", rec.Source),
	}
	if v != nil {
		fields = append(fields,
			logger.Float64("abs_error", v.AbsError),
			logger.String("winning_ticker", v.WinningTicker))
	}
	j.log.Info("settlement verified", fields...)
	return nil
}

var _ queue.Job = (*SettlementVerifyJob)(nil)
