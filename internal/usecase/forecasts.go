package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	domsvc "WxEdge/internal/domain/service"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

// ForecastUseCase serves the forecast view: every model's take on the target
// day plus the blended distribution, without touching the market side.
type ForecastUseCase struct {
	sources  []domrepo.ForecastSource
	station  domrepo.StationSource
	combiner domsvc.ForecastCombiner
	adjuster domsvc.ObservationAdjuster
	metrics  domrepo.Metrics
	log      *logger.Logger
	timeout  time.Duration
}

func NewForecastUseCase(
	sources []domrepo.ForecastSource,
	station domrepo.StationSource,
	combiner domsvc.ForecastCombiner,
	adjuster domsvc.ObservationAdjuster,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *ForecastUseCase {
	return &ForecastUseCase{
		sources:  sources,
		station:  station,
		combiner: combiner,
		adjuster: adjuster,
		metrics:  metrics,
		log:      log,
		timeout:  20 * time.Second,
	}
}

type ForecastsParams struct {
	City models.City
	Date string // YYYY-MM-DD; empty means today in the city's time zone
}

// ForecastsResult is the forecast-only view. Combined and Adjusted are nil
// when no source produced a usable forecast.
type ForecastsResult struct {
	City      string
	Date      string
	Forecasts []models.TemperatureForecast
	Combined  *models.CombinedForecast
	Adjusted  *models.AdjustedForecast
	Errors    map[string]string
}

func (uc *ForecastUseCase) Get(ctx context.Context, p ForecastsParams) (*ForecastsResult, error) {
	if p.City.Code == "" {
		return nil, fmt.Errorf("city required")
	}
	loc, err := time.LoadLocation(p.City.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", p.City.Timezone, err)
	}
	date := p.Date
	if date == "" {
		date = util.LocalDate(time.Now(), loc)
	} else if _, err := util.ParseDate(date); err != nil {
		return nil, fmt.Errorf("parse date %s: %w", date, err)
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	res := &ForecastsResult{City: p.City.Code, Date: date, Errors: map[string]string{}}

	type item struct {
		idx  int // forecast source index, -1 for observation
		name string
		val  interface{}
		err  error
	}
	ch := make(chan item, len(uc.sources)+1)
	var wg sync.WaitGroup

	for i, src := range uc.sources {
		wg.Add(1)
		go func(i int, src domrepo.ForecastSource) {
			defer wg.Done()
			fs, err := src.Fetch(ctx, p.City, date)
			if err != nil {
				uc.metrics.RecordError("forecast_fetch")
			} else {
				uc.metrics.RecordForecastFetch(src.Name(), p.City.Code)
			}
			ch <- item{idx: i, name: "forecast:" + src.Name(), val: fs, err: err}
		}(i, src)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		obs, err := uc.station.Observe(ctx, p.City, date)
		if err != nil {
			uc.metrics.RecordError("observation_fetch")
		}
		ch <- item{idx: -1, name: "observation", val: obs, err: err}
	}()

	go func() { wg.Wait(); close(ch) }()

	bySource := make([][]models.TemperatureForecast, len(uc.sources))
	var obs *models.DailyObservation
	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			uc.log.Warn("fetch failed",
				logger.String("part", it.name),
				logger.String("city", p.City.Code),
				logger.Error(it.err))
			continue
		}
		switch v := it.val.(type) {
		case []models.TemperatureForecast:
			bySource[it.idx] = v
		case *models.DailyObservation:
			obs = v
		}
	}
	for _, fs := range bySource {
		res.Forecasts = append(res.Forecasts, fs...)
	}

	res.Combined = uc.combiner.Combine(res.Forecasts)
	res.Adjusted = uc.adjuster.Adjust(res.Combined, obs, time.Now(), loc)

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}
