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

// Analyzer runs one full pricing pass for a city and date: fetch every
// forecast model, the station's readings so far, and the market's bracket
// book in parallel, then combine, adjust, price, and scan for edges. The
// result is persisted and any signals go out on the bus.
type Analyzer struct {
	sources  []domrepo.ForecastSource
	station  domrepo.StationSource
	markets  domrepo.MarketSource
	prices   domrepo.PriceCache
	store    domrepo.AnalysisStore
	pub      domrepo.SignalPublisher
	detector domsvc.EdgeDetector
	metrics  domrepo.Metrics
	log      *logger.Logger
	timeout  time.Duration
}

// NewAnalyzer wires the full pipeline. prices, store, and pub may be nil;
// the analyzer then prices against the REST snapshot and skips persistence
// or publishing.
func NewAnalyzer(
	sources []domrepo.ForecastSource,
	station domrepo.StationSource,
	markets domrepo.MarketSource,
	prices domrepo.PriceCache,
	store domrepo.AnalysisStore,
	pub domrepo.SignalPublisher,
	detector domsvc.EdgeDetector,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *Analyzer {
	return &Analyzer{
		sources:  sources,
		station:  station,
		markets:  markets,
		prices:   prices,
		store:    store,
		pub:      pub,
		detector: detector,
		metrics:  metrics,
		log:      log,
		timeout:  30 * time.Second,
	}
}

type AnalyzeParams struct {
	City    models.City
	Date    string  // YYYY-MM-DD; empty means today in the city's time zone
	MinEdge float64 // 0 means the detector's configured threshold
}

// AnalyzeResult carries the snapshot plus the intermediate blend state the
// API exposes. Errors maps a failed fetch to its cause; a run with partial
// fetches still prices whatever arrived.
type AnalyzeResult struct {
	Analysis *models.MarketAnalysis
	Combined *models.CombinedForecast
	Adjusted *models.AdjustedForecast
	Errors   map[string]string
}

func (a *Analyzer) Analyze(ctx context.Context, p AnalyzeParams) (*AnalyzeResult, error) {
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

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	res := &AnalyzeResult{Errors: map[string]string{}}

	type item struct {
		idx  int // forecast source index, -1 for observation and brackets
		name string
		val  interface{}
		err  error
	}
	ch := make(chan item, len(a.sources)+2)
	var wg sync.WaitGroup

	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src domrepo.ForecastSource) {
			defer wg.Done()
			fs, err := src.Fetch(ctx, p.City, date)
			if err != nil {
				a.metrics.RecordError("forecast_fetch")
			} else {
				a.metrics.RecordForecastFetch(src.Name(), p.City.Code)
			}
			ch <- item{idx: i, name: "forecast:" + src.Name(), val: fs, err: err}
		}(i, src)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		obs, err := a.station.Observe(ctx, p.City, date)
		if err != nil {
			a.metrics.RecordError("observation_fetch")
		}
		ch <- item{idx: -1, name: "observation", val: obs, err: err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		bs, err := a.markets.Brackets(ctx, p.City, date)
		if err != nil {
			a.metrics.RecordError("bracket_fetch")
		}
		ch <- item{idx: -1, name: "brackets", val: bs, err: err}
	}()

	go func() { wg.Wait(); close(ch) }()

	bySource := make([][]models.TemperatureForecast, len(a.sources))
	var obs *models.DailyObservation
	var brackets []models.MarketBracket
	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			a.log.Warn("fetch failed",
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
		case []models.MarketBracket:
			brackets = v
		}
	}

	// Reassemble in source order so blends are reproducible run to run.
	var forecasts []models.TemperatureForecast
	for _, fs := range bySource {
		forecasts = append(forecasts, fs...)
	}

	overlayLivePrices(ctx, a.prices, brackets)

	eng := a.detect(forecasts, obs, brackets, loc, p.MinEdge)

	analysis := &models.MarketAnalysis{
		City:          p.City.Code,
		Date:          date,
		Forecasts:     forecasts,
		Observation:   obs,
		Brackets:      brackets,
		Probabilities: eng.Probabilities,
		Signals:       eng.Signals,
		AnalyzedAt:    time.Now(),
	}
	if eng.Adjusted != nil {
		analysis.ForecastMean = eng.Adjusted.Mean
		analysis.ForecastStd = eng.Adjusted.StdDev
		a.metrics.RecordForecast(p.City.Code, eng.Adjusted.Mean, eng.Adjusted.StdDev)
	}
	if obs != nil {
		a.metrics.RecordObservedHigh(p.City.Code, obs.ObservedHigh)
	}
	for _, s := range eng.Signals {
		a.metrics.RecordSignal(p.City.Code, s.Side, s.Edge)
	}

	a.persist(ctx, analysis, res.Errors)
	a.publish(ctx, p.City.Code, eng.Signals, res.Errors)

	a.metrics.RecordLatency("analysis", time.Since(start).Seconds())
	a.log.Info("analysis complete",
		logger.String("city", p.City.Code),
		logger.String("date", date),
		logger.Int("forecasts", len(forecasts)),
		logger.Int("brackets", len(brackets)),
		logger.Int("signals", len(eng.Signals)))

	res.Analysis = analysis
	res.Combined = eng.Combined
	res.Adjusted = eng.Adjusted
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

func (a *Analyzer) detect(forecasts []models.TemperatureForecast, obs *models.DailyObservation, brackets []models.MarketBracket, loc *time.Location, minEdge float64) *models.Detection {
	now := time.Now()
	if minEdge > 0 {
		return a.detector.DetectWith(forecasts, obs, brackets, now, loc, minEdge)
	}
	return a.detector.Detect(forecasts, obs, brackets, now, loc)
}

// overlayLivePrices replaces REST quotes with fresher ones from the stream
// cache, re-deriving the implied probability.
func overlayLivePrices(ctx context.Context, prices domrepo.PriceCache, brackets []models.MarketBracket) {
	if prices == nil || len(brackets) == 0 {
		return
	}
	tickers := make([]string, len(brackets))
	for i, b := range brackets {
		tickers[i] = b.Ticker
	}
	live := prices.GetPrices(ctx, tickers)
	for i := range brackets {
		u, ok := live[brackets[i].Ticker]
		if !ok || u == nil {
			continue
		}
		// An empty ask side reads as 100, matching the REST parser.
		ask := u.YesAsk
		if ask == 0 {
			ask = 100
		}
		brackets[i].YesBid = u.YesBid
		brackets[i].YesAsk = ask
		if u.LastPrice > 0 {
			brackets[i].LastPrice = u.LastPrice
		}
		if u.Volume > 0 {
			brackets[i].Volume = u.Volume
		}
		brackets[i].ImpliedProb = models.ImpliedProbability(u.YesBid, ask)
	}
}

func (a *Analyzer) persist(ctx context.Context, analysis *models.MarketAnalysis, errs map[string]string) {
	if a.store == nil {
		return
	}
	if err := a.store.StoreAnalysis(ctx, analysis); err != nil {
		errs["store"] = err.Error()
		a.metrics.RecordError("store_analysis")
		a.log.Warn("store analysis failed", logger.Error(err))
	}
}

func (a *Analyzer) publish(ctx context.Context, city string, signals []models.TradingSignal, errs map[string]string) {
	if a.pub == nil || len(signals) == 0 {
		return
	}
	batch := make([]*models.TradingSignal, len(signals))
	for i := range signals {
		batch[i] = &signals[i]
	}
	if err := a.pub.PublishBatch(ctx, batch); err != nil {
		errs["publish"] = err.Error()
		a.metrics.RecordError("publish_signals")
		a.log.Warn("publish signals failed", logger.Error(err))
		return
	}
	for range signals {
		a.metrics.RecordMessageSent("kafka", city)
	}
}
