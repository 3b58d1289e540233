package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	models "WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	icache "WxEdge/internal/service/cache"
	"WxEdge/internal/service/metrics"
	"WxEdge/internal/service/ratelimit"
	"WxEdge/internal/usecase"
	pkgcache "WxEdge/pkg/cache"
	xhttp "WxEdge/pkg/http"
	xlogger "WxEdge/pkg/logger"
)

var errRateLimited = xhttp.NewAppError("ERR_RATE_LIMITED", "", "rate limited", http.StatusTooManyRequests)

// MarketHandler serves the analysis API over Echo. Expensive endpoints are
// rate limited per client and cached for a short TTL; the reads backed by
// the local store are only rate limited.
type MarketHandler struct {
	log         *xlogger.Logger
	analyzer    *usecase.Analyzer
	forecasts   *usecase.ForecastUseCase
	brackets    *usecase.BracketViewUseCase
	history     *usecase.HistoryUseCase
	settlements *usecase.SettlementUseCase
	markets     domrepo.MarketSource
	cities      []models.City
	cache       icache.BytesCache
	rl          *ratelimit.Limiter
}

func NewMarketHandler(
	log *xlogger.Logger,
	analyzer *usecase.Analyzer,
	forecasts *usecase.ForecastUseCase,
	brackets *usecase.BracketViewUseCase,
	history *usecase.HistoryUseCase,
	settlements *usecase.SettlementUseCase,
	markets domrepo.MarketSource,
	cities []models.City,
) *MarketHandler {
	metrics.Register()
	return &MarketHandler{
		log:         log,
		analyzer:    analyzer,
		forecasts:   forecasts,
		brackets:    brackets,
		history:     history,
		settlements: settlements,
		markets:     markets,
		cities:      cities,
		rl:          ratelimit.New(),
	}
}

// SetCache injects the response cache.
func (h *MarketHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/analysis", h.Analysis)
	g.GET("/forecasts", h.Forecasts)
	g.GET("/brackets", h.Brackets)
	g.GET("/signals", h.Signals)
	g.GET("/settlements", h.Settlements)
	g.GET("/cities", h.Cities)
	g.GET("/markets/status", h.MarketStatus)
}

// Analysis runs a full pricing pass for a city and date. Each run fans out
// to every upstream source, so runs are throttled hard and the result is
// reused for a short window.
func (h *MarketHandler) Analysis(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("analysis").Observe(time.Since(start).Seconds()) }()

	req := &models.AnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	city, err := models.CityByCode(h.cities, req.City)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if !h.rl.Allow(c.RealIP()+":analysis", 2, 0.5) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	key := pkgcache.GenerateKeyWithParams("analysis", city.Code, req.Date, req.MinEdge)
	if raw, ok := h.fromCache("analysis", key); ok {
		return xhttp.SuccessResponse(c, raw)
	}

	res, err := h.analyzer.Analyze(c.Request().Context(), usecase.AnalyzeParams{
		City:    city,
		Date:    req.Date,
		MinEdge: req.MinEdge,
	})
	if err != nil {
		metrics.APIErrors.WithLabelValues("analysis").Inc()
		h.log.Error("analysis usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.toCache("analysis", key, res, 30*time.Second)
	return xhttp.SuccessResponse(c, res)
}

// Forecasts returns every model's forecast plus the blended view, without
// touching the market side.
func (h *MarketHandler) Forecasts(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("forecasts").Observe(time.Since(start).Seconds()) }()

	req := &models.ForecastsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	city, err := models.CityByCode(h.cities, req.City)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if !h.rl.Allow(c.RealIP()+":forecasts", 5, 2) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	key := pkgcache.GenerateKeyWithParams("forecasts", city.Code, req.Date)
	if raw, ok := h.fromCache("forecasts", key); ok {
		return xhttp.SuccessResponse(c, raw)
	}

	res, err := h.forecasts.Get(c.Request().Context(), usecase.ForecastsParams{City: city, Date: req.Date})
	if err != nil {
		metrics.APIErrors.WithLabelValues("forecasts").Inc()
		h.log.Error("forecasts usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.toCache("forecasts", key, res, time.Minute)
	return xhttp.SuccessResponse(c, res)
}

// Brackets returns the live market snapshot, priced against the latest
// stored analysis when one exists.
func (h *MarketHandler) Brackets(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("brackets").Observe(time.Since(start).Seconds()) }()

	req := &models.BracketsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	city, err := models.CityByCode(h.cities, req.City)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if !h.rl.Allow(c.RealIP()+":brackets", 5, 2) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	key := pkgcache.GenerateKeyWithParams("brackets", city.Code, req.Date)
	if raw, ok := h.fromCache("brackets", key); ok {
		return xhttp.SuccessResponse(c, raw)
	}

	res, err := h.brackets.Get(c.Request().Context(), city, req.Date)
	if err != nil {
		metrics.APIErrors.WithLabelValues("brackets").Inc()
		h.log.Error("brackets usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError(err.Error()))
	}
	h.toCache("brackets", key, res, 15*time.Second)
	return xhttp.SuccessResponse(c, res)
}

// Signals lists stored signals, newest first.
func (h *MarketHandler) Signals(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("signals").Observe(time.Since(start).Seconds()) }()

	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	city, err := models.CityByCode(h.cities, req.City)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if !h.rl.Allow(c.RealIP()+":signals", 10, 5) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	res, err := h.history.GetSignals(c.Request().Context(), usecase.GetSignalsParams{
		City:  city.Code,
		Date:  req.Date,
		Limit: req.Limit,
	})
	if err != nil {
		metrics.APIErrors.WithLabelValues("signals").Inc()
		h.log.Error("signals usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Settlements lists stored settlement records, or verifies a single past
// date against the official climate report when date is given.
func (h *MarketHandler) Settlements(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("settlements").Observe(time.Since(start).Seconds()) }()

	req := &models.SettlementsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	city, err := models.CityByCode(h.cities, req.City)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	if req.Date != "" {
		if !h.rl.Allow(c.RealIP()+":settle", 2, 0.5) {
			return xhttp.AppErrorResponse(c, errRateLimited)
		}
		rec, v, err := h.settlements.Verify(c.Request().Context(), city, req.Date)
		if err != nil {
			metrics.APIErrors.WithLabelValues("settlements").Inc()
			h.log.Error("settlement verify error", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UpstreamError(err.Error()))
		}
		return xhttp.SuccessResponse(c, usecase.VerifyResult{Record: rec, Verification: v})
	}

	if !h.rl.Allow(c.RealIP()+":settlements", 10, 5) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	res, err := h.history.GetSettlements(c.Request().Context(), usecase.GetSettlementsParams{
		City:  city.Code,
		Limit: req.Days,
	})
	if err != nil {
		metrics.APIErrors.WithLabelValues("settlements").Inc()
		h.log.Error("settlements usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Cities lists the configured registry.
func (h *MarketHandler) Cities(c echo.Context) error {
	return xhttp.ListResponse(c, h.cities, int64(len(h.cities)))
}

// MarketStatusResult is the market health view. OpenDates is filled only
// when a city was requested.
type MarketStatusResult struct {
	Status    *models.MarketStatus
	OpenDates []string
}

// MarketStatus reports whether the exchange is open, plus the open market
// dates for an optionally named city.
func (h *MarketHandler) MarketStatus(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("market_status").Observe(time.Since(start).Seconds()) }()

	req := &models.MarketStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":status", 5, 2) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	st, err := h.markets.Status(c.Request().Context())
	if err != nil {
		metrics.APIErrors.WithLabelValues("market_status").Inc()
		h.log.Error("market status error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError(err.Error()))
	}
	res := MarketStatusResult{Status: st}

	if req.City != "" {
		city, err := models.CityByCode(h.cities, req.City)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		dates, err := h.markets.OpenDates(c.Request().Context(), city)
		if err != nil {
			h.log.Warn("open dates fetch failed",
				xlogger.String("city", city.Code), xlogger.Error(err))
		} else {
			res.OpenDates = dates
		}
	}
	return xhttp.SuccessResponse(c, res)
}

// fromCache returns a previously marshaled response body.
func (h *MarketHandler) fromCache(endpoint, key string) (json.RawMessage, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.GetBytes(key)
	if err != nil {
		h.log.Warn("cache get error",
			xlogger.String("endpoint", endpoint), xlogger.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	h.log.Debug("cache hit", xlogger.String("key", key))
	return json.RawMessage(b), true
}

// toCache stores the marshaled response body. Failures only log; the
// response has already been computed.
func (h *MarketHandler) toCache(endpoint, key string, v interface{}, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("cache marshal error",
			xlogger.String("endpoint", endpoint), xlogger.Error(err))
		return
	}
	if err := h.cache.SetBytes(key, b, ttl); err != nil {
		h.log.Warn("cache set error",
			xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
}
