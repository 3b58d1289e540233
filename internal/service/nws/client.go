package nws

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"WxEdge/internal/domain/models"
	drepo "WxEdge/internal/domain/repository"
	pkghttp "WxEdge/pkg/http"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

const (
	observationLimit = 100

	// ASOS five-minute feeds report whole degC, so the converted value sits
	// within 0.1 F of a reading that itself carries 0.5 F of rounding.
	fiveMinuteUncertainty = 0.1 + 0.5
	hourlyUncertainty     = 0.5
	unknownUncertainty    = 1.0

	// The true high can fall between readings.
	interReadingUncertainty = 1.0
)

// Client calls api.weather.gov. It serves both the gridpoint forecast and
// the station observation feed.
type Client struct {
	http       *pkghttp.Client
	baseURL    string
	userAgent  string
	defaultStd float64
	log        *logger.Logger

	mu           sync.Mutex
	forecastURLs map[string]string
}

// NewClient creates an NWS API client. The user agent is mandatory per the
// api.weather.gov usage policy.
func NewClient(baseURL, userAgent string, timeout time.Duration, defaultStd float64, log *logger.Logger) *Client {
	return &Client{
		http:         pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		baseURL:      strings.TrimRight(baseURL, "/"),
		userAgent:    userAgent,
		defaultStd:   defaultStd,
		log:          log,
		forecastURLs: make(map[string]string),
	}
}

// Forecast returns the gridpoint point-forecast source.
func (c *Client) Forecast() drepo.ForecastSource { return forecastSource{c} }

// Station returns the station observation source.
func (c *Client) Station() drepo.StationSource { return stationSource{c} }

func (c *Client) headers() map[string]string {
	return map[string]string{"User-Agent": c.userAgent}
}

type pointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []forecastPeriod `json:"periods"`
	} `json:"properties"`
}

type forecastPeriod struct {
	StartTime   string   `json:"startTime"`
	IsDaytime   bool     `json:"isDaytime"`
	Temperature *float64 `json:"temperature"`
}

// forecastURL resolves the gridpoint forecast URL for a coordinate via the
// points endpoint, caching per coordinate. The gridpoint mapping never
// changes for a fixed station.
func (c *Client) forecastURL(ctx context.Context, city models.City) (string, error) {
	key := strconv.FormatFloat(city.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(city.Longitude, 'f', -1, 64)

	c.mu.Lock()
	cached, ok := c.forecastURLs[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var resp pointsResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.baseURL + "/points/" + key,
		Headers: c.headers(),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("nws points %s: %w", key, err)
	}
	if resp.Properties.Forecast == "" {
		return "", fmt.Errorf("nws points %s: no forecast url", key)
	}

	c.mu.Lock()
	c.forecastURLs[key] = resp.Properties.Forecast
	c.mu.Unlock()
	return resp.Properties.Forecast, nil
}

type forecastSource struct{ c *Client }

func (s forecastSource) Name() string { return "NWS" }

// Fetch returns the first daytime period for the target date as a point
// forecast with the default spread.
func (s forecastSource) Fetch(ctx context.Context, city models.City, date string) ([]models.TemperatureForecast, error) {
	u, err := s.c.forecastURL(ctx, city)
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	err = s.c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     u,
		Headers: s.c.headers(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("nws forecast: %w", err)
	}

	for _, p := range resp.Properties.Periods {
		if !strings.HasPrefix(p.StartTime, date) || !p.IsDaytime {
			continue
		}
		if p.Temperature == nil {
			continue
		}
		temp := *p.Temperature
		return []models.TemperatureForecast{{
			Source:     s.Name(),
			TargetDate: date,
			Mean:       temp,
			Low:        temp - s.c.defaultStd,
			High:       temp + s.c.defaultStd,
			StdDev:     s.c.defaultStd,
			FetchedAt:  time.Now(),
		}}, nil
	}

	s.c.log.Warn("target date not in nws forecast periods",
		logger.String("date", date), logger.String("city", city.Code))
	return nil, nil
}

type observationsResponse struct {
	Features []observationFeature `json:"features"`
}

type observationFeature struct {
	Properties struct {
		Timestamp   string `json:"timestamp"`
		Temperature struct {
			Value    *float64 `json:"value"`
			UnitCode string   `json:"unitCode"`
		} `json:"temperature"`
	} `json:"properties"`
}

type stationSource struct{ c *Client }

// Observe fetches recent readings for the city station and summarizes the
// ones falling on the target local date. A day with no readings yields
// (nil, nil).
func (s stationSource) Observe(ctx context.Context, city models.City, date string) (*models.DailyObservation, error) {
	loc, err := time.LoadLocation(city.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", city.Timezone, err)
	}
	target, err := time.ParseInLocation(util.DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("parse date %s: %w", date, err)
	}

	var resp observationsResponse
	err = s.c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         fmt.Sprintf("%s/stations/%s/observations", s.c.baseURL, city.StationID),
		Headers:     s.c.headers(),
		QueryParams: map[string][]string{"limit": {strconv.Itoa(observationLimit)}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("nws observations %s: %w", city.StationID, err)
	}
	if len(resp.Features) == 0 {
		return nil, nil
	}

	kind := cadence(resp.Features)

	var daily []models.StationReading
	for _, f := range resp.Features {
		r, ok := parseReading(f, kind, city.StationID)
		if !ok {
			continue
		}
		lt := r.Timestamp.In(loc)
		if lt.Year() == target.Year() && lt.YearDay() == target.YearDay() {
			daily = append(daily, r)
		}
	}
	if len(daily) == 0 {
		return nil, nil
	}

	observed := daily[0].TempF
	maxPossible := daily[0].PossibleHigh
	for _, r := range daily[1:] {
		if r.TempF > observed {
			observed = r.TempF
		}
		if r.PossibleHigh > maxPossible {
			maxPossible = r.PossibleHigh
		}
	}

	return &models.DailyObservation{
		StationID:     city.StationID,
		Date:          date,
		ObservedHigh:  observed,
		PlausibleLow:  round1(observed - hourlyUncertainty),
		PlausibleHigh: round1(maxPossible + interReadingUncertainty),
		Readings:      daily,
		UpdatedAt:     time.Now().In(loc),
	}, nil
}

// cadence classifies the station by mean gap between consecutive readings.
func cadence(features []observationFeature) models.StationKind {
	if len(features) < 2 {
		return models.StationUnknown
	}

	var sum float64
	var n int
	for i := 0; i < len(features)-1; i++ {
		t1, err1 := time.Parse(time.RFC3339, features[i].Properties.Timestamp)
		t2, err2 := time.Parse(time.RFC3339, features[i+1].Properties.Timestamp)
		if err1 != nil || err2 != nil {
			continue
		}
		sum += math.Abs(t1.Sub(t2).Minutes())
		n++
	}
	if n == 0 {
		return models.StationUnknown
	}

	avg := sum / float64(n)
	switch {
	case avg < 15:
		return models.StationFiveMinute
	case avg >= 45:
		return models.StationHourly
	default:
		return models.StationUnknown
	}
}

func parseReading(f observationFeature, kind models.StationKind, stationID string) (models.StationReading, bool) {
	p := f.Properties
	if p.Timestamp == "" || p.Temperature.Value == nil {
		return models.StationReading{}, false
	}
	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return models.StationReading{}, false
	}

	value := *p.Temperature.Value
	unit := p.Temperature.UnitCode

	var tempF float64
	var tempC *float64
	switch {
	case strings.Contains(unit, "degC") || strings.Contains(strings.ToLower(unit), "celsius"):
		c := value
		tempF = celsiusToFahrenheit(c)
		tempC = &c
	case strings.Contains(unit, "degF") || strings.Contains(strings.ToLower(unit), "fahrenheit"):
		tempF = value
	default:
		// NWS reports degC when the unit is missing or unrecognized.
		c := value
		tempF = celsiusToFahrenheit(c)
		tempC = &c
	}

	u := uncertaintyFor(kind)
	if tempC != nil {
		r := round1(*tempC)
		tempC = &r
	}
	return models.StationReading{
		StationID:    stationID,
		Timestamp:    ts,
		Kind:         kind,
		TempF:        round1(tempF),
		TempC:        tempC,
		PossibleLow:  round1(tempF - u),
		PossibleHigh: round1(tempF + u),
	}, true
}

func uncertaintyFor(kind models.StationKind) float64 {
	switch kind {
	case models.StationFiveMinute:
		return fiveMinuteUncertainty
	case models.StationHourly:
		return hourlyUncertainty
	default:
		return unknownUncertainty
	}
}

func celsiusToFahrenheit(c float64) float64 { return c*9.0/5.0 + 32.0 }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
