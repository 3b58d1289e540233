package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"WxEdge/internal/domain/models"
	drepo "WxEdge/internal/domain/repository"
	pkghttp "WxEdge/pkg/http"
	"WxEdge/pkg/logger"
)

const (
	forecastPath = "/v1/forecast"
	gfsPath      = "/v1/gfs"
	ensemblePath = "/v1/ensemble"

	// Ensemble responses carry members 00 through 50.
	ensembleMembers = 51

	// Floor for the ensemble spread. Point models carry no spread of their
	// own and get the default instead.
	minEnsembleStdDev = 1.5
)

// Client calls the Open-Meteo forecast API. One Client serves all three
// model endpoints; the per-model sources share its transport.
type Client struct {
	http       *pkghttp.Client
	baseURL    string
	days       int
	defaultStd float64
	log        *logger.Logger
}

// NewClient creates an Open-Meteo API client.
func NewClient(baseURL string, timeout time.Duration, forecastDays int, defaultStd float64, log *logger.Logger) *Client {
	return &Client{
		http:       pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		baseURL:    strings.TrimRight(baseURL, "/"),
		days:       forecastDays,
		defaultStd: defaultStd,
		log:        log,
	}
}

// BestMatch returns the source backed by the best-match model blend.
func (c *Client) BestMatch() drepo.ForecastSource { return bestMatchSource{c} }

// GFS returns the source backed by the seamless GFS+HRRR blend.
func (c *Client) GFS() drepo.ForecastSource { return gfsSource{c} }

// Ensemble returns the source backed by the 51-member ensemble.
func (c *Client) Ensemble() drepo.ForecastSource { return ensembleSource{c} }

func (c *Client) baseParams(city models.City) map[string][]string {
	return map[string][]string{
		"latitude":         {strconv.FormatFloat(city.Latitude, 'f', -1, 64)},
		"longitude":        {strconv.FormatFloat(city.Longitude, 'f', -1, 64)},
		"daily":            {"temperature_2m_max"},
		"temperature_unit": {"fahrenheit"},
		"timezone":         {city.Timezone},
		"forecast_days":    {strconv.Itoa(c.days)},
	}
}

type dailyResponse struct {
	Daily map[string]json.RawMessage `json:"daily"`
}

func (r *dailyResponse) dateIndex(date string) (int, error) {
	var times []string
	if raw, ok := r.Daily["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return -1, fmt.Errorf("parse daily time axis: %w", err)
		}
	}
	for i, t := range times {
		if t == date {
			return i, nil
		}
	}
	return -1, fmt.Errorf("date %s not in response", date)
}

func (r *dailyResponse) series(key string) ([]*float64, error) {
	raw, ok := r.Daily[key]
	if !ok {
		return nil, fmt.Errorf("series %s not in response", key)
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse series %s: %w", key, err)
	}
	return values, nil
}

// fetchPoint queries a point-estimate endpoint and shapes the single
// temperature into a forecast with the default spread.
func (c *Client) fetchPoint(ctx context.Context, path, source string, extra map[string][]string, city models.City, date string) ([]models.TemperatureForecast, error) {
	params := c.baseParams(city)
	for k, v := range extra {
		params[k] = v
	}

	var resp dailyResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: params,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("open-meteo %s: %w", path, err)
	}

	idx, err := resp.dateIndex(date)
	if err != nil {
		return nil, fmt.Errorf("open-meteo %s: %w", path, err)
	}
	temps, err := resp.series("temperature_2m_max")
	if err != nil {
		return nil, fmt.Errorf("open-meteo %s: %w", path, err)
	}
	if idx >= len(temps) || temps[idx] == nil {
		c.log.Warn("open-meteo returned no value for target date",
			logger.String("source", source), logger.String("date", date))
		return nil, nil
	}

	temp := *temps[idx]
	return []models.TemperatureForecast{{
		Source:     source,
		TargetDate: date,
		Mean:       temp,
		Low:        temp - c.defaultStd,
		High:       temp + c.defaultStd,
		StdDev:     c.defaultStd,
		FetchedAt:  time.Now(),
	}}, nil
}

type bestMatchSource struct{ c *Client }

func (s bestMatchSource) Name() string { return "Open-Meteo Best Match" }

func (s bestMatchSource) Fetch(ctx context.Context, city models.City, date string) ([]models.TemperatureForecast, error) {
	return s.c.fetchPoint(ctx, forecastPath, s.Name(), nil, city, date)
}

type gfsSource struct{ c *Client }

func (s gfsSource) Name() string { return "GFS+HRRR" }

func (s gfsSource) Fetch(ctx context.Context, city models.City, date string) ([]models.TemperatureForecast, error) {
	extra := map[string][]string{"models": {"gfs_seamless"}}
	return s.c.fetchPoint(ctx, gfsPath, s.Name(), extra, city, date)
}

type ensembleSource struct{ c *Client }

func (s ensembleSource) Name() string { return "Open-Meteo Ensemble" }

func (s ensembleSource) Fetch(ctx context.Context, city models.City, date string) ([]models.TemperatureForecast, error) {
	keys := make([]string, ensembleMembers)
	for i := range keys {
		keys[i] = fmt.Sprintf("temperature_2m_max_member%02d", i)
	}
	params := s.c.baseParams(city)
	params["daily"] = []string{strings.Join(keys, ",")}

	var resp dailyResponse
	err := s.c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         s.c.baseURL + ensemblePath,
		QueryParams: params,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("open-meteo ensemble: %w", err)
	}

	idx, err := resp.dateIndex(date)
	if err != nil {
		return nil, fmt.Errorf("open-meteo ensemble: %w", err)
	}

	var members []float64
	for _, key := range keys {
		values, err := resp.series(key)
		if err != nil {
			continue
		}
		if idx < len(values) && values[idx] != nil {
			members = append(members, *values[idx])
		}
	}
	if len(members) == 0 {
		s.c.log.Warn("open-meteo ensemble returned no members",
			logger.String("date", date))
		return nil, nil
	}

	mean := 0.0
	for _, m := range members {
		mean += m
	}
	mean /= float64(len(members))

	variance := 0.0
	for _, m := range members {
		variance += (m - mean) * (m - mean)
	}
	std := math.Sqrt(variance / float64(len(members)))
	if std < minEnsembleStdDev {
		std = minEnsembleStdDev
	}

	sorted := append([]float64(nil), members...)
	sort.Float64s(sorted)

	return []models.TemperatureForecast{{
		Source:     s.Name(),
		TargetDate: date,
		Mean:       mean,
		Low:        percentile(sorted, 10),
		High:       percentile(sorted, 90),
		StdDev:     std,
		FetchedAt:  time.Now(),
		Members:    members,
	}}, nil
}

// percentile interpolates linearly between the two nearest ranks.
// Input must be sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}
