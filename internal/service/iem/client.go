package iem

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"WxEdge/internal/domain/models"
	drepo "WxEdge/internal/domain/repository"
	pkghttp "WxEdge/pkg/http"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

// SourceCLI labels records parsed from the NWS daily climate report, the
// product the market settles against.
const SourceCLI = "NWS Daily Climate Report"

// SourceArchive labels fallback records. Archive values are gridded model
// reanalysis and can differ from the settlement station.
const SourceArchive = "Open-Meteo Archive (fallback - may differ from settlement)"

// AFOS PIL codes of the daily climate report per city.
var cliProductIDs = map[string]string{
	"NYC": "CLINYC", // Central Park
	"CHI": "CLIORD", // Chicago O'Hare
	"LAX": "CLILAX", // Los Angeles
	"MIA": "CLIMIA", // Miami
	"AUS": "CLIAUS", // Austin
}

var (
	// Products in an AFOS batch are separated by a three-digit sequence line.
	productSeparator = regexp.MustCompile(`\n\d{3}\s*\n`)

	cliDatePattern    = regexp.MustCompile(`(?i)CLIMATE SUMMARY FOR\s+(\w+)\s+(\d{1,2})\s+(\d{4})`)
	cliStationPattern = regexp.MustCompile(`(?i)\.\.\.THE\s+(.+?)\s+CLIMATE SUMMARY`)
	cliMaxPattern     = regexp.MustCompile(`MAXIMUM\s+(-?\d+)\s+`)
	cliMinPattern     = regexp.MustCompile(`MINIMUM\s+(-?\d+)\s+`)
)

// Client implements a SettlementSource backed by the IEM AFOS archive of
// NWS daily climate reports, with the Open-Meteo archive as fallback.
type Client struct {
	http        *pkghttp.Client
	afosBase    string
	archiveBase string
	userAgent   string
	log         *logger.Logger
}

var _ drepo.SettlementSource = (*Client)(nil)

// NewClient creates a settlement source.
func NewClient(afosBase, archiveBase, userAgent string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		http:        pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		afosBase:    afosBase,
		archiveBase: archiveBase,
		userAgent:   userAgent,
		log:         log,
	}
}

// Settlement fetches the official climate report for a past date, falling
// back to the archive when the report is unavailable.
func (c *Client) Settlement(ctx context.Context, city models.City, date string) (*models.SettlementRecord, error) {
	target, err := util.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("parse date %s: %w", date, err)
	}
	if !beforeToday(target) {
		return nil, fmt.Errorf("date %s is not in the past", date)
	}

	products, err := c.fetchCLIProducts(ctx, city, 20)
	if err != nil {
		c.log.Warn("climate report fetch failed, trying archive", logger.Error(err))
	}
	if rec := c.settlementFromProducts(products, city, date); rec != nil {
		return rec, nil
	}

	return c.archiveSettlement(ctx, city, date)
}

// SettlementRange fetches settlements for the trailing window ending
// yesterday, newest first. Dates missing from the climate reports come from
// the archive.
func (c *Client) SettlementRange(ctx context.Context, city models.City, days int) ([]models.SettlementRecord, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	end := time.Now().AddDate(0, 0, -1)
	needed := make(map[string]struct{}, days)
	for i := 0; i < days; i++ {
		needed[util.FormatDate(end.AddDate(0, 0, -i))] = struct{}{}
	}

	limit := days*2 + 10
	if limit > 100 {
		limit = 100
	}
	products, err := c.fetchCLIProducts(ctx, city, limit)
	if err != nil {
		c.log.Warn("climate report fetch failed, trying archive", logger.Error(err))
	}

	fetchedAt := time.Now()
	found := make(map[string]struct{})
	var records []models.SettlementRecord
	for _, product := range products {
		if isPreliminaryReport(product) {
			continue
		}
		productDate, ok := parseCLIDate(product)
		if !ok {
			continue
		}
		if _, want := needed[productDate]; !want {
			continue
		}
		if _, dup := found[productDate]; dup {
			continue
		}
		high, low, ok := parseCLITemperatures(product)
		if !ok {
			continue
		}
		records = append(records, models.SettlementRecord{
			City:        city.Code,
			Date:        productDate,
			High:        high,
			Low:         low,
			Source:      SourceCLI,
			StationName: parseCLIStation(product),
			FetchedAt:   fetchedAt,
		})
		found[productDate] = struct{}{}
	}

	for date := range needed {
		if _, ok := found[date]; ok {
			continue
		}
		rec, err := c.archiveSettlement(ctx, city, date)
		if err != nil {
			c.log.Warn("archive fallback failed",
				logger.String("date", date), logger.Error(err))
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Date > records[j].Date })
	return records, nil
}

func (c *Client) settlementFromProducts(products []string, city models.City, date string) *models.SettlementRecord {
	for _, product := range products {
		if isPreliminaryReport(product) {
			continue
		}
		productDate, ok := parseCLIDate(product)
		if !ok || productDate != date {
			continue
		}
		high, low, ok := parseCLITemperatures(product)
		if !ok {
			c.log.Warn("could not parse temperatures from climate report",
				logger.String("date", date))
			continue
		}
		return &models.SettlementRecord{
			City:        city.Code,
			Date:        date,
			High:        high,
			Low:         low,
			Source:      SourceCLI,
			StationName: parseCLIStation(product),
			FetchedAt:   time.Now(),
		}
	}
	return nil
}

func (c *Client) fetchCLIProducts(ctx context.Context, city models.City, limit int) ([]string, error) {
	pil, ok := cliProductIDs[strings.ToUpper(city.Code)]
	if !ok {
		return nil, fmt.Errorf("no climate report PIL for city %s", city.Code)
	}

	var body []byte
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.afosBase,
		Headers: map[string]string{"User-Agent": c.userAgent},
		QueryParams: map[string][]string{
			"pil":   {pil},
			"limit": {strconv.Itoa(limit)},
		},
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("iem afos %s: %w", pil, err)
	}

	var products []string
	for _, p := range productSeparator.Split(string(body), -1) {
		if strings.Contains(strings.ToUpper(p), "CLIMATE SUMMARY FOR") {
			products = append(products, strings.TrimSpace(p))
		}
	}
	return products, nil
}

// isPreliminaryReport detects mid-day reports, which carry running values
// rather than the final daily climate summary.
func isPreliminaryReport(text string) bool {
	return strings.Contains(strings.ToUpper(text), "VALID TODAY AS OF")
}

func parseCLIDate(text string) (string, bool) {
	m := cliDatePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	month := m[1]
	if len(month) > 1 {
		month = strings.ToUpper(month[:1]) + strings.ToLower(month[1:])
	}
	t, err := time.Parse("January 2 2006", fmt.Sprintf("%s %s %s", month, m[2], m[3]))
	if err != nil {
		return "", false
	}
	return util.FormatDate(t), true
}

func parseCLIStation(text string) string {
	if m := cliStationPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Unknown"
}

func parseCLITemperatures(text string) (high float64, low *float64, ok bool) {
	maxMatch := cliMaxPattern.FindStringSubmatch(text)
	if maxMatch == nil {
		return 0, nil, false
	}
	maxTemp, err := strconv.Atoi(maxMatch[1])
	if err != nil {
		return 0, nil, false
	}
	if minMatch := cliMinPattern.FindStringSubmatch(text); minMatch != nil {
		if minTemp, err := strconv.Atoi(minMatch[1]); err == nil {
			v := float64(minTemp)
			low = &v
		}
	}
	return float64(maxTemp), low, true
}

type archiveResponse struct {
	Daily struct {
		TemperatureMax []*float64 `json:"temperature_2m_max"`
		TemperatureMin []*float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

func (c *Client) archiveSettlement(ctx context.Context, city models.City, date string) (*models.SettlementRecord, error) {
	var resp archiveResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.archiveBase,
		QueryParams: map[string][]string{
			"latitude":         {strconv.FormatFloat(city.Latitude, 'f', -1, 64)},
			"longitude":        {strconv.FormatFloat(city.Longitude, 'f', -1, 64)},
			"start_date":       {date},
			"end_date":         {date},
			"daily":            {"temperature_2m_max,temperature_2m_min"},
			"temperature_unit": {"fahrenheit"},
			"timezone":         {city.Timezone},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("open-meteo archive: %w", err)
	}

	maxs := resp.Daily.TemperatureMax
	if len(maxs) == 0 || maxs[0] == nil {
		return nil, fmt.Errorf("open-meteo archive: no temperature for %s", date)
	}

	var low *float64
	if mins := resp.Daily.TemperatureMin; len(mins) > 0 && mins[0] != nil {
		v := round1(*mins[0])
		low = &v
	}

	return &models.SettlementRecord{
		City:        city.Code,
		Date:        date,
		High:        round1(*maxs[0]),
		Low:         low,
		Source:      SourceArchive,
		StationName: fmt.Sprintf("Grid point (%g, %g)", city.Latitude, city.Longitude),
		FetchedAt:   time.Now(),
	}, nil
}

func beforeToday(t time.Time) bool {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return t.Before(today)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
