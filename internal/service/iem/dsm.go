package iem

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"WxEdge/internal/domain/models"
	drepo "WxEdge/internal/domain/repository"
	pkghttp "WxEdge/pkg/http"
	"WxEdge/pkg/logger"
	"WxEdge/pkg/util"
)

// Versions of the DSM product to walk back through before giving up on a
// date.
const maxDSMVersions = 30

/// Temp/time group like "351559": temperature then HHMM, M prefix for below
// zero.
var dsmTempTimePattern = regexp.MustCompile(`^(-?\d+|M\d+)(\d{4})$`)

// DSM reads the ASOS Daily Summary Message, the station's own report of the
// day's extremes. The values are exact, so the summary carries no bounds
// slack and no individual readings.
type DSM struct {
	http        *pkghttp.Client
	productBase string
	userAgent   string
	log         *logger.Logger
}

var _ drepo.StationSource = (*DSM)(nil)

// NewDSM creates a daily-summary station source backed by the NWS text
// product server.
func NewDSM(productBase, userAgent string, timeout time.Duration, log *logger.Logger) *DSM {
	return &DSM{
		http:        pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		productBase: productBase,
		userAgent:   userAgent,
		log:         log,
	}
}

// Observe walks product versions newest-first until it finds the summary
// for the target date. Versions older than the target stop the walk. A date
// with no summary yields (nil, nil).
func (d *DSM) Observe(ctx context.Context, city models.City, date string) (*models.DailyObservation, error) {
	if _, err := util.ParseDate(date); err != nil {
		return nil, fmt.Errorf("parse date %s: %w", date, err)
	}
	loc, err := time.LoadLocation(city.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", city.Timezone, err)
	}

	for v := 1; v <= maxDSMVersions; v++ {
		text, err := d.fetchProduct(ctx, city, v)
		if err != nil {
			if v == 1 {
				return nil, err
			}
			break
		}

		obs, ok := d.parseSummary(text, city, loc)
		if !ok {
			if v == 1 {
				d.log.Warn("daily summary line not found",
					logger.String("station", city.StationID))
			}
			break
		}

		switch {
		case obs.Date == date:
			return obs, nil
		case obs.Date < date:
			// Reached summaries older than the target.
			return nil, nil
		}
	}
	return nil, nil
}

func (d *DSM) fetchProduct(ctx context.Context, city models.City, version int) (string, error) {
	// The product server keys summaries by the station's city alias, the
	// ICAO id without its K prefix (KNYC -> NYC).
	issuedBy := strings.TrimPrefix(city.StationID, "K")

	var body []byte
	err := d.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     d.productBase,
		Headers: map[string]string{"User-Agent": d.userAgent},
		QueryParams: map[string][]string{
			"site":     {"NWS"},
			"issuedby": {issuedBy},
			"product":  {"DSM"},
			"format":   {"txt"},
			"version":  {strconv.Itoa(version)},
			"glossary": {"0"},
		},
	}, &body)
	if err != nil {
		return "", fmt.Errorf("dsm product v%d: %w", version, err)
	}
	return string(body), nil
}

// parseSummary finds the station's summary line, e.g.
// "KNYC DS 1600 07/15 881559/ 701159//".
func (d *DSM) parseSummary(text string, city models.City, loc *time.Location) (*models.DailyObservation, bool) {
	linePattern := regexp.MustCompile(
		regexp.QuoteMeta(city.StationID) +
			`\s+DS\s+(\d{4})\s+(\d{2}/\d{2})\s+([\dM-]+)/+\s+([\dM-]+)/+`)

	m := linePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	maxTemp, _, ok := parseDSMTemp(m[3])
	if !ok {
		d.log.Warn("unparseable max group in daily summary", logger.String("group", m[3]))
		return nil, false
	}
	if _, _, ok := parseDSMTemp(m[4]); !ok {
		d.log.Warn("unparseable min group in daily summary", logger.String("group", m[4]))
		return nil, false
	}

	date, ok := dsmDate(m[2])
	if !ok {
		return nil, false
	}

	return &models.DailyObservation{
		StationID:     city.StationID,
		Date:          date,
		ObservedHigh:  maxTemp,
		PlausibleLow:  maxTemp,
		PlausibleHigh: maxTemp,
		UpdatedAt:     time.Now().In(loc),
	}, true
}

// parseDSMTemp splits a temp/time group into degrees and HHMM.
func parseDSMTemp(group string) (temp float64, hhmm string, ok bool) {
	clean := strings.TrimRight(group, "/")
	m := dsmTempTimePattern.FindStringSubmatch(clean)
	if m == nil {
		return 0, "", false
	}
	if strings.HasPrefix(m[1], "M") {
		v, err := strconv.ParseFloat(m[1][1:], 64)
		if err != nil {
			return 0, "", false
		}
		return -v, m[2], true
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", false
	}
	return v, m[2], true
}

// dsmDate attaches a year to the product's MM/DD stamp. Around New Year a
// December stamp read in January belongs to the prior year.
func dsmDate(mmdd string) (string, bool) {
	parts := strings.Split(mmdd, "/")
	if len(parts) != 2 {
		return "", false
	}
	month, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}

	now := time.Now().UTC()
	year := now.Year()
	if now.Month() == time.January && month == 12 {
		year--
	}
	return fmt.Sprintf("%d-%02d-%02d", year, month, day), true
}
