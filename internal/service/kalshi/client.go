package kalshi

import (
	"context"
	"fmt"
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

const marketsLimit = 100

// Subtitle grammars seen across Kalshi temperature series. Checked in
// order; the range form wins over the one-sided forms.
var (
	betweenPattern     = regexp.MustCompile(`(?i)(\d+)°?\s*(?:F)?\s*to\s*(\d+)°?\s*(?:F)?`)
	greaterThanPattern = regexp.MustCompile(`(?i)(?:(?:above|greater\s*than|>)\s*(\d+)|(\d+)°?\s*(?:F)?\s*or\s*above)°?\s*(?:F)?`)
	lessThanPattern    = regexp.MustCompile(`(?i)(?:(?:below|less\s*than|<)\s*(\d+)|(\d+)°?\s*(?:F)?\s*or\s*below)°?\s*(?:F)?`)
)

// ParseBracketSubtitle extracts the temperature range from a market
// subtitle like "54° to 55°" or "58° or above".
func ParseBracketSubtitle(subtitle string) (models.BracketRange, error) {
	if m := betweenPattern.FindStringSubmatch(subtitle); m != nil {
		lower, _ := strconv.ParseFloat(m[1], 64)
		upper, _ := strconv.ParseFloat(m[2], 64)
		return models.Between{Lower: lower, Upper: upper}, nil
	}
	if m := greaterThanPattern.FindStringSubmatch(subtitle); m != nil {
		g := m[1]
		if g == "" {
			g = m[2]
		}
		threshold, _ := strconv.ParseFloat(g, 64)
		return models.GreaterThan{Threshold: threshold}, nil
	}
	if m := lessThanPattern.FindStringSubmatch(subtitle); m != nil {
		g := m[1]
		if g == "" {
			g = m[2]
		}
		threshold, _ := strconv.ParseFloat(g, 64)
		return models.LessThan{Threshold: threshold}, nil
	}
	return nil, fmt.Errorf("unrecognized bracket subtitle: %q", subtitle)
}

// Client implements a MarketSource backed by the Kalshi trade API.
type Client struct {
	http    *pkghttp.Client
	baseURL string
	log     *logger.Logger
}

var _ drepo.MarketSource = (*Client)(nil)

// NewClient creates a Kalshi REST client.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		http:    pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
	}
}

type marketsResponse struct {
	Markets []marketRecord `json:"markets"`
}

type marketRecord struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Subtitle    string `json:"subtitle"`
	YesBid      *int   `json:"yes_bid"`
	YesAsk      *int   `json:"yes_ask"`
	LastPrice   *int   `json:"last_price"`
	Volume      *int   `json:"volume"`
}

func (c *Client) fetchMarkets(ctx context.Context, extra map[string][]string) ([]marketRecord, error) {
	params := map[string][]string{
		"limit":  {strconv.Itoa(marketsLimit)},
		"status": {"open"},
	}
	for k, v := range extra {
		params[k] = v
	}

	var resp marketsResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.baseURL + "/markets",
		Headers:     c.headers(),
		QueryParams: params,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("kalshi markets: %w", err)
	}
	return resp.Markets, nil
}

// Brackets fetches the open temperature brackets for the city's daily high
// event on the target date, sorted by range position.
func (c *Client) Brackets(ctx context.Context, city models.City, date string) ([]models.MarketBracket, error) {
	t, err := util.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("parse date %s: %w", date, err)
	}
	token := util.TickerDate(t)
	series := city.HighTicker

	markets, err := c.fetchMarkets(ctx, map[string][]string{"series_ticker": {series}})
	if err != nil {
		return nil, err
	}
	// The series listing can lag; the event lookup is authoritative.
	if len(markets) == 0 {
		markets, err = c.fetchMarkets(ctx, map[string][]string{"event_ticker": {series + "-" + token}})
		if err != nil {
			return nil, err
		}
	}

	var brackets []models.MarketBracket
	for _, m := range markets {
		if !strings.Contains(m.EventTicker, token) {
			continue
		}
		b, err := parseMarket(m)
		if err != nil {
			c.log.Warn("skipping unparseable market",
				logger.String("ticker", m.Ticker), logger.Error(err))
			continue
		}
		brackets = append(brackets, b)
	}

	sort.SliceStable(brackets, func(i, j int) bool {
		return brackets[i].Range.SortKey() < brackets[j].Range.SortKey()
	})
	return brackets, nil
}

func parseMarket(m marketRecord) (models.MarketBracket, error) {
	r, err := ParseBracketSubtitle(m.Subtitle)
	if err != nil {
		return models.MarketBracket{}, err
	}

	yesBid := 0
	if m.YesBid != nil {
		yesBid = *m.YesBid
	}
	// A missing or zero ask means nothing is offered; treat as priced out.
	yesAsk := 100
	if m.YesAsk != nil && *m.YesAsk != 0 {
		yesAsk = *m.YesAsk
	}
	lastPrice := 0
	if m.LastPrice != nil {
		lastPrice = *m.LastPrice
	}
	volume := 0
	if m.Volume != nil {
		volume = *m.Volume
	}

	return models.MarketBracket{
		Ticker:      m.Ticker,
		EventTicker: m.EventTicker,
		Subtitle:    m.Subtitle,
		Range:       r,
		YesBid:      yesBid,
		YesAsk:      yesAsk,
		LastPrice:   lastPrice,
		Volume:      volume,
		ImpliedProb: models.ImpliedProbability(yesBid, yesAsk),
	}, nil
}

type exchangeStatusResponse struct {
	ExchangeActive bool `json:"exchange_active"`
	TradingActive  bool `json:"trading_active"`
}

// Status reports whether the exchange is up and accepting trades.
func (c *Client) Status(ctx context.Context) (*models.MarketStatus, error) {
	var resp exchangeStatusResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.baseURL + "/exchange/status",
		Headers: c.headers(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("kalshi exchange status: %w", err)
	}
	return &models.MarketStatus{
		ExchangeActive: resp.ExchangeActive,
		TradingActive:  resp.TradingActive,
		CheckedAt:      time.Now(),
	}, nil
}

// OpenDates lists the dates with open markets in the city's series.
func (c *Client) OpenDates(ctx context.Context, city models.City) ([]string, error) {
	markets, err := c.fetchMarkets(ctx, map[string][]string{"series_ticker": {city.HighTicker}})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var dates []string
	for _, m := range markets {
		i := strings.LastIndex(m.EventTicker, "-")
		if i < 0 {
			continue
		}
		t, err := util.ParseTickerDate(m.EventTicker[i+1:])
		if err != nil {
			continue
		}
		d := util.FormatDate(t)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}

	sort.Strings(dates)
	return dates, nil
}
