package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	"WxEdge/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testCity() models.City {
	return models.City{
		Name:       "New York City",
		Code:       "NYC",
		StationID:  "KNYC",
		Latitude:   40.7829,
		Longitude:  -73.9654,
		Timezone:   "America/New_York",
		HighTicker: "KXHIGHNY",
	}
}

func testForecast(source string, mean, std float64, date string) models.TemperatureForecast {
	return models.TemperatureForecast{
		Source:     source,
		TargetDate: date,
		Mean:       mean,
		Low:        mean - 1.28155*std,
		High:       mean + 1.28155*std,
		StdDev:     std,
		FetchedAt:  time.Now(),
	}
}

func betweenBracket(ticker string, lo, hi float64, bid, ask int) models.MarketBracket {
	return models.MarketBracket{
		Ticker:      ticker,
		EventTicker: "KXHIGHNY-25AUG20",
		Range:       models.Between{Lower: lo, Upper: hi},
		YesBid:      bid,
		YesAsk:      ask,
		ImpliedProb: models.ImpliedProbability(bid, ask),
	}
}

// sureBracket settles YES for any plausible temperature, so a mid-priced
// book always carries a YES edge.
func sureBracket(ticker string, bid, ask int) models.MarketBracket {
	return models.MarketBracket{
		Ticker:      ticker,
		EventTicker: "KXHIGHNY-25AUG20",
		Range:       models.LessThan{Threshold: 200},
		YesBid:      bid,
		YesAsk:      ask,
		ImpliedProb: models.ImpliedProbability(bid, ask),
	}
}

type fakeForecastSource struct {
	name string
	fs   []models.TemperatureForecast
	err  error
}

func (s fakeForecastSource) Name() string { return s.name }

func (s fakeForecastSource) Fetch(ctx context.Context, city models.City, date string) ([]models.TemperatureForecast, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.fs, nil
}

type fakeStation struct {
	obs *models.DailyObservation
	err error
}

func (s fakeStation) Observe(ctx context.Context, city models.City, date string) (*models.DailyObservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.obs, nil
}

type fakeMarkets struct {
	brackets []models.MarketBracket
	status   *models.MarketStatus
	dates    []string
	err      error
}

// Brackets returns a fresh copy per call; callers overlay live quotes in
// place and must not mutate the fixture.
func (m fakeMarkets) Brackets(ctx context.Context, city models.City, date string) ([]models.MarketBracket, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.MarketBracket, len(m.brackets))
	copy(out, m.brackets)
	return out, nil
}

func (m fakeMarkets) Status(ctx context.Context) (*models.MarketStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.status, nil
}

func (m fakeMarkets) OpenDates(ctx context.Context, city models.City) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.dates, nil
}

type fakeSettlements struct {
	rec  *models.SettlementRecord
	recs []models.SettlementRecord
	err  error
}

func (s fakeSettlements) Settlement(ctx context.Context, city models.City, date string) (*models.SettlementRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

func (s fakeSettlements) SettlementRange(ctx context.Context, city models.City, days int) ([]models.SettlementRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.recs, nil
}

type storedSettlement struct {
	rec *models.SettlementRecord
	v   *models.SettlementVerification
}

// fakeStore is an in-memory AnalysisStore. latest is returned from
// LatestAnalysis regardless of date; queries echo the seeded slices.
type fakeStore struct {
	mu          sync.Mutex
	analyses    []*models.MarketAnalysis
	settlements []storedSettlement
	latest      *models.MarketAnalysis
	signals     []models.TradingSignal
	settleRecs  []models.SettlementRecord

	storeErr error
	queryErr error

	lastSignalsLimit int
	lastSettleLimit  int
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }

func (s *fakeStore) StoreAnalysis(ctx context.Context, a *models.MarketAnalysis) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, a)
	return nil
}

func (s *fakeStore) StoreSettlement(ctx context.Context, rec *models.SettlementRecord, v *models.SettlementVerification) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, storedSettlement{rec: rec, v: v})
	return nil
}

func (s *fakeStore) QuerySignals(ctx context.Context, city, date string, limit int) ([]models.TradingSignal, error) {
	s.mu.Lock()
	s.lastSignalsLimit = limit
	s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.signals, nil
}

func (s *fakeStore) QuerySettlements(ctx context.Context, city string, limit int) ([]models.SettlementRecord, error) {
	s.mu.Lock()
	s.lastSettleLimit = limit
	s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.settleRecs, nil
}

func (s *fakeStore) LatestAnalysis(ctx context.Context, city, date string) (*models.MarketAnalysis, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.latest, nil
}

func (s *fakeStore) Health(ctx context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) storedAnalyses() []*models.MarketAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.MarketAnalysis(nil), s.analyses...)
}

func (s *fakeStore) storedSettlements() []storedSettlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedSettlement(nil), s.settlements...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*models.TradingSignal
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, s *models.TradingSignal) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, s)
	return nil
}

func (p *fakePublisher) PublishBatch(ctx context.Context, signals []*models.TradingSignal) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, signals...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// fakeMetrics counts calls by key so tests can assert which paths ran.
type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counts: make(map[string]int)}
}

func (m *fakeMetrics) bump(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *fakeMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *fakeMetrics) RecordForecastFetch(source, city string) { m.bump("fetch:" + source) }

func (m *fakeMetrics) RecordError(kind string) { m.bump("error:" + kind) }

func (m *fakeMetrics) RecordForecast(city string, mean, std float64) { m.bump("forecast:" + city) }

func (m *fakeMetrics) RecordObservedHigh(city string, highF float64) { m.bump("observed:" + city) }

func (m *fakeMetrics) RecordSignal(city, side string, edge float64) { m.bump("signal:" + side) }

func (m *fakeMetrics) RecordMessageSent(backend, city string) { m.bump("sent:" + backend) }

func (m *fakeMetrics) RecordLatency(op string, seconds float64) { m.bump("latency:" + op) }

type fakePriceCache struct {
	mu sync.Mutex
	m  map[string]*models.PriceUpdate
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{m: make(map[string]*models.PriceUpdate)}
}

func (c *fakePriceCache) SetPrice(ctx context.Context, u *models.PriceUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[u.Ticker] = u
	return nil
}

func (c *fakePriceCache) GetPrice(ctx context.Context, ticker string) (*models.PriceUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.m[ticker]
	return u, ok
}

func (c *fakePriceCache) GetPrices(ctx context.Context, tickers []string) map[string]*models.PriceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*models.PriceUpdate, len(tickers))
	for _, ticker := range tickers {
		if u, ok := c.m[ticker]; ok {
			out[ticker] = u
		}
	}
	return out
}

var (
	_ domrepo.ForecastSource   = fakeForecastSource{}
	_ domrepo.StationSource    = fakeStation{}
	_ domrepo.MarketSource     = fakeMarkets{}
	_ domrepo.SettlementSource = fakeSettlements{}
	_ domrepo.AnalysisStore    = (*fakeStore)(nil)
	_ domrepo.SignalPublisher  = (*fakePublisher)(nil)
	_ domrepo.Metrics          = (*fakeMetrics)(nil)
	_ domrepo.PriceCache       = (*fakePriceCache)(nil)
)
