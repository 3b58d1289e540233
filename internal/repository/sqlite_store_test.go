package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"WxEdge/internal/domain/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wxedge.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAnalysis(city, date string, analyzedAt time.Time) *models.MarketAnalysis {
	bracket := models.MarketBracket{
		Ticker:   "HIGHNY-25AUG20-B87.5",
		Subtitle: "87 to 88",
		Range:    models.Between{Lower: 87, Upper: 88},
		YesBid:   30,
		YesAsk:   34,
	}
	return &models.MarketAnalysis{
		City: city,
		Date: date,
		Forecasts: []models.TemperatureForecast{
			{Source: "NWS", TargetDate: date, Mean: 88, StdDev: 2},
		},
		Brackets: []models.MarketBracket{bracket},
		Signals: []models.TradingSignal{
			{
				ID:         "sig-old",
				Bracket:    bracket,
				Side:       "YES",
				ModelProb:  0.55,
				MarketProb: 0.32,
				Edge:       0.2,
				Confidence: 0.7,
				Reasoning:  "model 55.0% vs market 32.0%",
				CreatedAt:  analyzedAt.Add(-time.Minute),
			},
			{
				ID:         "sig-new",
				Bracket:    bracket,
				Side:       "NO",
				ModelProb:  0.1,
				MarketProb: 0.32,
				Edge:       0.15,
				Confidence: 0.6,
				Reasoning:  "model 10.0% vs market 32.0%",
				CreatedAt:  analyzedAt,
			},
		},
		ForecastMean: 87.6,
		ForecastStd:  2.1,
		AnalyzedAt:   analyzedAt,
	}
}

func TestStoreAndQuerySignals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 8, 20, 18, 30, 0, 0, time.UTC)

	if err := s.StoreAnalysis(ctx, testAnalysis("NYC", "2025-08-20", at)); err != nil {
		t.Fatalf("store analysis: %v", err)
	}

	got, err := s.QuerySignals(ctx, "NYC", "2025-08-20", 10)
	if err != nil {
		t.Fatalf("query signals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	if got[0].ID != "sig-new" || got[1].ID != "sig-old" {
		t.Fatalf("signals not newest-first: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Side != "NO" || got[0].Bracket.Ticker != "HIGHNY-25AUG20-B87.5" {
		t.Fatalf("unexpected signal %+v", got[0])
	}
	r, ok := got[0].Bracket.Range.(models.Between)
	if !ok || r.Lower != 87 || r.Upper != 88 {
		t.Fatalf("bracket range did not survive storage: %#v", got[0].Bracket.Range)
	}
	if got[0].CreatedAt.Unix() != at.Unix() {
		t.Fatalf("created_at = %v, want %v", got[0].CreatedAt, at)
	}

	// Date filter excludes other days.
	got, err = s.QuerySignals(ctx, "NYC", "2025-08-21", 10)
	if err != nil {
		t.Fatalf("query signals: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d signals for empty day, want 0", len(got))
	}
}

func TestLatestAnalysisPicksNewestRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testAnalysis("PHIL", "2025-08-20", time.Date(2025, 8, 20, 16, 0, 0, 0, time.UTC))
	second := testAnalysis("PHIL", "2025-08-20", time.Date(2025, 8, 20, 18, 0, 0, 0, time.UTC))
	second.ForecastMean = 90.2
	// Same signal IDs across runs upsert rather than duplicate.
	if err := s.StoreAnalysis(ctx, first); err != nil {
		t.Fatalf("store first: %v", err)
	}
	if err := s.StoreAnalysis(ctx, second); err != nil {
		t.Fatalf("store second: %v", err)
	}

	got, err := s.LatestAnalysis(ctx, "PHIL", "2025-08-20")
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if got == nil {
		t.Fatalf("expected an analysis")
	}
	if got.ForecastMean != 90.2 {
		t.Fatalf("mean = %v, want the later run's 90.2", got.ForecastMean)
	}
	if len(got.Brackets) != 1 || got.Brackets[0].Range == nil {
		t.Fatalf("payload brackets did not survive storage: %+v", got.Brackets)
	}
}

func TestLatestAnalysisMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LatestAnalysis(context.Background(), "NYC", "2025-01-01")
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown day, got %+v", got)
	}
}

func TestStoreSettlementUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.SettlementRecord{
		City:        "MIA",
		Date:        "2025-08-19",
		High:        94,
		Source:      "NWS CLI",
		StationName: "MIAMI INTL AP",
		FetchedAt:   time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC),
	}
	if err := s.StoreSettlement(ctx, rec, nil); err != nil {
		t.Fatalf("store bare settlement: %v", err)
	}

	low := 78.0
	verified := *rec
	verified.Low = &low
	verification := &models.SettlementVerification{
		City:           "MIA",
		Date:           "2025-08-19",
		OfficialHigh:   94,
		ForecastMean:   93.1,
		ForecastStd:    2.0,
		AbsError:       0.9,
		WithinOneSigma: true,
		WinningTicker:  "HIGHMIA-25AUG19-B93.5",
	}
	if err := s.StoreSettlement(ctx, &verified, verification); err != nil {
		t.Fatalf("store verified settlement: %v", err)
	}

	got, err := s.QuerySettlements(ctx, "MIA", 10)
	if err != nil {
		t.Fatalf("query settlements: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d settlements, want 1 after upsert", len(got))
	}
	if got[0].High != 94 || got[0].Source != "NWS CLI" {
		t.Fatalf("unexpected settlement %+v", got[0])
	}
	if got[0].Low == nil || *got[0].Low != 78 {
		t.Fatalf("low = %v, want 78", got[0].Low)
	}
}

func TestQuerySettlementsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2025-08-17", "2025-08-19", "2025-08-18"} {
		rec := &models.SettlementRecord{
			City: "CHI", Date: date, High: 85,
			Source: "NWS CLI", FetchedAt: time.Now(),
		}
		if err := s.StoreSettlement(ctx, rec, nil); err != nil {
			t.Fatalf("store settlement %s: %v", date, err)
		}
	}

	got, err := s.QuerySettlements(ctx, "CHI", 2)
	if err != nil {
		t.Fatalf("query settlements: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d settlements, want 2", len(got))
	}
	if got[0].Date != "2025-08-19" || got[1].Date != "2025-08-18" {
		t.Fatalf("settlements not newest-first: %s, %s", got[0].Date, got[1].Date)
	}
}
