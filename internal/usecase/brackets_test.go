package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
	"WxEdge/internal/engine"
)

func newBracketsUC(t *testing.T, markets fakeMarkets, prices domrepo.PriceCache, store domrepo.AnalysisStore) *BracketViewUseCase {
	t.Helper()
	return NewBracketViewUseCase(markets, prices, store, engine.NewCalculator(), testLogger(t))
}

func TestBracketsGetBareBookWithoutAnalysis(t *testing.T) {
	markets := fakeMarkets{brackets: []models.MarketBracket{
		betweenBracket("B85", 85, 86, 30, 35),
		betweenBracket("B87", 87, 88, 20, 25),
	}}
	uc := newBracketsUC(t, markets, nil, &fakeStore{})

	res, err := uc.Get(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Brackets) != 2 {
		t.Fatalf("got %d brackets, want 2", len(res.Brackets))
	}
	if res.Probabilities != nil || res.AnalyzedAt != nil {
		t.Fatal("no stored analysis should mean a bare book")
	}
}

func TestBracketsGetPricesAgainstStoredAnalysis(t *testing.T) {
	analyzedAt := time.Date(2025, 8, 20, 15, 4, 0, 0, time.UTC)
	store := &fakeStore{latest: &models.MarketAnalysis{
		City: "NYC", Date: testDate, ForecastMean: 86.2, ForecastStd: 2, AnalyzedAt: analyzedAt,
	}}
	markets := fakeMarkets{brackets: []models.MarketBracket{
		betweenBracket("B85", 85, 86, 30, 35),
		betweenBracket("B87", 87, 88, 20, 25),
	}}
	uc := newBracketsUC(t, markets, nil, store)

	res, err := uc.Get(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Probabilities) != 2 {
		t.Fatalf("got %d probabilities, want 2", len(res.Probabilities))
	}
	if res.ForecastMean != 86.2 || res.ForecastStd != 2 {
		t.Fatalf("forecast params = %g/%g", res.ForecastMean, res.ForecastStd)
	}
	if res.AnalyzedAt == nil || !res.AnalyzedAt.Equal(analyzedAt) {
		t.Fatalf("analyzed at = %v, want %v", res.AnalyzedAt, analyzedAt)
	}

	calc := engine.NewCalculator()
	for i, bp := range res.Probabilities {
		want := calc.Probability(res.Brackets[i].Range, 86.2, 2)
		if math.Abs(bp.ModelProb-want) > 1e-12 {
			t.Fatalf("bracket %d model prob = %g, want %g", i, bp.ModelProb, want)
		}
		if math.Abs(bp.MarketProb-res.Brackets[i].ImpliedProb) > 1e-12 {
			t.Fatalf("bracket %d market prob = %g, want the implied quote", i, bp.MarketProb)
		}
	}
}

func TestBracketsGetOverlaysStreamQuotes(t *testing.T) {
	prices := newFakePriceCache()
	ctx := context.Background()
	prices.SetPrice(ctx, &models.PriceUpdate{Ticker: "B85", YesBid: 42, YesAsk: 55, Timestamp: time.Now()})
	// An empty ask side reads as 100.
	prices.SetPrice(ctx, &models.PriceUpdate{Ticker: "B87", YesBid: 10, YesAsk: 0, Timestamp: time.Now()})

	markets := fakeMarkets{brackets: []models.MarketBracket{
		betweenBracket("B85", 85, 86, 30, 35),
		betweenBracket("B87", 87, 88, 20, 25),
	}}
	uc := newBracketsUC(t, markets, prices, &fakeStore{})

	res, err := uc.Get(ctx, testCity(), testDate)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b85 := res.Brackets[0]
	if b85.YesBid != 42 || b85.YesAsk != 55 || math.Abs(b85.ImpliedProb-0.485) > 1e-9 {
		t.Fatalf("B85 = %d/%d prob %g, want 42/55 prob 0.485", b85.YesBid, b85.YesAsk, b85.ImpliedProb)
	}
	b87 := res.Brackets[1]
	if b87.YesAsk != 100 || b87.ImpliedProb != 1 {
		t.Fatalf("B87 = ask %d prob %g, want empty ask read as 100", b87.YesAsk, b87.ImpliedProb)
	}
}

func TestBracketsGetSurvivesStoreFailure(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("clickhouse down")}
	markets := fakeMarkets{brackets: []models.MarketBracket{betweenBracket("B85", 85, 86, 30, 35)}}
	uc := newBracketsUC(t, markets, nil, store)

	res, err := uc.Get(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Brackets) != 1 || res.Probabilities != nil {
		t.Fatal("want the bare book when the analysis lookup fails")
	}
}

func TestBracketsGetSkipsDegenerateAnalysis(t *testing.T) {
	store := &fakeStore{latest: &models.MarketAnalysis{City: "NYC", Date: testDate, ForecastStd: 0}}
	markets := fakeMarkets{brackets: []models.MarketBracket{betweenBracket("B85", 85, 86, 30, 35)}}
	uc := newBracketsUC(t, markets, nil, store)

	res, err := uc.Get(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Probabilities != nil {
		t.Fatal("a zero-std analysis cannot price brackets")
	}
}

func TestBracketsGetValidatesParams(t *testing.T) {
	uc := newBracketsUC(t, fakeMarkets{}, nil, nil)

	if _, err := uc.Get(context.Background(), models.City{}, testDate); err == nil {
		t.Fatal("empty city accepted")
	}
	if _, err := uc.Get(context.Background(), testCity(), "yesterday"); err == nil {
		t.Fatal("bad date accepted")
	}

	broken := newBracketsUC(t, fakeMarkets{err: errors.New("kalshi 500")}, nil, nil)
	if _, err := broken.Get(context.Background(), testCity(), testDate); err == nil {
		t.Fatal("market failure swallowed")
	}
}
