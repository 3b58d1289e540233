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

const testDate = "2025-08-20"

func twoSources() []domrepo.ForecastSource {
	return []domrepo.ForecastSource{
		fakeForecastSource{name: "Alpha", fs: []models.TemperatureForecast{testForecast("Alpha", 85, 2, testDate)}},
		fakeForecastSource{name: "Beta", fs: []models.TemperatureForecast{testForecast("Beta", 86, 2, testDate)}},
	}
}

func TestAnalyzeFindsMispricedBracket(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	m := newFakeMetrics()
	markets := fakeMarkets{brackets: []models.MarketBracket{
		sureBracket("SURE", 40, 50),
		betweenBracket("FAIR", 85, 86, 35, 40),
	}}

	a := NewAnalyzer(twoSources(), fakeStation{}, markets, nil, store, pub,
		engine.NewDetector(), m, testLogger(t))

	res, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: testDate})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Errors != nil {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Analysis == nil || res.Combined == nil || res.Adjusted == nil {
		t.Fatal("incomplete result")
	}
	if res.Analysis.City != "NYC" || res.Analysis.Date != testDate {
		t.Fatalf("analysis keyed %s %s", res.Analysis.City, res.Analysis.Date)
	}

	// Equal default weights blend 85 and 86 to 85.5; no readings means the
	// adjuster passes the blend through.
	if math.Abs(res.Combined.Mean-85.5) > 1e-9 {
		t.Fatalf("combined mean = %g, want 85.5", res.Combined.Mean)
	}
	if math.Abs(res.Analysis.ForecastMean-res.Adjusted.Mean) > 1e-9 {
		t.Fatalf("analysis mean %g != adjusted mean %g", res.Analysis.ForecastMean, res.Adjusted.Mean)
	}
	if len(res.Analysis.Probabilities) != 2 {
		t.Fatalf("got %d probabilities, want 2", len(res.Analysis.Probabilities))
	}

	if len(res.Analysis.Signals) != 1 {
		t.Fatalf("got %d signals, want 1: %+v", len(res.Analysis.Signals), res.Analysis.Signals)
	}
	sig := res.Analysis.Signals[0]
	if sig.Bracket.Ticker != "SURE" || sig.Side != "YES" {
		t.Fatalf("signal = %s %s, want YES SURE", sig.Side, sig.Bracket.Ticker)
	}
	wantEdge := 0.999 - 0.5/(1-engine.DefaultFeeRate)
	if math.Abs(sig.Edge-wantEdge) > 1e-9 {
		t.Fatalf("edge = %g, want %g", sig.Edge, wantEdge)
	}
	if sig.Confidence <= 0.5 {
		t.Fatalf("confidence = %g, want > 0.5", sig.Confidence)
	}

	if got := len(store.storedAnalyses()); got != 1 {
		t.Fatalf("stored %d analyses, want 1", got)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d signals, want 1", pub.count())
	}
	if m.count("signal:YES") != 1 || m.count("sent:kafka") != 1 {
		t.Fatalf("metrics: signal:YES=%d sent:kafka=%d", m.count("signal:YES"), m.count("sent:kafka"))
	}
}

func TestAnalyzeOverlaysStreamQuotes(t *testing.T) {
	prices := newFakePriceCache()
	prices.SetPrice(context.Background(), &models.PriceUpdate{
		Ticker:    "SURE",
		YesBid:    42,
		YesAsk:    55,
		Timestamp: time.Now(),
	})
	markets := fakeMarkets{brackets: []models.MarketBracket{sureBracket("SURE", 40, 50)}}

	a := NewAnalyzer(twoSources(), fakeStation{}, markets, prices, nil, nil,
		engine.NewDetector(), newFakeMetrics(), testLogger(t))

	res, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: testDate})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	b := res.Analysis.Brackets[0]
	if b.YesBid != 42 || b.YesAsk != 55 {
		t.Fatalf("bracket quotes = %d/%d, want 42/55 from the stream", b.YesBid, b.YesAsk)
	}
	if math.Abs(b.ImpliedProb-0.485) > 1e-9 {
		t.Fatalf("implied prob = %g, want 0.485", b.ImpliedProb)
	}

	// The signal prices off the live ask, not the REST snapshot.
	if len(res.Analysis.Signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(res.Analysis.Signals))
	}
	wantEdge := 0.999 - 0.55/(1-engine.DefaultFeeRate)
	if got := res.Analysis.Signals[0].Edge; math.Abs(got-wantEdge) > 1e-9 {
		t.Fatalf("edge = %g, want %g", got, wantEdge)
	}
}

func TestAnalyzeSurvivesPartialFailure(t *testing.T) {
	sources := []domrepo.ForecastSource{
		fakeForecastSource{name: "Alpha", fs: []models.TemperatureForecast{testForecast("Alpha", 85, 2, testDate)}},
		fakeForecastSource{name: "Beta", err: errors.New("upstream 503")},
	}
	markets := fakeMarkets{brackets: []models.MarketBracket{sureBracket("SURE", 40, 50)}}

	a := NewAnalyzer(sources, fakeStation{err: errors.New("station down")}, markets, nil, nil, nil,
		engine.NewDetector(), newFakeMetrics(), testLogger(t))

	res, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: testDate})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Errors["forecast:Beta"] == "" || res.Errors["observation"] == "" {
		t.Fatalf("errors = %v, want forecast:Beta and observation entries", res.Errors)
	}
	if len(res.Analysis.Forecasts) != 1 || res.Analysis.Forecasts[0].Source != "Alpha" {
		t.Fatalf("forecasts = %+v, want Alpha only", res.Analysis.Forecasts)
	}
	if math.Abs(res.Combined.Mean-85) > 1e-9 {
		t.Fatalf("combined mean = %g, want 85 from the surviving source", res.Combined.Mean)
	}
	if len(res.Analysis.Signals) != 1 {
		t.Fatalf("got %d signals, want pricing to continue on partial data", len(res.Analysis.Signals))
	}
}

func TestAnalyzeBracketFetchFailure(t *testing.T) {
	store := &fakeStore{}
	markets := fakeMarkets{err: errors.New("kalshi 429")}

	a := NewAnalyzer(twoSources(), fakeStation{}, markets, nil, store, nil,
		engine.NewDetector(), newFakeMetrics(), testLogger(t))

	res, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: testDate})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Errors["brackets"] == "" {
		t.Fatalf("errors = %v, want brackets entry", res.Errors)
	}
	if len(res.Analysis.Brackets) != 0 || len(res.Analysis.Signals) != 0 {
		t.Fatal("no brackets should mean no signals")
	}
	// The forecast snapshot is still worth persisting.
	if got := len(store.storedAnalyses()); got != 1 {
		t.Fatalf("stored %d analyses, want 1", got)
	}
}

func TestAnalyzeValidatesParams(t *testing.T) {
	a := NewAnalyzer(twoSources(), fakeStation{}, fakeMarkets{}, nil, nil, nil,
		engine.NewDetector(), newFakeMetrics(), testLogger(t))

	if _, err := a.Analyze(context.Background(), AnalyzeParams{}); err == nil {
		t.Fatal("empty city accepted")
	}

	bad := testCity()
	bad.Timezone = "Mars/Olympus"
	if _, err := a.Analyze(context.Background(), AnalyzeParams{City: bad}); err == nil {
		t.Fatal("bad timezone accepted")
	}

	if _, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: "08/20/2025"}); err == nil {
		t.Fatal("bad date accepted")
	}
}

func TestAnalyzeReportsPersistAndPublishFailures(t *testing.T) {
	store := &fakeStore{storeErr: errors.New("disk full")}
	pub := &fakePublisher{err: errors.New("broker down")}
	m := newFakeMetrics()
	markets := fakeMarkets{brackets: []models.MarketBracket{sureBracket("SURE", 40, 50)}}

	a := NewAnalyzer(twoSources(), fakeStation{}, markets, nil, store, pub,
		engine.NewDetector(), m, testLogger(t))

	res, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: testDate})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Errors["store"] == "" || res.Errors["publish"] == "" {
		t.Fatalf("errors = %v, want store and publish entries", res.Errors)
	}
	if res.Analysis == nil || len(res.Analysis.Signals) != 1 {
		t.Fatal("analysis itself should survive sink failures")
	}
	if m.count("error:store_analysis") != 1 || m.count("error:publish_signals") != 1 {
		t.Fatalf("sink errors not counted: %v", m.counts)
	}
}

func TestAnalyzeMinEdgeOverride(t *testing.T) {
	pub := &fakePublisher{}
	markets := fakeMarkets{brackets: []models.MarketBracket{sureBracket("SURE", 40, 50)}}

	a := NewAnalyzer(twoSources(), fakeStation{}, markets, nil, nil, pub,
		engine.NewDetector(), newFakeMetrics(), testLogger(t))

	res, err := a.Analyze(context.Background(), AnalyzeParams{City: testCity(), Date: testDate, MinEdge: 0.9})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Analysis.Signals) != 0 {
		t.Fatalf("got %d signals above a 0.9 edge floor", len(res.Analysis.Signals))
	}
	if pub.count() != 0 {
		t.Fatal("nothing should publish without signals")
	}
}
