package engine

import (
	"math"
	"strings"
	"testing"
	"time"

	"WxEdge/internal/domain/models"
)

func centerBracket(bid, ask int) models.MarketBracket {
	return models.MarketBracket{
		Ticker:      "KXHIGHNY-25JUL15-B55",
		EventTicker: "KXHIGHNY-25JUL15",
		Range:       models.Between{Lower: 54, Upper: 56},
		YesBid:      bid,
		YesAsk:      ask,
		ImpliedProb: models.ImpliedProbability(bid, ask),
	}
}

func detectAt(t *testing.T) time.Time {
	return time.Date(2025, 7, 15, 9, 0, 0, 0, testLocation(t))
}

func TestDetectYesSignalWithoutFees(t *testing.T) {
	d := NewDetector(WithFeeRate(0))
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{centerBracket(10, 20)}

	res := d.Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	if res == nil || len(res.Signals) != 1 {
		t.Fatalf("signals = %+v, want exactly one", res)
	}
	sig := res.Signals[0]
	if sig.Side != "YES" {
		t.Fatalf("side = %s, want YES", sig.Side)
	}
	// Model probability of the 54-56 bracket at N(55, 2) is about 0.547,
	// entry cost at ask 20 with no fee is 0.20.
	if sig.Edge < 0.33 || sig.Edge > 0.35 {
		t.Fatalf("edge = %v, want about 0.347", sig.Edge)
	}
	if sig.ID == "" {
		t.Fatal("signal ID not set")
	}
	if sig.CreatedAt.IsZero() {
		t.Fatal("signal timestamp not set")
	}
}

func TestDetectFeesShrinkEdge(t *testing.T) {
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{centerBracket(10, 20)}

	free := NewDetector(WithFeeRate(0)).Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	taxed := NewDetector(WithFeeRate(0.5)).Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))

	if len(free.Signals) != 1 || len(taxed.Signals) != 1 {
		t.Fatalf("signal counts = %d/%d, want 1/1", len(free.Signals), len(taxed.Signals))
	}
	if taxed.Signals[0].Edge >= free.Signals[0].Edge {
		t.Fatalf("fee did not shrink edge: %v >= %v", taxed.Signals[0].Edge, free.Signals[0].Edge)
	}
}

func TestDetectNoSignalOnOverpricedBracket(t *testing.T) {
	d := NewDetector()
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	far := models.MarketBracket{
		Ticker:      "KXHIGHNY-25JUL15-B71",
		Range:       models.Between{Lower: 70, Upper: 72},
		YesBid:      95,
		YesAsk:      97,
		ImpliedProb: models.ImpliedProbability(95, 97),
	}

	res := d.Detect(forecasts, nil, []models.MarketBracket{far}, detectAt(t), testLocation(t))
	if len(res.Signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(res.Signals))
	}
	sig := res.Signals[0]
	if sig.Side != "NO" {
		t.Fatalf("side = %s, want NO", sig.Side)
	}
	// NO entry costs 1 - bid = 0.05 before fees against a near-certain miss.
	if sig.Edge < 0.85 {
		t.Fatalf("edge = %v, want a large NO edge", sig.Edge)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		t.Fatalf("confidence = %v, want within [0, 1]", sig.Confidence)
	}
}

func TestDetectSkipsUnquotedSides(t *testing.T) {
	d := NewDetector(WithFeeRate(0), WithMinEdge(0.0001))
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}

	cases := []struct {
		name string
		bid  int
		ask  int
	}{
		{"zero ask blocks long entry", 0, 0},
		{"full ask blocks long entry", 95, 100},
		{"zero bid blocks short entry", 0, 5},
	}
	for _, tc := range cases {
		far := models.MarketBracket{
			Ticker:      "KXHIGHNY-25JUL15-B71",
			Range:       models.Between{Lower: 70, Upper: 72},
			YesBid:      tc.bid,
			YesAsk:      tc.ask,
			ImpliedProb: models.ImpliedProbability(tc.bid, tc.ask),
		}
		res := d.Detect(forecasts, nil, []models.MarketBracket{far}, detectAt(t), testLocation(t))
		for _, sig := range res.Signals {
			if tc.ask == 0 || tc.ask == 100 {
				if sig.Side == "YES" {
					t.Fatalf("%s: unexpected YES signal", tc.name)
				}
			}
			if tc.bid == 0 {
				if sig.Side == "NO" {
					t.Fatalf("%s: unexpected NO signal", tc.name)
				}
			}
		}
	}
}

func TestDetectRespectsMinEdge(t *testing.T) {
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{centerBracket(40, 48)}

	// Default fee: model about 0.547, cost 0.48/0.9 = 0.533, edge about 0.013.
	strict := NewDetector().Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	if len(strict.Signals) != 0 {
		t.Fatalf("signals = %d, want 0 below the edge threshold", len(strict.Signals))
	}

	loose := NewDetector(WithMinEdge(0.01)).Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	if len(loose.Signals) != 1 {
		t.Fatalf("signals = %d, want 1 with the lowered threshold", len(loose.Signals))
	}
}

func TestDetectWithOverridesThreshold(t *testing.T) {
	d := NewDetector(WithFeeRate(0))
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{
		centerBracket(10, 20),
		{
			Ticker:      "KXHIGHNY-25JUL15-B71",
			Range:       models.Between{Lower: 70, Upper: 72},
			YesBid:      95,
			YesAsk:      97,
			ImpliedProb: models.ImpliedProbability(95, 97),
		},
	}

	all := d.DetectWith(forecasts, nil, brackets, detectAt(t), testLocation(t), 0.08)
	if len(all.Signals) != 2 {
		t.Fatalf("signals = %d, want 2 at the default threshold", len(all.Signals))
	}
	strict := d.DetectWith(forecasts, nil, brackets, detectAt(t), testLocation(t), 0.5)
	if len(strict.Signals) != 1 {
		t.Fatalf("signals = %d, want only the large NO edge at 0.5", len(strict.Signals))
	}
	if strict.Signals[0].Side != "NO" {
		t.Fatalf("surviving side = %s, want NO", strict.Signals[0].Side)
	}
}

func TestDetectSignalsSortedByEdge(t *testing.T) {
	d := NewDetector(WithFeeRate(0), WithMinEdge(0.01))
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{
		centerBracket(10, 30),
		{
			Ticker:      "KXHIGHNY-25JUL15-B71",
			Range:       models.Between{Lower: 70, Upper: 72},
			YesBid:      95,
			YesAsk:      97,
			ImpliedProb: models.ImpliedProbability(95, 97),
		},
		{
			Ticker:      "KXHIGHNY-25JUL15-T58",
			Range:       models.GreaterThan{Threshold: 58},
			YesBid:      80,
			YesAsk:      85,
			ImpliedProb: models.ImpliedProbability(80, 85),
		},
	}

	res := d.Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	if len(res.Signals) < 2 {
		t.Fatalf("signals = %d, want at least 2", len(res.Signals))
	}
	for i := 1; i < len(res.Signals); i++ {
		if res.Signals[i].Edge > res.Signals[i-1].Edge {
			t.Fatalf("signals not sorted by edge: %v before %v",
				res.Signals[i-1].Edge, res.Signals[i].Edge)
		}
	}
}

func TestDetectReasoningFormats(t *testing.T) {
	d := NewDetector(WithFeeRate(0), WithMinEdge(0.01))
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{
		centerBracket(10, 20),
		{
			Ticker:      "KXHIGHNY-25JUL15-B71",
			Range:       models.Between{Lower: 70, Upper: 72},
			YesBid:      95,
			YesAsk:      97,
			ImpliedProb: models.ImpliedProbability(95, 97),
		},
	}

	res := d.Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	var sawYes, sawNo bool
	for _, sig := range res.Signals {
		switch sig.Side {
		case "YES":
			sawYes = true
			if !strings.Contains(sig.Reasoning, "Model (") || !strings.Contains(sig.Reasoning, "Market Ask (") {
				t.Fatalf("YES reasoning = %q", sig.Reasoning)
			}
		case "NO":
			sawNo = true
			if !strings.Contains(sig.Reasoning, "Model NO (") || !strings.Contains(sig.Reasoning, "Implied Market NO (") {
				t.Fatalf("NO reasoning = %q", sig.Reasoning)
			}
		}
		if !strings.Contains(sig.Reasoning, "Model Mean: 55.0 F") {
			t.Fatalf("reasoning missing mean: %q", sig.Reasoning)
		}
	}
	if !sawYes || !sawNo {
		t.Fatalf("sides seen: yes=%v no=%v, want both", sawYes, sawNo)
	}
}

func TestDetectEmptyInputs(t *testing.T) {
	d := NewDetector()
	brackets := []models.MarketBracket{centerBracket(10, 20)}
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}

	res := d.Detect(nil, nil, brackets, detectAt(t), testLocation(t))
	if res == nil || res.Signals == nil || len(res.Signals) != 0 {
		t.Fatalf("nil forecasts: res = %+v, want empty result", res)
	}
	res = d.Detect(forecasts, nil, nil, detectAt(t), testLocation(t))
	if res == nil || res.Signals == nil || len(res.Signals) != 0 {
		t.Fatalf("nil brackets: res = %+v, want empty result", res)
	}
	res = d.Detect([]models.TemperatureForecast{fc("NWS", math.NaN(), 2)}, nil, brackets, detectAt(t), testLocation(t))
	if res == nil || res.Signals == nil || len(res.Signals) != 0 || res.Combined != nil {
		t.Fatalf("all-NaN forecasts: res = %+v, want empty result", res)
	}
}

func TestDetectResultCarriesIntermediateState(t *testing.T) {
	d := NewDetector()
	forecasts := []models.TemperatureForecast{fc("NWS", 55, 2)}
	brackets := []models.MarketBracket{centerBracket(40, 48)}

	res := d.Detect(forecasts, nil, brackets, detectAt(t), testLocation(t))
	if res.Combined == nil || !almostEqual(res.Combined.Mean, 55, 1e-9) {
		t.Fatalf("combined = %+v, want mean 55", res.Combined)
	}
	if res.Adjusted == nil || !almostEqual(res.Adjusted.Mean, 55, 1e-9) {
		t.Fatalf("adjusted = %+v, want passthrough mean 55", res.Adjusted)
	}
	if len(res.Probabilities) != 1 {
		t.Fatalf("probabilities = %d, want 1", len(res.Probabilities))
	}
}
