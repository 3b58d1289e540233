package kalshi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"WxEdge/internal/domain/models"
	"WxEdge/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
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

func TestParseBracketSubtitle(t *testing.T) {
	cases := []struct {
		subtitle string
		want     models.BracketRange
	}{
		{"54° to 55°", models.Between{Lower: 54, Upper: 55}},
		{"54 to 55", models.Between{Lower: 54, Upper: 55}},
		{"54°F to 55°F", models.Between{Lower: 54, Upper: 55}},
		{"58° or above", models.GreaterThan{Threshold: 58}},
		{"Above 58", models.GreaterThan{Threshold: 58}},
		{"greater than 60", models.GreaterThan{Threshold: 60}},
		{">70", models.GreaterThan{Threshold: 70}},
		{"49° or below", models.LessThan{Threshold: 49}},
		{"Below 49", models.LessThan{Threshold: 49}},
		{"less than 45", models.LessThan{Threshold: 45}},
	}
	for _, tc := range cases {
		got, err := ParseBracketSubtitle(tc.subtitle)
		if err != nil {
			t.Fatalf("%q: %v", tc.subtitle, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %#v, want %#v", tc.subtitle, got, tc.want)
		}
	}

	if _, err := ParseBracketSubtitle("mostly sunny"); err == nil {
		t.Fatal("nonsense subtitle should not parse")
	}
}

func TestBracketsFetchFilterSort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("series_ticker") != "KXHIGHNY" || q.Get("limit") != "100" || q.Get("status") != "open" {
			t.Errorf("query = %v", q)
		}
		fmt.Fprint(w, `{"markets":[
			{"ticker":"KXHIGHNY-25JUL15-B50","event_ticker":"KXHIGHNY-25JUL15","subtitle":"50° to 51°","yes_bid":10,"yes_ask":14,"last_price":12,"volume":100},
			{"ticker":"KXHIGHNY-25JUL15-T54","event_ticker":"KXHIGHNY-25JUL15","subtitle":"54° or above","yes_bid":2,"yes_ask":5,"last_price":3,"volume":40},
			{"ticker":"KXHIGHNY-25JUL16-B50","event_ticker":"KXHIGHNY-25JUL16","subtitle":"50° to 51°","yes_bid":20,"yes_ask":24,"last_price":22,"volume":10},
			{"ticker":"KXHIGHNY-25JUL15-X","event_ticker":"KXHIGHNY-25JUL15","subtitle":"weird market","yes_bid":1,"yes_ask":2,"last_price":1,"volume":1},
			{"ticker":"KXHIGHNY-25JUL15-T49","event_ticker":"KXHIGHNY-25JUL15","subtitle":"49° or below","yes_bid":1,"yes_ask":3,"last_price":2,"volume":5}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger(t))
	brackets, err := c.Brackets(context.Background(), testCity(), "2025-07-15")
	if err != nil {
		t.Fatalf("brackets: %v", err)
	}
	if len(brackets) != 3 {
		t.Fatalf("brackets = %d, want 3 after filtering", len(brackets))
	}

	wantOrder := []string{"KXHIGHNY-25JUL15-T49", "KXHIGHNY-25JUL15-B50", "KXHIGHNY-25JUL15-T54"}
	for i, b := range brackets {
		if b.Ticker != wantOrder[i] {
			t.Fatalf("order[%d] = %s, want %s", i, b.Ticker, wantOrder[i])
		}
	}

	mid := brackets[1]
	if mid.YesBid != 10 || mid.YesAsk != 14 || mid.LastPrice != 12 || mid.Volume != 100 {
		t.Fatalf("prices = %+v", mid)
	}
	if mid.ImpliedProb != 0.12 {
		t.Fatalf("implied = %v, want 0.12", mid.ImpliedProb)
	}
	if _, ok := mid.Range.(models.Between); !ok {
		t.Fatalf("range = %#v, want Between", mid.Range)
	}
}

func TestBracketsEventTickerFallback(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if s := q.Get("series_ticker"); s != "" {
			calls = append(calls, "series="+s)
			fmt.Fprint(w, `{"markets":[]}`)
			return
		}
		calls = append(calls, "event="+q.Get("event_ticker"))
		fmt.Fprint(w, `{"markets":[
			{"ticker":"KXHIGHNY-25JUL15-B50","event_ticker":"KXHIGHNY-25JUL15","subtitle":"50° to 51°","yes_bid":10,"yes_ask":14,"last_price":12,"volume":100}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger(t))
	brackets, err := c.Brackets(context.Background(), testCity(), "2025-07-15")
	if err != nil {
		t.Fatalf("brackets: %v", err)
	}
	if len(brackets) != 1 {
		t.Fatalf("brackets = %d, want 1 from the fallback", len(brackets))
	}
	if len(calls) != 2 || calls[0] != "series=KXHIGHNY" || calls[1] != "event=KXHIGHNY-25JUL15" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestMarketQuoteDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"markets":[
			{"ticker":"KXHIGHNY-25JUL15-B50","event_ticker":"KXHIGHNY-25JUL15","subtitle":"50° to 51°"},
			{"ticker":"KXHIGHNY-25JUL15-B52","event_ticker":"KXHIGHNY-25JUL15","subtitle":"52° to 53°","yes_bid":30,"yes_ask":0}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger(t))
	brackets, err := c.Brackets(context.Background(), testCity(), "2025-07-15")
	if err != nil {
		t.Fatalf("brackets: %v", err)
	}
	if len(brackets) != 2 {
		t.Fatalf("brackets = %d, want 2", len(brackets))
	}

	missing := brackets[0]
	if missing.YesBid != 0 || missing.YesAsk != 100 {
		t.Fatalf("missing quotes = bid %d ask %d, want 0/100", missing.YesBid, missing.YesAsk)
	}
	if missing.ImpliedProb != 1 {
		t.Fatalf("implied = %v, want 1 with the ask pinned at 100", missing.ImpliedProb)
	}

	// A zero ask also reads as nothing offered.
	zeroAsk := brackets[1]
	if zeroAsk.YesAsk != 100 {
		t.Fatalf("zero ask = %d, want 100", zeroAsk.YesAsk)
	}
}

func TestExchangeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchange/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"exchange_active":true,"trading_active":false}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger(t))
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.ExchangeActive || status.TradingActive {
		t.Fatalf("status = %+v", status)
	}
	if status.CheckedAt.IsZero() {
		t.Fatal("checked-at not set")
	}
}

func TestOpenDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"markets":[
			{"ticker":"a","event_ticker":"KXHIGHNY-25JUL16","subtitle":"50° to 51°"},
			{"ticker":"b","event_ticker":"KXHIGHNY-25JUL15","subtitle":"50° to 51°"},
			{"ticker":"c","event_ticker":"KXHIGHNY-25JUL15","subtitle":"52° to 53°"},
			{"ticker":"d","event_ticker":"KXHIGHNY","subtitle":"50° to 51°"},
			{"ticker":"e","event_ticker":"KXHIGHNY-GARBAGE","subtitle":"50° to 51°"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger(t))
	dates, err := c.OpenDates(context.Background(), testCity())
	if err != nil {
		t.Fatalf("open dates: %v", err)
	}
	want := []string{"2025-07-15", "2025-07-16"}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v, want %v", dates, want)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("dates = %v, want %v", dates, want)
		}
	}
}
