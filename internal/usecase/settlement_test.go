package usecase

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"WxEdge/internal/domain/models"
	"WxEdge/pkg/util"
)

func storedAnalysisFixture() *models.MarketAnalysis {
	return &models.MarketAnalysis{
		City:         "NYC",
		Date:         testDate,
		ForecastMean: 86.2,
		ForecastStd:  2,
		Brackets: []models.MarketBracket{
			betweenBracket("B85", 85, 86, 30, 35),
			betweenBracket("B87", 87, 88, 30, 35),
		},
		AnalyzedAt: time.Now(),
	}
}

func TestVerifyScoresStoredAnalysis(t *testing.T) {
	store := &fakeStore{latest: storedAnalysisFixture()}
	official := &models.SettlementRecord{
		City: "NYC", Date: testDate, High: 86, Source: "NWS CLI", StationName: "NEW YORK CENTRAL PARK",
	}
	uc := NewSettlementUseCase(fakeSettlements{rec: official}, nil, store, newFakeMetrics(), testLogger(t))

	rec, v, err := uc.Verify(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.High != 86 || rec.Source != "NWS CLI" {
		t.Fatalf("record = %+v", rec)
	}
	if v == nil {
		t.Fatal("verification missing despite stored analysis")
	}
	if v.OfficialHigh != 86 || v.ForecastMean != 86.2 {
		t.Fatalf("verification = %+v", v)
	}
	if math.Abs(v.AbsError-0.2) > 1e-6 {
		t.Fatalf("abs error = %g, want 0.2", v.AbsError)
	}
	if !v.WithinOneSigma {
		t.Fatal("0.2 off with std 2 should be within one sigma")
	}
	// 86 lands in the inclusive 85-86 bracket, not the 87-88 one.
	if v.WinningTicker != "B85" {
		t.Fatalf("winning ticker = %q, want B85", v.WinningTicker)
	}

	stored := store.storedSettlements()
	if len(stored) != 1 || stored[0].v == nil {
		t.Fatalf("stored = %+v, want one scored settlement", stored)
	}
}

func TestVerifyFallsBackToDailySummary(t *testing.T) {
	summary := fakeStation{obs: &models.DailyObservation{
		StationID: "KNYC", Date: testDate, ObservedHigh: 88.5,
	}}
	uc := NewSettlementUseCase(fakeSettlements{err: errors.New("CLI not out yet")}, summary, nil,
		newFakeMetrics(), testLogger(t))

	rec, v, err := uc.Verify(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Source != dsmSource {
		t.Fatalf("source = %q, want the daily summary fallback", rec.Source)
	}
	if rec.High != 88.5 || rec.StationName != "KNYC" {
		t.Fatalf("record = %+v", rec)
	}
	if v != nil {
		t.Fatal("no store means no verification")
	}
}

func TestVerifyFailsWhenNoSourceHasTheDay(t *testing.T) {
	uc := NewSettlementUseCase(fakeSettlements{err: errors.New("CLI not out yet")}, fakeStation{err: errors.New("DSM 404")},
		nil, newFakeMetrics(), testLogger(t))

	if _, _, err := uc.Verify(context.Background(), testCity(), testDate); err == nil {
		t.Fatal("want error when both the climate report and the summary are missing")
	}
}

func TestVerifyRejectsUnsettledDay(t *testing.T) {
	uc := NewSettlementUseCase(fakeSettlements{}, nil, nil, newFakeMetrics(), testLogger(t))
	loc, err := time.LoadLocation(testCity().Timezone)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	today := util.LocalDate(time.Now(), loc)
	_, _, err = uc.Verify(context.Background(), testCity(), today)
	if err == nil || !strings.Contains(err.Error(), "not settled") {
		t.Fatalf("err = %v, want a not-settled rejection for today", err)
	}
}

func TestVerifyWithoutStoredAnalysis(t *testing.T) {
	store := &fakeStore{}
	official := &models.SettlementRecord{City: "NYC", Date: testDate, High: 84, Source: "NWS CLI"}
	uc := NewSettlementUseCase(fakeSettlements{rec: official}, nil, store, newFakeMetrics(), testLogger(t))

	rec, v, err := uc.Verify(context.Background(), testCity(), testDate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec == nil || v != nil {
		t.Fatalf("rec=%v v=%v, want record with nil verification", rec, v)
	}
	stored := store.storedSettlements()
	if len(stored) != 1 || stored[0].v != nil {
		t.Fatalf("stored = %+v, want the unscored record persisted", stored)
	}
}

func TestBackfillScoresEveryRecord(t *testing.T) {
	store := &fakeStore{latest: storedAnalysisFixture()}
	recs := []models.SettlementRecord{
		{City: "NYC", Date: "2025-08-18", High: 83, Source: "NWS CLI"},
		{City: "NYC", Date: "2025-08-19", High: 85, Source: "NWS CLI"},
		{City: "NYC", Date: "2025-08-20", High: 87.5, Source: "NWS CLI"},
	}
	uc := NewSettlementUseCase(fakeSettlements{recs: recs}, nil, store, newFakeMetrics(), testLogger(t))

	out, err := uc.Backfill(context.Background(), testCity(), 3)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d records, want 3", len(out))
	}
	stored := store.storedSettlements()
	if len(stored) != 3 {
		t.Fatalf("stored %d settlements, want 3", len(stored))
	}
	for i, st := range stored {
		if st.v == nil {
			t.Fatalf("record %d not scored", i)
		}
		want := math.Abs(recs[i].High - 86.2)
		if math.Abs(st.v.AbsError-want) > 1e-6 {
			t.Fatalf("record %d abs error = %g, want %g", i, st.v.AbsError, want)
		}
	}
}

func TestBackfillPropagatesRangeFailure(t *testing.T) {
	uc := NewSettlementUseCase(fakeSettlements{err: errors.New("archive down")}, nil, nil,
		newFakeMetrics(), testLogger(t))
	if _, err := uc.Backfill(context.Background(), testCity(), 7); err == nil {
		t.Fatal("want range failure surfaced")
	}
}
