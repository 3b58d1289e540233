package usecase

import (
	"context"
	"errors"
	"testing"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
)

func newSettlementJob(t *testing.T, source fakeSettlements, store domrepo.AnalysisStore) *SettlementVerifyJob {
	t.Helper()
	uc := NewSettlementUseCase(source, nil, store, newFakeMetrics(), testLogger(t))
	return NewSettlementVerifyJob(uc, []models.City{testCity()}, testLogger(t))
}

func TestSettlementJobIdentity(t *testing.T) {
	j := newSettlementJob(t, fakeSettlements{}, nil)
	if j.Name() != "SettlementVerifyJob" {
		t.Fatalf("name = %q", j.Name())
	}
	if j.Type() != TypeSettlementVerify {
		t.Fatalf("type = %q", j.Type())
	}
}

func TestSettlementJobVerifiesYesterdayByDefault(t *testing.T) {
	rec := &models.SettlementRecord{City: "NYC", High: 84.5, Source: "NWS CLI"}
	j := newSettlementJob(t, fakeSettlements{rec: rec}, nil)

	// Queue payloads arrive as JSON maps; city codes are matched
	// case-insensitively.
	err := j.Handle(context.Background(), map[string]interface{}{"city": "nyc"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestSettlementJobAcceptsTypedPayload(t *testing.T) {
	rec := &models.SettlementRecord{City: "NYC", Date: testDate, High: 84.5, Source: "NWS CLI"}
	j := newSettlementJob(t, fakeSettlements{rec: rec}, nil)

	err := j.Handle(context.Background(), SettlementVerifyPayload{City: "NYC", Date: testDate})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestSettlementJobBackfillsWindow(t *testing.T) {
	store := &fakeStore{}
	recs := []models.SettlementRecord{
		{City: "NYC", Date: "2025-08-19", High: 83, Source: "NWS CLI"},
		{City: "NYC", Date: "2025-08-20", High: 85, Source: "NWS CLI"},
	}
	j := newSettlementJob(t, fakeSettlements{recs: recs}, store)

	err := j.Handle(context.Background(), map[string]interface{}{"city": "NYC", "days": float64(3)})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := len(store.storedSettlements()); got != 2 {
		t.Fatalf("stored %d settlements, want 2", got)
	}
}

func TestSettlementJobRejectsUnknownCity(t *testing.T) {
	j := newSettlementJob(t, fakeSettlements{}, nil)
	if err := j.Handle(context.Background(), map[string]interface{}{"city": "ZZZ"}); err == nil {
		t.Fatal("unknown city accepted")
	}
}

func TestSettlementJobRejectsBadPayload(t *testing.T) {
	j := newSettlementJob(t, fakeSettlements{}, nil)
	if err := j.Handle(context.Background(), "not a payload"); err == nil {
		t.Fatal("bad payload accepted")
	}
}

func TestSettlementJobSurfacesVerifyFailureForRetry(t *testing.T) {
	j := newSettlementJob(t, fakeSettlements{err: errors.New("CLI not out yet")}, nil)

	err := j.Handle(context.Background(), SettlementVerifyPayload{City: "NYC", Date: testDate})
	if err == nil {
		t.Fatal("verify failure must surface so the queue retries")
	}
}
