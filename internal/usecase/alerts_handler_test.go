package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func signalMsg(t *testing.T, ticker, side string, confidence float64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":          "0c9d1f2e",
		"ticker":      ticker,
		"subtitle":    "85 to 86",
		"side":        side,
		"model_prob":  0.62,
		"market_prob": 0.45,
		"edge":        0.12,
		"confidence":  confidence,
		"reasoning":   "Model (62.0%) > Market Ask (45.0%) + Fees",
		"created_at":  time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("marshal signal: %v", err)
	}
	return b
}

func TestAlertsHandlerFiresOnStrongSignal(t *testing.T) {
	m := newFakeMetrics()
	h := NewSignalAlertsHandler("wxedge.signals", 0.5, time.Hour, m, testLogger(t))

	if got := h.Topic(); got != "wxedge.signals" {
		t.Fatalf("topic = %q", got)
	}
	if err := h.Handle(context.Background(), signalMsg(t, "KXHIGHNY-25AUG20-B86", "YES", 0.8)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if m.count("sent:alerts") != 1 {
		t.Fatalf("alerts sent = %d, want 1", m.count("sent:alerts"))
	}
}

func TestAlertsHandlerDropsLowConfidence(t *testing.T) {
	m := newFakeMetrics()
	h := NewSignalAlertsHandler("wxedge.signals", 0.5, time.Hour, m, testLogger(t))

	if err := h.Handle(context.Background(), signalMsg(t, "KXHIGHNY-25AUG20-B86", "YES", 0.3)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if m.count("sent:alerts") != 0 {
		t.Fatal("low-confidence signal should be dropped, not alerted")
	}
}

func TestAlertsHandlerCooldownSuppressesRepeats(t *testing.T) {
	m := newFakeMetrics()
	h := NewSignalAlertsHandler("wxedge.signals", 0.5, time.Hour, m, testLogger(t))
	ctx := context.Background()

	if err := h.Handle(ctx, signalMsg(t, "KXHIGHNY-25AUG20-B86", "YES", 0.8)); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := h.Handle(ctx, signalMsg(t, "KXHIGHNY-25AUG20-B86", "YES", 0.8)); err != nil {
		t.Fatalf("repeat Handle: %v", err)
	}
	if m.count("sent:alerts") != 1 {
		t.Fatalf("alerts sent = %d, want the repeat suppressed", m.count("sent:alerts"))
	}
	if m.count("error:alert_cooldown") != 1 {
		t.Fatalf("cooldown drops = %d, want 1", m.count("error:alert_cooldown"))
	}

	// The window is keyed per side; the NO side of the same bracket passes.
	if err := h.Handle(ctx, signalMsg(t, "KXHIGHNY-25AUG20-B86", "NO", 0.8)); err != nil {
		t.Fatalf("NO-side Handle: %v", err)
	}
	if m.count("sent:alerts") != 2 {
		t.Fatalf("alerts sent = %d, want 2", m.count("sent:alerts"))
	}
}

func TestAlertsHandlerZeroCooldownAlwaysSends(t *testing.T) {
	m := newFakeMetrics()
	h := NewSignalAlertsHandler("wxedge.signals", 0.5, 0, m, testLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.Handle(ctx, signalMsg(t, "KXHIGHNY-25AUG20-B86", "YES", 0.8)); err != nil {
			t.Fatalf("Handle %d: %v", i, err)
		}
	}
	if m.count("sent:alerts") != 2 {
		t.Fatalf("alerts sent = %d, want 2 with cooldown disabled", m.count("sent:alerts"))
	}
}

func TestAlertsHandlerRejectsBadMessages(t *testing.T) {
	m := newFakeMetrics()
	h := NewSignalAlertsHandler("wxedge.signals", 0.5, time.Hour, m, testLogger(t))
	ctx := context.Background()

	if err := h.Handle(ctx, []byte("not json")); err == nil {
		t.Fatal("malformed payload accepted")
	}
	if m.count("error:consumer_unmarshal") != 1 {
		t.Fatalf("unmarshal errors = %d, want 1", m.count("error:consumer_unmarshal"))
	}

	if err := h.Handle(ctx, signalMsg(t, "KXHIGHNY-25AUG20-B86", "HOLD", 0.8)); err == nil {
		t.Fatal("unknown side accepted")
	}
	if err := h.Handle(ctx, signalMsg(t, "", "YES", 0.8)); err == nil {
		t.Fatal("empty ticker accepted")
	}
	if m.count("error:consumer_invalid_signal") != 2 {
		t.Fatalf("invalid-signal errors = %d, want 2", m.count("error:consumer_invalid_signal"))
	}
	if m.count("sent:alerts") != 0 {
		t.Fatal("bad messages must not alert")
	}
}
