package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"WxEdge/internal/domain/models"
)

type procStub struct {
	mu  sync.Mutex
	got []*models.PriceUpdate
	err error
}

func (p *procStub) Process(ctx context.Context, u *models.PriceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, u)
	return nil
}

func (p *procStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func (p *procStub) last() *models.PriceUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.got) == 0 {
		return nil
	}
	return p.got[len(p.got)-1]
}

func (p *procStub) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type countMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountMetrics() *countMetrics {
	return &countMetrics{counts: make(map[string]int)}
}

func (m *countMetrics) bump(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *countMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *countMetrics) RecordForecastFetch(source, city string) { m.bump("fetch") }

func (m *countMetrics) RecordError(kind string) { m.bump("error:" + kind) }

func (m *countMetrics) RecordForecast(city string, mean, std float64) { m.bump("forecast") }

func (m *countMetrics) RecordObservedHigh(city string, highF float64) { m.bump("observed") }

func (m *countMetrics) RecordSignal(city, side string, edge float64) { m.bump("signal") }

func (m *countMetrics) RecordMessageSent(backend, city string) { m.bump("sent") }

func (m *countMetrics) RecordLatency(op string, seconds float64) { m.bump("latency:" + op) }

func quote(ticker string) *models.PriceUpdate {
	return &models.PriceUpdate{
		Ticker:    ticker,
		YesBid:    40,
		YesAsk:    50,
		LastPrice: 45,
		Volume:    10,
		Timestamp: time.Now(),
	}
}

func TestPipelineForwardsValidUpdate(t *testing.T) {
	proc := &procStub{}
	m := newCountMetrics()
	p := NewPricePipeline(proc, m)

	if err := p.Process(context.Background(), quote("KXHIGHNY-25AUG20-B86")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("downstream got %d updates, want 1", proc.count())
	}
	if m.count("latency:pipeline_process") != 1 {
		t.Fatal("process latency not recorded")
	}
}

func TestPipelineRejectsInvalidUpdates(t *testing.T) {
	proc := &procStub{}
	m := newCountMetrics()
	p := NewPricePipeline(proc, m)
	ctx := context.Background()

	noTicker := quote("")
	stale := quote("T")
	stale.Timestamp = time.Time{}
	wildBid := quote("T")
	wildBid.YesBid = 120
	wildAsk := quote("T")
	wildAsk.YesAsk = -3
	negVolume := quote("T")
	negVolume.Volume = -1

	bad := []*models.PriceUpdate{nil, noTicker, stale, wildBid, wildAsk, negVolume}
	for i, u := range bad {
		if err := p.Process(ctx, u); err == nil {
			t.Fatalf("case %d accepted", i)
		}
	}
	if proc.count() != 0 {
		t.Fatalf("downstream got %d updates, want none", proc.count())
	}
	if m.count("error:pipeline_validate") != len(bad) {
		t.Fatalf("validate errors = %d, want %d", m.count("error:pipeline_validate"), len(bad))
	}
}

func TestPipelineThrottlesPerTicker(t *testing.T) {
	proc := &procStub{}
	m := newCountMetrics()
	p := NewPricePipeline(proc, m, WithMaxRPS(1))
	ctx := context.Background()

	if err := p.Process(ctx, quote("A")); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Second update inside the same second drops silently.
	if err := p.Process(ctx, quote("A")); err != nil {
		t.Fatalf("throttled update returned %v, want nil", err)
	}
	if proc.count() != 1 {
		t.Fatalf("downstream got %d updates, want the repeat dropped", proc.count())
	}
	if m.count("error:pipeline_throttle") != 1 {
		t.Fatalf("throttle drops = %d, want 1", m.count("error:pipeline_throttle"))
	}

	// The window is per ticker.
	if err := p.Process(ctx, quote("B")); err != nil {
		t.Fatalf("other ticker: %v", err)
	}
	if proc.count() != 2 {
		t.Fatalf("downstream got %d updates, want 2", proc.count())
	}
}

func TestPipelineBuffersWhenDownstreamFails(t *testing.T) {
	proc := &procStub{err: errors.New("cache down")}
	m := newCountMetrics()
	p := NewPricePipeline(proc, m, WithMaxRPS(1000), WithBufferSize(1))
	ctx := context.Background()

	err := p.Process(ctx, quote("A"))
	if err == nil || !strings.Contains(err.Error(), "pipeline downstream") {
		t.Fatalf("err = %v, want the downstream failure wrapped", err)
	}
	if m.count("error:pipeline_process") != 1 {
		t.Fatal("downstream failure not counted")
	}

	// Buffer holds one; the next failure has nowhere to go.
	if err := p.Process(ctx, quote("B")); err == nil {
		t.Fatal("second failure should still error")
	}
	if m.count("error:pipeline_buffer_full") != 1 {
		t.Fatalf("buffer-full drops = %d, want 1", m.count("error:pipeline_buffer_full"))
	}

	// Once the downstream recovers, the flusher drains the buffered update.
	proc.setErr(nil)
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("buffered update never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := proc.last(); got == nil || got.Ticker != "A" {
		t.Fatalf("flushed %+v, want the buffered A quote", got)
	}
}

func TestPipelineTransformRewritesUpdates(t *testing.T) {
	proc := &procStub{}
	m := newCountMetrics()
	p := NewPricePipeline(proc, m, WithTransform(func(u *models.PriceUpdate) *models.PriceUpdate {
		u.YesAsk = 60
		return u
	}))

	if err := p.Process(context.Background(), quote("A")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := proc.last(); got == nil || got.YesAsk != 60 {
		t.Fatalf("downstream saw %+v, want the transformed ask", got)
	}
}

func TestPipelineRejectsInvalidTransformOutput(t *testing.T) {
	proc := &procStub{}
	m := newCountMetrics()
	p := NewPricePipeline(proc, m, WithTransform(func(u *models.PriceUpdate) *models.PriceUpdate {
		return nil
	}))

	if err := p.Process(context.Background(), quote("A")); err == nil {
		t.Fatal("nil transform output accepted")
	}
	if m.count("error:pipeline_transform_invalid") != 1 {
		t.Fatal("transform rejection not counted")
	}
	if proc.count() != 0 {
		t.Fatal("nothing should reach the downstream")
	}
}
