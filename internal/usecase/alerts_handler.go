package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	domrepo "WxEdge/internal/domain/repository"
	pkgkafka "WxEdge/pkg/kafka"
	"WxEdge/pkg/logger"
)

// SignalAlertsHandler consumes published signals and surfaces the ones worth
// acting on. Low-confidence signals are dropped, and repeats for the same
// bracket and side are suppressed for a cooldown window.
type SignalAlertsHandler struct {
	topic         string
	metrics       domrepo.Metrics
	log           *logger.Logger
	minConfidence float64
	cooldown      time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time // ticker:side -> last alert time
}

func NewSignalAlertsHandler(topic string, minConfidence float64, cooldown time.Duration, metrics domrepo.Metrics, log *logger.Logger) *SignalAlertsHandler {
	return &SignalAlertsHandler{
		topic:         topic,
		metrics:       metrics,
		log:           log,
		minConfidence: minConfidence,
		cooldown:      cooldown,
		lastSent:      make(map[string]time.Time),
	}
}

func (h *SignalAlertsHandler) Topic() string { return h.topic }

// incoming message schema matches the kafka signal publisher
func (h *SignalAlertsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		ID         string  `json:"id"`
		Ticker     string  `json:"ticker"`
		Subtitle   string  `json:"subtitle"`
		Side       string  `json:"side"`
		ModelProb  float64 `json:"model_prob"`
		MarketProb float64 `json:"market_prob"`
		Edge       float64 `json:"edge"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
		CreatedAt  int64   `json:"created_at"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.Ticker == "" || (m.Side != "YES" && m.Side != "NO") {
		h.metrics.RecordError("consumer_invalid_signal")
		return fmt.Errorf("invalid signal: ticker=%q side=%q", m.Ticker, m.Side)
	}
	if m.CreatedAt > 0 {
		h.metrics.RecordLatency("alert_e2e_seconds", time.Since(time.Unix(m.CreatedAt, 0)).Seconds())
	}

	if m.Confidence < h.minConfidence {
		h.log.Debug("signal below confidence floor",
			logger.String("ticker", m.Ticker),
			logger.Float64("confidence", m.Confidence))
		return nil
	}
	if !h.allow(m.Ticker, m.Side) {
		h.metrics.RecordError("alert_cooldown")
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "%s %s", m.Side, m.Ticker)
	if m.Subtitle != "" {
		fmt.Fprintf(&msg, " (%s)", m.Subtitle)
	}
	fmt.Fprintf(&msg, " edge %.1f%% conf %.0f%%", m.Edge*100, m.Confidence*100)

	h.log.Info("trade alert",
		logger.String("alert", msg.String()),
		logger.String("id", m.ID),
		logger.String("ticker", m.Ticker),
		logger.String("side", m.Side),
		logger.Float64("model_prob", m.ModelProb),
		logger.Float64("market_prob", m.MarketProb),
		logger.Float64("edge", m.Edge),
		logger.Float64("confidence", m.Confidence),
		logger.String("reasoning", m.Reasoning))
	h.metrics.RecordMessageSent("alerts", m.Ticker)
	return nil
}

// allow checks and updates the per-bracket cooldown window.
func (h *SignalAlertsHandler) allow(ticker, side string) bool {
	if h.cooldown <= 0 {
		return true
	}
	key := ticker + ":" + side
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastSent[key]; ok && now.Sub(last) < h.cooldown {
		return false
	}
	h.lastSent[key] = now
	return true
}

var _ pkgkafka.MessageHandler = (*SignalAlertsHandler)(nil)
