package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"WxEdge/internal/domain/models"
	domsvc "WxEdge/internal/domain/service"

	"github.com/google/uuid"
)

const (
	// DefaultMinEdge is the minimum post-fee edge worth signaling.
	DefaultMinEdge = 0.08
	// DefaultFeeRate approximates Kalshi's all-in round trip cost.
	DefaultFeeRate = 0.10
)

// Detector runs the full pricing pipeline: combine forecasts, adjust for
// observations, price the brackets, and scan both sides of every book for
// post-fee mispricings.
type Detector struct {
	combiner *Combiner
	adjuster *Adjuster
	calc     Calculator
	minEdge  float64
	fee      float64
}

// DetectorOption configures Detector.
type DetectorOption func(*Detector)

// WithMinEdge sets the signal threshold.
func WithMinEdge(minEdge float64) DetectorOption {
	return func(d *Detector) {
		d.minEdge = minEdge
	}
}

// WithFeeRate sets the assumed round-trip fee rate.
func WithFeeRate(fee float64) DetectorOption {
	return func(d *Detector) {
		d.fee = fee
	}
}

// WithCombiner replaces the default combiner.
func WithCombiner(c *Combiner) DetectorOption {
	return func(d *Detector) {
		d.combiner = c
	}
}

// WithAdjuster replaces the default adjuster.
func WithAdjuster(a *Adjuster) DetectorOption {
	return func(d *Detector) {
		d.adjuster = a
	}
}

// NewDetector creates a detector with default combiner, adjuster, and
// thresholds.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		combiner: NewCombiner(),
		adjuster: NewAdjuster(),
		calc:     NewCalculator(),
		minEdge:  DefaultMinEdge,
		fee:      DefaultFeeRate,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect runs the pipeline with the detector's configured threshold.
func (d *Detector) Detect(forecasts []models.TemperatureForecast, obs *models.DailyObservation, brackets []models.MarketBracket, asOf time.Time, loc *time.Location) *models.Detection {
	return d.DetectWith(forecasts, obs, brackets, asOf, loc, d.minEdge)
}

// DetectWith runs the pipeline with a call-scoped minimum edge. Empty
// forecasts or brackets short-circuit to an empty result, as does a combine
// that leaves no usable forecast.
func (d *Detector) DetectWith(forecasts []models.TemperatureForecast, obs *models.DailyObservation, brackets []models.MarketBracket, asOf time.Time, loc *time.Location, minEdge float64) *models.Detection {
	res := &models.Detection{Signals: []models.TradingSignal{}}
	if len(forecasts) == 0 || len(brackets) == 0 {
		return res
	}

	combined := d.combiner.Combine(forecasts)
	if combined == nil {
		return res
	}
	res.Combined = combined

	adjusted := d.adjuster.Adjust(combined, obs, asOf, loc)
	res.Adjusted = adjusted

	res.Probabilities = d.calc.Probabilities(brackets, adjusted.Mean, adjusted.StdDev)

	for _, bp := range res.Probabilities {
		b := bp.Bracket

		// Long: buy YES at the ask.
		if entry := float64(b.YesAsk) / 100; entry > 0 && entry < 1 {
			cost := entry / (1 - d.fee)
			edge := bp.ModelProb - cost
			if edge > minEdge {
				res.Signals = append(res.Signals, models.TradingSignal{
					ID:         uuid.NewString(),
					Bracket:    b,
					Side:       "YES",
					ModelProb:  bp.ModelProb,
					MarketProb: bp.MarketProb,
					Edge:       edge,
					Confidence: confidence(edge, adjusted.StdDev),
					Reasoning: fmt.Sprintf("Model (%.1f%%) > Market Ask (%.1f%%) + Fees. Model Mean: %.1f F",
						bp.ModelProb*100, entry*100, adjusted.Mean),
					CreatedAt: time.Now(),
				})
			}
		}

		// Short: buy NO, priced off the YES bid.
		if noPrice := 1 - float64(b.YesBid)/100; noPrice > 0 && noPrice < 1 {
			cost := noPrice / (1 - d.fee)
			edge := (1 - bp.ModelProb) - cost
			if edge > minEdge {
				res.Signals = append(res.Signals, models.TradingSignal{
					ID:         uuid.NewString(),
					Bracket:    b,
					Side:       "NO",
					ModelProb:  bp.ModelProb,
					MarketProb: bp.MarketProb,
					Edge:       edge,
					Confidence: confidence(edge, adjusted.StdDev),
					Reasoning: fmt.Sprintf("Model NO (%.1f%%) > Implied Market NO (%.1f%%) + Fees. Model Mean: %.1f F",
						(1-bp.ModelProb)*100, noPrice*100, adjusted.Mean),
					CreatedAt: time.Now(),
				})
			}
		}
	}

	sort.SliceStable(res.Signals, func(i, j int) bool {
		return res.Signals[i].Edge > res.Signals[j].Edge
	})
	return res
}

// confidence averages an edge score (0.05 edge -> 0.5, 0.20 -> 1.0) with an
// uncertainty score (1.5 F std -> 1.0, 5.0 F -> 0.5), both clamped to [0, 1].
func confidence(edge, std float64) float64 {
	edgeScore := (edge-0.05)/0.15*0.5 + 0.5
	edgeScore = math.Min(1, math.Max(0, edgeScore))

	uncScore := 1 - (std-DefaultMinStdDev)/3.5*0.5
	uncScore = math.Max(0, math.Min(1, uncScore))

	return (edgeScore + uncScore) / 2
}

var _ domsvc.EdgeDetector = (*Detector)(nil)
