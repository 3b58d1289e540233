package engine

import (
	"math"

	"WxEdge/internal/domain/models"
	domsvc "WxEdge/internal/domain/service"
)

// Model probabilities are clamped to [0.001, 0.999]; no outcome is ever
// priced as impossible or certain.
const (
	minProbability = 0.001
	maxProbability = 0.999
)

// Calculator prices brackets against a normal distribution over the daily
// high. Markets settle on whole degrees, so every comparison gets a half
// degree continuity correction.
type Calculator struct{}

// NewCalculator creates a bracket probability calculator.
func NewCalculator() Calculator {
	return Calculator{}
}

// normalCDF is P(X <= x) for X ~ N(mean, std). A non-positive std collapses
// to a step function at the mean.
func normalCDF(x, mean, std float64) float64 {
	if std <= 0 {
		if x >= mean {
			return 1
		}
		return 0
	}
	return 0.5 * (1 + math.Erf((x-mean)/(std*math.Sqrt2)))
}

// Probability returns the chance the settled high lands in the given range.
// An unknown or nil range prices to zero, unclamped.
func (Calculator) Probability(r models.BracketRange, mean, std float64) float64 {
	var p float64
	switch v := r.(type) {
	case models.Between:
		p = normalCDF(v.Upper+0.5, mean, std) - normalCDF(v.Lower-0.5, mean, std)
	case models.GreaterThan:
		p = 1 - normalCDF(v.Threshold+0.5, mean, std)
	case models.LessThan:
		p = normalCDF(v.Threshold-0.5, mean, std)
	default:
		return 0
	}

	if p < minProbability {
		p = minProbability
	}
	if p > maxProbability {
		p = maxProbability
	}
	return p
}

// Probabilities prices every bracket, preserving input order, pairing each
// model probability with the market's implied one.
func (c Calculator) Probabilities(brackets []models.MarketBracket, mean, std float64) []models.BracketProbability {
	out := make([]models.BracketProbability, 0, len(brackets))
	for _, b := range brackets {
		model := c.Probability(b.Range, mean, std)
		out = append(out, models.BracketProbability{
			Bracket:    b,
			ModelProb:  model,
			MarketProb: b.ImpliedProb,
			Edge:       model - b.ImpliedProb,
		})
	}
	return out
}

var _ domsvc.BracketPricer = Calculator{}
