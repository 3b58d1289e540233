package service

import (
	"time"

	"WxEdge/internal/domain/models"
)

// ForecastCombiner blends independent model forecasts into one distribution.
type ForecastCombiner interface {
	Combine(forecasts []models.TemperatureForecast) *models.CombinedForecast
	CombineWith(forecasts []models.TemperatureForecast, weights map[string]float64) *models.CombinedForecast
}

// ObservationAdjuster folds same-day station readings into a combined
// forecast based on the local time of day.
type ObservationAdjuster interface {
	Adjust(combined *models.CombinedForecast, obs *models.DailyObservation, asOf time.Time, loc *time.Location) *models.AdjustedForecast
}

// BracketPricer computes per-bracket win probabilities from a forecast
// distribution.
type BracketPricer interface {
	Probability(r models.BracketRange, mean, std float64) float64
	Probabilities(brackets []models.MarketBracket, mean, std float64) []models.BracketProbability
}

// EdgeDetector runs the full pipeline and scans both sides of every bracket
// for post-fee mispricings.
type EdgeDetector interface {
	Detect(forecasts []models.TemperatureForecast, obs *models.DailyObservation, brackets []models.MarketBracket, asOf time.Time, loc *time.Location) *models.Detection
	DetectWith(forecasts []models.TemperatureForecast, obs *models.DailyObservation, brackets []models.MarketBracket, asOf time.Time, loc *time.Location, minEdge float64) *models.Detection
}
