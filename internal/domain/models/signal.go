package models

import "time"

// BracketProbability pairs the model's probability for a bracket with what
// the market currently implies.
type BracketProbability struct {
	Bracket    MarketBracket
	ModelProb  float64
	MarketProb float64
	Edge       float64 // ModelProb - MarketProb, signed
}

// TradingSignal is an actionable mispricing: the model disagrees with the
// market by more than fees plus the minimum edge.
type TradingSignal struct {
	ID         string
	Bracket    MarketBracket
	Side       string // "YES" or "NO"
	ModelProb  float64
	MarketProb float64
	Edge       float64 // after fees
	Confidence float64 // [0, 1]
	Reasoning  string
	CreatedAt  time.Time
}

// MarketAnalysis is a full snapshot of one analysis run for a city and date.
type MarketAnalysis struct {
	City          string // city code, e.g. "NYC"
	Date          string // YYYY-MM-DD
	Forecasts     []TemperatureForecast
	Observation   *DailyObservation
	Brackets      []MarketBracket
	Probabilities []BracketProbability
	Signals       []TradingSignal
	ForecastMean  float64 // adjusted mean used for pricing
	ForecastStd   float64 // adjusted std used for pricing
	AnalyzedAt    time.Time
}
