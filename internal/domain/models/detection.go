package models

// Detection is the consolidated output of one edge-detection pass.
// Combined and Adjusted are nil when no forecast survived the blend.
// Note: no transport (json/http) concerns here.
type Detection struct {
	Combined      *CombinedForecast
	Adjusted      *AdjustedForecast
	Probabilities []BracketProbability
	Signals       []TradingSignal
}
