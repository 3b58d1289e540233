package models

import "time"

// TemperatureForecast is one model's prediction of a city's daily high.
// Temperatures are Fahrenheit throughout.
type TemperatureForecast struct {
	Source     string // "NWS", "Open-Meteo Best Match", "GFS+HRRR", "Open-Meteo Ensemble", ...
	TargetDate string // YYYY-MM-DD in the city's time zone
	Mean       float64
	Low        float64 // ~10th percentile
	High       float64 // ~90th percentile
	StdDev     float64
	ModelRun   time.Time // zero when the source does not report it
	FetchedAt  time.Time
	Members    []float64 // ensemble member highs, nil for point forecasts
}

// CombinedForecast is the weighted blend of several model forecasts.
type CombinedForecast struct {
	TargetDate string
	Mean       float64
	StdDev     float64
	P10        float64
	P90        float64
	Sources    []string
	Weights    map[string]float64 // source -> normalized weight, sums to 1
	Forecasts  []TemperatureForecast
	CombinedAt time.Time
}

// SourceCount returns the number of forecasts blended in.
func (c *CombinedForecast) SourceCount() int {
	return len(c.Forecasts)
}

// AdjustedForecast is a combined forecast blended with same-day observations.
// As the afternoon progresses the observed high dominates the model blend.
type AdjustedForecast struct {
	Combined    *CombinedForecast
	Observation *DailyObservation // nil when no readings were available

	Mean   float64
	StdDev float64
	P10    float64
	P90    float64

	ObservationWeight float64 // [0, 0.95)
	ForecastWeight    float64 // 1 - ObservationWeight
	HoursPastNoon     float64 // local time of the blend, relative to noon
	ObservedHigh      float64 // the station high the blend used, 0 without readings

	// Hard bounds on where the day's high can still land.
	MinPossibleHigh float64
	MaxPossibleHigh float64

	AdjustedAt time.Time
}
