package models

import "time"

// StationKind classifies a station's reporting cadence, which drives how much
// the reported temperature can differ from the true continuous high.
type StationKind string

const (
	StationFiveMinute StationKind = "five_minute"
	StationHourly     StationKind = "hourly"
	StationUnknown    StationKind = "unknown"
)

// StationReading is a single temperature observation from an NWS station.
type StationReading struct {
	StationID string
	Timestamp time.Time
	Kind      StationKind
	TempF     float64  // rounded to 0.1
	TempC     *float64 // set when the source reported Celsius
	// The true temperature at reading time, given sensor rounding and
	// reporting cadence, lies within [PossibleLow, PossibleHigh].
	PossibleLow  float64
	PossibleHigh float64
}

// DailyObservation summarizes a station's readings for one local calendar day.
type DailyObservation struct {
	StationID    string
	Date         string // YYYY-MM-DD local
	ObservedHigh float64
	// The day's true high so far lies within [PlausibleLow, PlausibleHigh]:
	// at least the observed high minus rounding, at most the highest possible
	// reading plus what could have happened between readings.
	PlausibleLow  float64
	PlausibleHigh float64
	Readings      []StationReading
	UpdatedAt     time.Time
}
