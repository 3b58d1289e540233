package models

import "time"

// SettlementRecord is the official high (and low, when reported) for a past
// date, from the NWS climate report the market settles against or a fallback
// archive source.
type SettlementRecord struct {
	City        string // city code, e.g. "NYC"
	Date        string // YYYY-MM-DD
	High        float64
	Low         *float64 // nil when the source reports only the high
	Source      string   // "NWS CLI", "NWS DSM", or the archive fallback
	StationName string
	FetchedAt   time.Time
}

// SettlementVerification compares a stored analysis against the official
// settlement outcome.
type SettlementVerification struct {
	City           string
	Date           string
	OfficialHigh   float64
	ForecastMean   float64
	ForecastStd    float64
	AbsError       float64
	WithinOneSigma bool
	WinningTicker  string // bracket whose range contains the official high
	VerifiedAt     time.Time
}
