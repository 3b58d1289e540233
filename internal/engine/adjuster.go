package engine

import (
	"math"
	"time"

	"WxEdge/internal/domain/models"
	domsvc "WxEdge/internal/domain/service"
)

const (
	// EarlyCutoffHours splits the shallow early-afternoon ramp from the
	// steep one: before ~2pm local the high is usually still ahead.
	EarlyCutoffHours = 2.0
	// LateCutoffHours marks where the day's high is probably in: after
	// ~4pm local, observations dominate the models.
	LateCutoffHours = 4.0
	// MaxObservationWeight is an open ceiling: the weight approaches it
	// but never reaches it, leaving a sliver of forecast influence even
	// at midnight.
	MaxObservationWeight = 0.95
)

// Adjuster blends a combined forecast with the day's station observations.
// The later in the local afternoon, the more the observed high takes over.
type Adjuster struct {
	minStd float64
}

// AdjusterOption configures Adjuster.
type AdjusterOption func(*Adjuster)

// WithAdjusterMinStdDev overrides the post-adjustment std-dev floor.
func WithAdjusterMinStdDev(min float64) AdjusterOption {
	return func(a *Adjuster) {
		a.minStd = min
	}
}

// NewAdjuster creates an adjuster with the default std-dev floor.
func NewAdjuster(opts ...AdjusterOption) *Adjuster {
	a := &Adjuster{minStd: DefaultMinStdDev}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ObservationWeight maps hours past local noon to how much the observed high
// outweighs the forecast. Monotone non-decreasing, zero before noon, and
// asymptotic to MaxObservationWeight without ever reaching it.
func (a *Adjuster) ObservationWeight(hoursPastNoon float64) float64 {
	h := hoursPastNoon
	switch {
	case h < 0:
		return 0
	case h < EarlyCutoffHours:
		return 0.3 * h / EarlyCutoffHours
	case h < LateCutoffHours:
		return 0.3 + 0.5*(h-EarlyCutoffHours)/(LateCutoffHours-EarlyCutoffHours)
	default:
		return MaxObservationWeight - 0.15*math.Exp(-(h-LateCutoffHours)/4.0)
	}
}

// Adjust blends the combined forecast with the day's observation as of the
// given wall-clock time in the city's zone. A nil observation, or one with
// no readings, passes the combined values through at weight zero.
func (a *Adjuster) Adjust(combined *models.CombinedForecast, obs *models.DailyObservation, asOf time.Time, loc *time.Location) *models.AdjustedForecast {
	if combined == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	noon := localNoon(combined.TargetDate, loc)
	h := asOf.In(loc).Sub(noon).Hours()

	if obs == nil || len(obs.Readings) == 0 {
		return &models.AdjustedForecast{
			Combined:          combined,
			Mean:              combined.Mean,
			StdDev:            combined.StdDev,
			P10:               combined.P10,
			P90:               combined.P90,
			ObservationWeight: 0,
			ForecastWeight:    1,
			HoursPastNoon:     h,
			MinPossibleHigh:   combined.P10,
			MaxPossibleHigh:   combined.P90,
			AdjustedAt:        time.Now(),
		}
	}

	w := a.ObservationWeight(h)
	fw := 1 - w

	mean := fw*combined.Mean + w*obs.ObservedHigh
	if mean < obs.ObservedHigh {
		// The day's high cannot end up below what was already observed.
		mean = obs.ObservedHigh
	}

	var std float64
	if w > 0.5 {
		// Late in the day the remaining uncertainty is mostly about how
		// exact the station reading is, not what the models thought.
		stationStd := (obs.PlausibleHigh - obs.PlausibleLow) / 2
		std = fw*combined.StdDev + w*stationStd
	} else {
		// Early on, agreement between the observation and the blend
		// earns a modest shrink, up to 20% when they coincide.
		diff := math.Abs(obs.ObservedHigh - mean)
		shrink := 1 - 0.2*math.Max(0, 1-diff/4.0)
		std = combined.StdDev * shrink
	}
	if std < a.minStd {
		std = a.minStd
	}

	low := mean - z10*std
	if low < obs.PlausibleLow {
		low = obs.PlausibleLow
	}
	high := mean + z10*std
	if w > 0.7 {
		high = obs.PlausibleHigh + std
	}

	return &models.AdjustedForecast{
		Combined:          combined,
		Observation:       obs,
		Mean:              mean,
		StdDev:            std,
		P10:               low,
		P90:               high,
		ObservationWeight: w,
		ForecastWeight:    fw,
		HoursPastNoon:     h,
		ObservedHigh:      obs.ObservedHigh,
		MinPossibleHigh:   obs.PlausibleLow,
		MaxPossibleHigh:   math.Max(high, obs.PlausibleHigh),
		AdjustedAt:        time.Now(),
	}
}

// localNoon returns 12:00 of the civil date in loc. Unparseable dates fall
// back to today's noon so a bad date degrades to "no adjustment" rather
// than a panic.
func localNoon(date string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc)
}

var _ domsvc.ObservationAdjuster = (*Adjuster)(nil)
