package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"WxEdge/internal/domain/models"
	domsvc "WxEdge/internal/domain/service"
)

const (
	// DefaultMinStdDev floors the combined spread: tomorrow's high is never
	// known to better than ~1.5 F no matter how much the models agree.
	DefaultMinStdDev = 1.5
	// DefaultMaxStdDev caps the spread when models wildly disagree.
	DefaultMaxStdDev = 10.0

	// z10 is the z-score of the 10th/90th percentile of a normal.
	z10 = 1.28155

	defaultSourceWeight = 1.0
)

// defaultWeightOrder lists weight table keys most-trusted first. Substring
// matching walks this order, so "Open-Meteo GFS Seamless" resolves to
// "GFS" before "Open-Meteo Ensemble" ever gets a look.
var defaultWeightOrder = []string{
	"NWS",
	"ECMWF",
	"Open-Meteo Best Match",
	"GFS+HRRR",
	"GFS",
	"HRRR",
	"Open-Meteo Ensemble",
	"default",
}

func defaultWeights() map[string]float64 {
	return map[string]float64{
		"NWS":                   5.0,
		"ECMWF":                 4.0,
		"Open-Meteo Best Match": 3.5,
		"GFS+HRRR":              3.0,
		"GFS":                   2.5,
		"HRRR":                  2.5,
		"Open-Meteo Ensemble":   2.0,
		"default":               1.0,
	}
}

// Combiner blends per-model forecasts into one distribution. It carries no
// mutable state between calls; call-scoped weight overrides never stick.
type Combiner struct {
	weights map[string]float64
	order   []string
	minStd  float64
	maxStd  float64
}

// CombinerOption configures Combiner.
type CombinerOption func(*Combiner)

// WithWeights replaces the default source weight table. Lookup priority for
// substring matches is by descending weight, then name.
func WithWeights(weights map[string]float64) CombinerOption {
	return func(c *Combiner) {
		c.weights = copyWeights(weights)
		c.order = orderKeys(c.weights)
	}
}

// WithStdBounds overrides the std-dev floor and cap.
func WithStdBounds(min, max float64) CombinerOption {
	return func(c *Combiner) {
		c.minStd = min
		c.maxStd = max
	}
}

// NewCombiner creates a combiner with the default weight table and bounds.
func NewCombiner(opts ...CombinerOption) *Combiner {
	c := &Combiner{
		weights: defaultWeights(),
		order:   defaultWeightOrder,
		minStd:  DefaultMinStdDev,
		maxStd:  DefaultMaxStdDev,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Combine blends forecasts into a single distribution. Forecasts with NaN
// means are dropped; zero survivors yields nil rather than an error.
func (c *Combiner) Combine(forecasts []models.TemperatureForecast) *models.CombinedForecast {
	return c.combine(forecasts, c.weights, c.order)
}

// CombineWith blends with the given weights overlaid on the combiner's table
// for this call only. The combiner itself is never mutated, so a later
// Combine reproduces earlier results exactly.
func (c *Combiner) CombineWith(forecasts []models.TemperatureForecast, overrides map[string]float64) *models.CombinedForecast {
	merged := copyWeights(c.weights)
	for k, v := range overrides {
		merged[k] = v
	}

	order := make([]string, 0, len(merged))
	seen := make(map[string]bool, len(merged))
	for _, k := range c.order {
		if _, ok := merged[k]; ok {
			order = append(order, k)
			seen[k] = true
		}
	}
	extra := make([]string, 0)
	for k := range merged {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		if merged[extra[i]] != merged[extra[j]] {
			return merged[extra[i]] > merged[extra[j]]
		}
		return extra[i] < extra[j]
	})
	order = append(order, extra...)

	return c.combine(forecasts, merged, order)
}

func (c *Combiner) combine(forecasts []models.TemperatureForecast, weights map[string]float64, order []string) *models.CombinedForecast {
	survivors := make([]models.TemperatureForecast, 0, len(forecasts))
	for _, f := range forecasts {
		if math.IsNaN(f.Mean) {
			continue
		}
		survivors = append(survivors, f)
	}
	if len(survivors) == 0 {
		return nil
	}

	raw := make([]float64, len(survivors))
	total := 0.0
	for i, f := range survivors {
		raw[i] = weightFor(f.Source, weights, order)
		total += raw[i]
	}
	if total <= 0 {
		for i := range raw {
			raw[i] = 1
		}
		total = float64(len(raw))
	}

	mean := 0.0
	for i, f := range survivors {
		raw[i] /= total
		mean += raw[i] * f.Mean
	}

	// Pooled within-model variance plus the between-model disagreement term.
	variance := 0.0
	for i, f := range survivors {
		variance += raw[i] * f.StdDev * f.StdDev
		d := f.Mean - mean
		variance += raw[i] * d * d
	}

	std := math.Sqrt(variance)
	if std < c.minStd {
		std = c.minStd
	}
	if std > c.maxStd {
		std = c.maxStd
	}

	sources := make([]string, len(survivors))
	used := make(map[string]float64, len(survivors))
	for i, f := range survivors {
		sources[i] = f.Source
		used[f.Source] = raw[i]
	}

	return &models.CombinedForecast{
		TargetDate: survivors[0].TargetDate,
		Mean:       mean,
		StdDev:     std,
		P10:        mean - z10*std,
		P90:        mean + z10*std,
		Sources:    sources,
		Weights:    used,
		Forecasts:  survivors,
		CombinedAt: time.Now(),
	}
}

// weightFor resolves a source's weight: exact key first, then case-insensitive
// substring containment in either direction walking the priority order, then
// the table's default.
func weightFor(source string, weights map[string]float64, order []string) float64 {
	if w, ok := weights[source]; ok {
		return w
	}

	ls := strings.ToLower(source)
	for _, key := range order {
		lk := strings.ToLower(key)
		if strings.Contains(ls, lk) || strings.Contains(lk, ls) {
			return weights[key]
		}
	}

	if w, ok := weights["default"]; ok {
		return w
	}
	return defaultSourceWeight
}

func copyWeights(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func orderKeys(weights map[string]float64) []string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if weights[keys[i]] != weights[keys[j]] {
			return weights[keys[i]] > weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

var _ domsvc.ForecastCombiner = (*Combiner)(nil)
