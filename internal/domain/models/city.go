package models

import (
	"fmt"
	"sort"
	"strings"
)

// City holds everything needed to analyze one city's temperature markets.
type City struct {
	Name       string // display name, e.g. "New York City"
	Code       string // short code, e.g. "NYC"
	StationID  string // NWS station, e.g. "KNYC" (Central Park)
	Latitude   float64
	Longitude  float64
	Timezone   string // IANA name, e.g. "America/New_York"
	HighTicker string // Kalshi series for daily high markets
	LowTicker  string // Kalshi series for daily low markets
	WFO        string // NWS forecast office issuing the climate report
}

// DefaultCities returns the built-in registry. More cities come from config.
func DefaultCities() []City {
	return []City{
		{
			Name:       "New York City",
			Code:       "NYC",
			StationID:  "KNYC",
			Latitude:   40.7829,
			Longitude:  -73.9654,
			Timezone:   "America/New_York",
			HighTicker: "KXHIGHNY",
			LowTicker:  "KXLOWNY",
			WFO:        "okx",
		},
	}
}

// CityByCode finds a city by its code, case-insensitively.
func CityByCode(cities []City, code string) (City, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range cities {
		if c.Code == code {
			return c, nil
		}
	}

	available := make([]string, 0, len(cities))
	for _, c := range cities {
		available = append(available, c.Code)
	}
	sort.Strings(available)
	return City{}, fmt.Errorf("unknown city %q, available: %s", code, strings.Join(available, ", "))
}
