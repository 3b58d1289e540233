package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the civil date format used throughout the service.
const DateLayout = "2006-01-02"

// tickerDateLayout matches the date suffix Kalshi embeds in event tickers,
// rendered uppercase (e.g. 26JAN20 for 2026-01-20).
const tickerDateLayout = "06Jan02"

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// FormatDate renders t as a YYYY-MM-DD civil date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// LocalDate returns t's civil date in the given location.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// TickerDate renders a date as a Kalshi event ticker suffix, e.g. 26JAN20.
func TickerDate(t time.Time) string {
	return strings.ToUpper(t.Format(tickerDateLayout))
}

// ParseTickerDate parses a 26JAN20-style ticker suffix back into a date.
// Kalshi tickers are uppercase, so the month is case-folded before parsing.
func ParseTickerDate(s string) (time.Time, error) {
	if len(s) != 7 {
		return time.Time{}, fmt.Errorf("ticker date %q: want 7 characters", s)
	}
	norm := s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
	t, err := time.Parse(tickerDateLayout, norm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ticker date %q: %w", s, err)
	}
	return t, nil
}
