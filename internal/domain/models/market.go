package models

import (
	"fmt"
	"time"
)

// BracketRange is the temperature range a Kalshi bracket settles on. Exactly
// three shapes exist; the unexported method keeps the set closed so code
// switching on the concrete type cannot miss a case added elsewhere.
type BracketRange interface {
	// Contains reports whether a settled high lands in this bracket.
	Contains(tempF float64) bool
	// SortKey orders brackets from coldest to warmest.
	SortKey() float64
	Kind() string
	String() string

	bracketRange()
}

// Between settles YES when lower <= high <= upper, inclusive on both ends.
type Between struct {
	Lower float64
	Upper float64
}

func (b Between) Contains(tempF float64) bool { return tempF >= b.Lower && tempF <= b.Upper }
func (b Between) SortKey() float64            { return b.Lower }
func (b Between) Kind() string                { return "between" }
func (b Between) String() string              { return fmt.Sprintf("%g to %g", b.Lower, b.Upper) }
func (b Between) bracketRange()               {}

// GreaterThan settles YES when the high is strictly above the threshold.
type GreaterThan struct {
	Threshold float64
}

func (g GreaterThan) Contains(tempF float64) bool { return tempF > g.Threshold }
func (g GreaterThan) SortKey() float64            { return g.Threshold }
func (g GreaterThan) Kind() string                { return "greater" }
func (g GreaterThan) String() string              { return fmt.Sprintf("above %g", g.Threshold) }
func (g GreaterThan) bracketRange()               {}

// LessThan settles YES when the high is strictly below the threshold.
type LessThan struct {
	Threshold float64
}

func (l LessThan) Contains(tempF float64) bool { return tempF < l.Threshold }
func (l LessThan) SortKey() float64            { return l.Threshold }
func (l LessThan) Kind() string                { return "less" }
func (l LessThan) String() string              { return fmt.Sprintf("below %g", l.Threshold) }
func (l LessThan) bracketRange()               {}

// MarketBracket is one tradeable temperature bracket on Kalshi.
// Prices are integer cents in [0, 100].
type MarketBracket struct {
	Ticker      string
	EventTicker string
	Subtitle    string // raw market subtitle the range was parsed from
	Range       BracketRange
	YesBid      int
	YesAsk      int
	LastPrice   int
	Volume      int
	ImpliedProb float64 // bid/ask mid as probability
}

// MarketStatus reports whether the exchange is accepting trades.
type MarketStatus struct {
	ExchangeActive bool
	TradingActive  bool
	CheckedAt      time.Time
}

// PriceUpdate is a live quote change for one bracket, pushed by the market
// data stream.
type PriceUpdate struct {
	Ticker    string
	YesBid    int
	YesAsk    int
	LastPrice int
	Volume    int
	Timestamp time.Time
}

// ImpliedProbability derives the market's probability from bid/ask cents.
// Degenerate books collapse to the boundary: no quotes at all reads as 0,
// a side pinned at 100 reads as 1.
func ImpliedProbability(yesBid, yesAsk int) float64 {
	if yesBid == 0 && yesAsk == 0 {
		return 0
	}
	if yesBid >= 100 || yesAsk >= 100 {
		return 1
	}
	mid := (float64(yesBid) + float64(yesAsk)) / 2
	return mid / 100
}
