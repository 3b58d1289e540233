package models

import (
	"encoding/json"
	"fmt"
)

// bracketJSON is the stored wire shape of MarketBracket. The range interface
// flattens to a kind tag plus bounds so persisted payloads decode back into
// the closed set.
type bracketJSON struct {
	Ticker      string
	EventTicker string
	Subtitle    string
	Kind        string
	Lower       *float64 `json:",omitempty"`
	Upper       *float64 `json:",omitempty"`
	Threshold   *float64 `json:",omitempty"`
	YesBid      int
	YesAsk      int
	LastPrice   int
	Volume      int
	ImpliedProb float64
}

func (m MarketBracket) MarshalJSON() ([]byte, error) {
	w := bracketJSON{
		Ticker:      m.Ticker,
		EventTicker: m.EventTicker,
		Subtitle:    m.Subtitle,
		YesBid:      m.YesBid,
		YesAsk:      m.YesAsk,
		LastPrice:   m.LastPrice,
		Volume:      m.Volume,
		ImpliedProb: m.ImpliedProb,
	}
	switch r := m.Range.(type) {
	case nil:
	case Between:
		w.Kind = r.Kind()
		w.Lower = &r.Lower
		w.Upper = &r.Upper
	case GreaterThan:
		w.Kind = r.Kind()
		w.Threshold = &r.Threshold
	case LessThan:
		w.Kind = r.Kind()
		w.Threshold = &r.Threshold
	default:
		return nil, fmt.Errorf("unknown bracket range %T", m.Range)
	}
	return json.Marshal(w)
}

func (m *MarketBracket) UnmarshalJSON(b []byte) error {
	var w bracketJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = MarketBracket{
		Ticker:      w.Ticker,
		EventTicker: w.EventTicker,
		Subtitle:    w.Subtitle,
		YesBid:      w.YesBid,
		YesAsk:      w.YesAsk,
		LastPrice:   w.LastPrice,
		Volume:      w.Volume,
		ImpliedProb: w.ImpliedProb,
	}
	switch w.Kind {
	case "":
	case "between":
		if w.Lower == nil || w.Upper == nil {
			return fmt.Errorf("between bracket %s missing bounds", w.Ticker)
		}
		m.Range = Between{Lower: *w.Lower, Upper: *w.Upper}
	case "greater":
		if w.Threshold == nil {
			return fmt.Errorf("greater bracket %s missing threshold", w.Ticker)
		}
		m.Range = GreaterThan{Threshold: *w.Threshold}
	case "less":
		if w.Threshold == nil {
			return fmt.Errorf("less bracket %s missing threshold", w.Ticker)
		}
		m.Range = LessThan{Threshold: *w.Threshold}
	default:
		return fmt.Errorf("unknown bracket kind %q", w.Kind)
	}
	return nil
}
