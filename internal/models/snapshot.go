package models

import (
	"fmt"
	"math"
	"time"
)

// MarketSnapshot is a point-in-time view of the underlying used to drive one tick.
type MarketSnapshot struct {
	Time   time.Time `json:"time"`
	Date   time.Time `json:"date,omitempty"` // set only for daily historical bars
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	High   float64   `json:"high,omitempty"`
	Low    float64   `json:"low,omitempty"`
	IV     float64   `json:"iv,omitempty"`  // implied volatility as decimal (0.18 = 18%)
	VIX    float64   `json:"vix,omitempty"` // volatility index in points
}

// Volatility returns the decimal volatility fed to the pricing model.
func (s MarketSnapshot) Volatility() float64 {
	if s.IV > 0 {
		return s.IV
	}
	return s.VIX / 100
}

// VolIndex returns the volatility index level used by the entry gate.
func (s MarketSnapshot) VolIndex() float64 {
	if s.VIX > 0 {
		return s.VIX
	}
	return s.IV * 100
}

// IsDaily reports whether the snapshot is a daily bar rather than an intraday print.
func (s MarketSnapshot) IsDaily() bool {
	return !s.Date.IsZero()
}

// Validate checks that the snapshot can drive a tick.
func (s MarketSnapshot) Validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("snapshot time is required")
	}
	if s.Price <= 0 || math.IsNaN(s.Price) || math.IsInf(s.Price, 0) {
		return fmt.Errorf("snapshot price must be a positive finite number, got %v", s.Price)
	}
	return nil
}

// OptionQuote is one row of an option chain.
type OptionQuote struct {
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
	Bid        float64    `json:"bid"`
	Ask        float64    `json:"ask"`
	Last       float64    `json:"last"`
	IV         float64    `json:"iv"`
	Delta      float64    `json:"delta"`
}

// CalendarDays returns the signed number of calendar days from one date to
// another, ignoring time of day. Each side uses its own location's date.
func CalendarDays(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(t.Sub(f).Hours() / 24))
}
