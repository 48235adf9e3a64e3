// Package strategy implements the iron condor decision engine: entry
// selection, exit rules and the position lifecycle, driven one tick at a time.
package strategy

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the strategy parameters the engine trades with.
type Config struct {
	Location        *time.Location // schedule timezone, UTC when nil
	Symbol          string
	EntryStart      string // HH:MM, inclusive; empty means no bound
	EntryEnd        string // HH:MM, inclusive; empty means no bound
	EntryDays       []time.Weekday
	ShortPutDelta   float64 // negative, e.g. -0.16
	ShortCallDelta  float64
	WingWidth       float64
	MinCredit       float64
	ProfitTargetPct float64 // 0 disables the profit target
	StopLossPct     float64
	TickSize        float64
	InitialEquity   float64
	TickTimeout     time.Duration // bounds every gateway call in one tick; 0 means no bound
	TargetDTEMin    int
	TargetDTEMax    int
	DTEExit         int
	MaxPositions    int
	Contracts       int
}

// DefaultConfig returns the 16-delta, 5-wide, 30-45 DTE setup.
func DefaultConfig() Config {
	return Config{
		Location:        time.UTC,
		Symbol:          "SPY",
		EntryStart:      "09:45",
		EntryEnd:        "15:45",
		EntryDays:       []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		ShortPutDelta:   -0.16,
		ShortCallDelta:  0.16,
		WingWidth:       5,
		MinCredit:       0.80,
		ProfitTargetPct: 50,
		StopLossPct:     200,
		TickSize:        0.01,
		InitialEquity:   100000,
		TickTimeout:     30 * time.Second,
		TargetDTEMin:    30,
		TargetDTEMax:    45,
		DTEExit:         21,
		MaxPositions:    1,
		Contracts:       1,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if c.ShortPutDelta <= -1 || c.ShortPutDelta >= 0 {
		errs = append(errs, fmt.Errorf("short put delta must be in (-1, 0), got %.3f", c.ShortPutDelta))
	}
	if c.ShortCallDelta <= 0 || c.ShortCallDelta >= 1 {
		errs = append(errs, fmt.Errorf("short call delta must be in (0, 1), got %.3f", c.ShortCallDelta))
	}
	if c.WingWidth <= 0 {
		errs = append(errs, fmt.Errorf("wing width must be > 0, got %.2f", c.WingWidth))
	}
	if c.TargetDTEMin < 0 || c.TargetDTEMax < c.TargetDTEMin {
		errs = append(errs, fmt.Errorf("target DTE window [%d, %d] is invalid", c.TargetDTEMin, c.TargetDTEMax))
	}
	if c.DTEExit < 0 || (c.TargetDTEMin > 0 && c.DTEExit >= c.TargetDTEMin) {
		errs = append(errs, fmt.Errorf("dte exit %d must be >= 0 and below target DTE min %d", c.DTEExit, c.TargetDTEMin))
	}
	if c.MinCredit < 0 || (c.WingWidth > 0 && c.MinCredit >= c.WingWidth) {
		errs = append(errs, fmt.Errorf("min credit %.2f must be >= 0 and below wing width %.2f", c.MinCredit, c.WingWidth))
	}
	if c.ProfitTargetPct < 0 || c.ProfitTargetPct >= 100 {
		errs = append(errs, fmt.Errorf("profit target pct must be in [0, 100), got %.1f", c.ProfitTargetPct))
	}
	if c.StopLossPct <= 100 {
		errs = append(errs, fmt.Errorf("stop loss pct must be > 100, got %.1f", c.StopLossPct))
	}
	if c.MaxPositions <= 0 {
		errs = append(errs, fmt.Errorf("max positions must be > 0, got %d", c.MaxPositions))
	}
	if c.Contracts <= 0 {
		errs = append(errs, fmt.Errorf("contracts must be > 0, got %d", c.Contracts))
	}
	if c.TickSize < 0 {
		errs = append(errs, fmt.Errorf("tick size must be >= 0, got %.4f", c.TickSize))
	}
	if c.InitialEquity <= 0 {
		errs = append(errs, fmt.Errorf("initial equity must be > 0, got %.2f", c.InitialEquity))
	}
	for _, hhmm := range []string{c.EntryStart, c.EntryEnd} {
		if hhmm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hhmm); err != nil {
			errs = append(errs, fmt.Errorf("entry time %q must be HH:MM", hhmm))
		}
	}
	return errors.Join(errs...)
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
