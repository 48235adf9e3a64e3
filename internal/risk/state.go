// Package risk gates new entries against account-level loss, frequency and drawdown limits.
package risk

import (
	"fmt"
	"time"
)

// State is the process-wide risk ledger. Only Manager mutates it.
type State struct {
	Processed         map[string]bool `json:"-"` // trade IDs already applied by RecordClose
	Entered           map[string]bool `json:"-"` // trade IDs already counted by RecordEntry
	SessionDay        string          `json:"session_day"`
	SessionWeek       string          `json:"session_week"`
	HaltReason        string          `json:"halt_reason,omitempty"`
	DailyPnL          float64         `json:"daily_pnl"`
	WeeklyPnL         float64         `json:"weekly_pnl"`
	RealizedPnL       float64         `json:"realized_pnl"`
	Equity            float64         `json:"equity"`
	PeakEquity        float64         `json:"peak_equity"`
	DrawdownPct       float64         `json:"drawdown_pct"`
	MaxDrawdownPct    float64         `json:"max_drawdown_pct"`
	DailyTrades       int             `json:"daily_trades"`
	WeeklyTrades      int             `json:"weekly_trades"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	TotalTrades       int             `json:"total_trades"`
	WinningTrades     int             `json:"winning_trades"`
	LosingTrades      int             `json:"losing_trades"`
	Halted            bool            `json:"halted"`
}

// NewState creates an empty ledger seeded with starting equity.
func NewState(initialEquity float64) *State {
	return &State{
		Processed:  make(map[string]bool),
		Entered:    make(map[string]bool),
		Equity:     initialEquity,
		PeakEquity: initialEquity,
	}
}

// Copy returns a deep copy for readers.
func (s *State) Copy() State {
	c := *s
	c.Processed = make(map[string]bool, len(s.Processed))
	for k, v := range s.Processed {
		c.Processed[k] = v
	}
	c.Entered = make(map[string]bool, len(s.Entered))
	for k, v := range s.Entered {
		c.Entered[k] = v
	}
	return c
}

// dayKey and weekKey identify a trading session in the configured location.
func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func weekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
