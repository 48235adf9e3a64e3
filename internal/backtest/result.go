// Package backtest replays historical snapshots through the live strategy
// engine with synthetic fills and reports the resulting performance.
package backtest

import (
	"errors"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// ErrFinalized is returned when appending to a frozen result.
var ErrFinalized = errors.New("backtest result is finalized")

// EquityPoint is one day of the equity curve.
type EquityPoint struct {
	Date          time.Time `json:"date"`
	Equity        float64   `json:"equity"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	OpenPositions int       `json:"open_positions"`
}

// Result accumulates a run and is frozen by Finalize.
type Result struct {
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	RunID          string             `json:"run_id"`
	Curve          []EquityPoint      `json:"equity_curve"`
	Trades         []*models.Position `json:"trades"`
	Config         Config             `json:"config"`
	Metrics        Metrics            `json:"metrics"`
	InitialCapital float64            `json:"initial_capital"`
	SkippedDays    int                `json:"skipped_days"`
	finalized      bool
}

func newResult(cfg Config) *Result {
	return &Result{Config: cfg, InitialCapital: cfg.Strategy.InitialEquity}
}

// RunID derives a ULID from the first replayed date. Entropy is seeded from
// the same date, so replays of the same data share an ID.
func RunID(first time.Time) string {
	entropy := rand.New(rand.NewSource(first.Unix())) // #nosec G404 -- deterministic run naming
	return ulid.MustNew(ulid.Timestamp(first), entropy).String()
}

// AddPoint appends to the equity curve.
func (r *Result) AddPoint(p EquityPoint) error {
	if r.finalized {
		return ErrFinalized
	}
	if r.RunID == "" {
		r.RunID = RunID(p.Date)
		r.Start = p.Date
	}
	r.End = p.Date
	r.Curve = append(r.Curve, p)
	return nil
}

// AddTrade appends a closed position to the ledger.
func (r *Result) AddTrade(p *models.Position) error {
	if r.finalized {
		return ErrFinalized
	}
	r.Trades = append(r.Trades, p)
	return nil
}

// Skip counts a day replayed without data.
func (r *Result) Skip() error {
	if r.finalized {
		return ErrFinalized
	}
	r.SkippedDays++
	return nil
}

// amendLast replaces the last curve point after the end-of-data close out.
func (r *Result) amendLast(p EquityPoint) error {
	if r.finalized {
		return ErrFinalized
	}
	if len(r.Curve) == 0 {
		return r.AddPoint(p)
	}
	r.Curve[len(r.Curve)-1] = p
	return nil
}

// Finalize computes the metrics and freezes the result.
func (r *Result) Finalize() error {
	if r.finalized {
		return ErrFinalized
	}
	r.Metrics = ComputeMetrics(r.Trades, r.Curve, r.InitialCapital)
	r.finalized = true
	return nil
}

// Finalized reports whether Finalize has run
func (r *Result) Finalized() bool {
	return r.finalized
}
