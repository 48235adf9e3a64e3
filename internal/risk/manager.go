package risk

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Manager owns a State and is the only code that mutates it.
type Manager struct {
	state  *State
	loc    *time.Location
	logger *logrus.Logger
	limits Limits
	mu     sync.Mutex
}

// NewManager creates a Manager. Session boundaries are computed in loc
// (UTC when nil).
func NewManager(limits Limits, initialEquity float64, loc *time.Location, logger *logrus.Logger) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		state:  NewState(initialEquity),
		loc:    loc,
		logger: logging.OrDiscard(logger),
		limits: limits,
	}
}

// Limits returns the configured limits
func (m *Manager) Limits() Limits {
	return m.limits
}

// StartSession rolls daily and weekly counters when now falls in a new
// session. Peak equity and drawdown are never reset.
func (m *Manager) StartSession(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked(now)
}

func (m *Manager) rollLocked(now time.Time) {
	day, week := dayKey(now, m.loc), weekKey(now, m.loc)
	if day > m.state.SessionDay {
		if m.state.SessionDay != "" {
			m.logger.WithFields(logrus.Fields{
				"previous_day": m.state.SessionDay,
				"daily_pnl":    m.state.DailyPnL,
				"daily_trades": m.state.DailyTrades,
			}).Info("Daily risk counters reset")
		}
		m.state.SessionDay = day
		m.state.DailyPnL = 0
		m.state.DailyTrades = 0
	}
	if week > m.state.SessionWeek {
		m.state.SessionWeek = week
		m.state.WeeklyPnL = 0
		m.state.WeeklyTrades = 0
	}
}

// Evaluate runs every limit against the current state.
func (m *Manager) Evaluate(c Candidate) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := Evaluate(m.limits, c, m.state)
	if !d.Approved {
		m.logger.WithFields(logrus.Fields{
			"breach": d.Breach.Kind,
			"detail": d.Breach.Detail,
		}).Info("Entry vetoed by risk manager")
	}
	return d
}

// RecordEntry counts a filled entry against the trade caps once per trade ID.
func (m *Manager) RecordEntry(tradeID string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Entered[tradeID] {
		return false
	}
	m.state.Entered[tradeID] = true
	m.rollLocked(at)
	if dayKey(at, m.loc) == m.state.SessionDay {
		m.state.DailyTrades++
	}
	if weekKey(at, m.loc) == m.state.SessionWeek {
		m.state.WeeklyTrades++
	}
	return true
}

// RecordClose applies a realized P&L exactly once per trade ID. A repeated
// call for the same ID is a no-op and returns false. A zero P&L is neither a
// win nor a loss.
func (m *Manager) RecordClose(tradeID string, pnl float64, closedAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Processed[tradeID] {
		m.logger.WithField("trade_id", tradeID).Debug("Close already recorded, ignoring")
		return false
	}
	m.state.Processed[tradeID] = true
	m.rollLocked(closedAt)

	// Closes from an older session still count toward totals and streaks.
	if dayKey(closedAt, m.loc) == m.state.SessionDay {
		m.state.DailyPnL += pnl
	}
	if weekKey(closedAt, m.loc) == m.state.SessionWeek {
		m.state.WeeklyPnL += pnl
	}
	m.state.RealizedPnL += pnl
	m.state.TotalTrades++
	switch {
	case pnl > 0:
		m.state.WinningTrades++
		m.state.ConsecutiveLosses = 0
	case pnl < 0:
		m.state.LosingTrades++
		m.state.ConsecutiveLosses++
	default:
		// break-even ends a losing streak without counting as a loss
		m.state.ConsecutiveLosses = 0
	}
	return true
}

// MarkEquity updates equity, the all-time peak and drawdown.
func (m *Manager) MarkEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Equity = equity
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
	if s.PeakEquity > 0 {
		s.DrawdownPct = (s.PeakEquity - equity) / s.PeakEquity * 100
	}
	if s.DrawdownPct > s.MaxDrawdownPct {
		s.MaxDrawdownPct = s.DrawdownPct
	}
}

// Halt blocks all further entries until the process is restarted.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Halted = true
	m.state.HaltReason = reason
	m.logger.WithField("reason", reason).Error("Trading halted")
}

// Halted reports whether Halt was called
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Halted
}

// Snapshot returns a copy of the state
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Copy()
}

// Restore replays persisted closed trades so counters and streaks survive a
// restart. Trades are applied in exit order; already-known IDs are skipped.
func (m *Manager) Restore(trades []*models.Position, now time.Time) int {
	closed := make([]*models.Position, 0, len(trades))
	for _, t := range trades {
		if t != nil && t.State == models.StateClosed && !t.ExitDate.IsZero() {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ExitDate.Before(closed[j].ExitDate) })

	m.StartSession(now)
	applied := 0
	for _, t := range closed {
		m.RecordEntry(t.ID, t.EntryDate)
		if m.RecordClose(t.ID, t.RealizedPnL, t.ExitDate) {
			applied++
		}
	}
	m.logger.WithFields(logrus.Fields{
		"trades":             applied,
		"consecutive_losses": m.Snapshot().ConsecutiveLosses,
	}).Info("Risk state restored from trade history")
	return applied
}
