package risk

import (
	"errors"
	"fmt"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Limits are the configured account-level guards. Zero disables the optional
// ones (weekly loss, trade caps, portfolio risk, VIX bounds).
//
// Every limit is inclusive: entries stop once daily or weekly P&L reaches
// -MaxDailyLoss or -MaxWeeklyLoss, a trade count reaches its cap, drawdown
// reaches MaxDrawdownPct or the loss streak reaches ConsecutiveLossLimit.
// The VIX bounds are the exception and admit values equal to them.
type Limits struct {
	MaxDailyLoss         float64
	MaxWeeklyLoss        float64
	MaxDailyTrades       int
	MaxWeeklyTrades      int
	MaxDrawdownPct       float64
	ConsecutiveLossLimit int
	VIXMin               float64
	VIXMax               float64
	MaxPortfolioRiskPct  float64
}

// Validate rejects limits that would veto every entry or are out of range.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxDailyLoss <= 0 {
		errs = append(errs, fmt.Errorf("max daily loss must be positive, got %.2f", l.MaxDailyLoss))
	}
	if l.MaxWeeklyLoss < 0 {
		errs = append(errs, fmt.Errorf("max weekly loss must not be negative, got %.2f", l.MaxWeeklyLoss))
	}
	if l.MaxDailyTrades < 0 || l.MaxWeeklyTrades < 0 {
		errs = append(errs, fmt.Errorf("trade caps must not be negative, got %d daily and %d weekly",
			l.MaxDailyTrades, l.MaxWeeklyTrades))
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct > 100 {
		errs = append(errs, fmt.Errorf("max drawdown must be in (0, 100], got %.2f", l.MaxDrawdownPct))
	}
	if l.ConsecutiveLossLimit <= 0 {
		errs = append(errs, fmt.Errorf("consecutive loss limit must be positive, got %d", l.ConsecutiveLossLimit))
	}
	if l.VIXMin < 0 || l.VIXMax < 0 || (l.VIXMax > 0 && l.VIXMin > l.VIXMax) {
		errs = append(errs, fmt.Errorf("vix bounds [%.2f, %.2f] are invalid", l.VIXMin, l.VIXMax))
	}
	if l.MaxPortfolioRiskPct < 0 || l.MaxPortfolioRiskPct > 100 {
		errs = append(errs, fmt.Errorf("max portfolio risk must be in [0, 100], got %.2f", l.MaxPortfolioRiskPct))
	}
	return errors.Join(errs...)
}

// BreachKind names the limit that vetoed a candidate.
type BreachKind string

const (
	BreachHalted            BreachKind = "halted"
	BreachDailyLoss         BreachKind = "daily_loss"
	BreachWeeklyLoss        BreachKind = "weekly_loss"
	BreachDailyTrades       BreachKind = "daily_trades"
	BreachWeeklyTrades      BreachKind = "weekly_trades"
	BreachDrawdown          BreachKind = "drawdown"
	BreachConsecutiveLosses BreachKind = "consecutive_losses"
	BreachVolatility        BreachKind = "volatility"
	BreachPortfolioRisk     BreachKind = "portfolio_risk"
)

// LimitBreach is a normal veto, not a failure.
type LimitBreach struct {
	Kind   BreachKind
	Detail string
}

func (b *LimitBreach) Error() string {
	return fmt.Sprintf("risk limit %s: %s", b.Kind, b.Detail)
}

// Candidate is what the engine asks the risk manager to approve.
type Candidate struct {
	Position *models.Position
	VolIndex float64
}

// CapitalAtRisk is the worst-case dollar loss of the candidate at its model credit.
func (c Candidate) CapitalAtRisk() float64 {
	if c.Position == nil {
		return 0
	}
	return (c.Position.WingWidth() - c.Position.ModelCredit) * float64(c.Position.Quantity) * models.SharesPerContract
}

// Decision is the outcome of Evaluate. Breach is nil when approved.
type Decision struct {
	Breach   *LimitBreach
	Approved bool
}

func approve() Decision { return Decision{Approved: true} }

func reject(kind BreachKind, format string, args ...interface{}) Decision {
	return Decision{Breach: &LimitBreach{Kind: kind, Detail: fmt.Sprintf(format, args...)}}
}

type check func(Limits, Candidate, *State) *Decision

// checks run in order; the first failing one is reported.
var checks = []check{
	func(_ Limits, _ Candidate, s *State) *Decision {
		if s.Halted {
			d := reject(BreachHalted, "trading halted: %s", s.HaltReason)
			return &d
		}
		return nil
	},
	func(l Limits, _ Candidate, s *State) *Decision {
		if s.DailyPnL <= -l.MaxDailyLoss {
			d := reject(BreachDailyLoss, "daily P&L %.2f at or beyond -%.2f", s.DailyPnL, l.MaxDailyLoss)
			return &d
		}
		return nil
	},
	func(l Limits, _ Candidate, s *State) *Decision {
		if l.MaxWeeklyLoss > 0 && s.WeeklyPnL <= -l.MaxWeeklyLoss {
			d := reject(BreachWeeklyLoss, "weekly P&L %.2f at or beyond -%.2f", s.WeeklyPnL, l.MaxWeeklyLoss)
			return &d
		}
		return nil
	},
	func(l Limits, _ Candidate, s *State) *Decision {
		if l.MaxDailyTrades > 0 && s.DailyTrades >= l.MaxDailyTrades {
			d := reject(BreachDailyTrades, "%d trades today, cap %d", s.DailyTrades, l.MaxDailyTrades)
			return &d
		}
		return nil
	},
	func(l Limits, _ Candidate, s *State) *Decision {
		if l.MaxWeeklyTrades > 0 && s.WeeklyTrades >= l.MaxWeeklyTrades {
			d := reject(BreachWeeklyTrades, "%d trades this week, cap %d", s.WeeklyTrades, l.MaxWeeklyTrades)
			return &d
		}
		return nil
	},
	func(l Limits, _ Candidate, s *State) *Decision {
		if s.DrawdownPct >= l.MaxDrawdownPct {
			d := reject(BreachDrawdown, "drawdown %.2f%% from peak %.2f, limit %.2f%%",
				s.DrawdownPct, s.PeakEquity, l.MaxDrawdownPct)
			return &d
		}
		return nil
	},
	func(l Limits, _ Candidate, s *State) *Decision {
		if s.ConsecutiveLosses >= l.ConsecutiveLossLimit {
			d := reject(BreachConsecutiveLosses, "%d consecutive losses, limit %d",
				s.ConsecutiveLosses, l.ConsecutiveLossLimit)
			return &d
		}
		return nil
	},
	func(l Limits, c Candidate, _ *State) *Decision {
		if (l.VIXMin > 0 && c.VolIndex < l.VIXMin) || (l.VIXMax > 0 && c.VolIndex > l.VIXMax) {
			d := reject(BreachVolatility, "volatility index %.2f outside [%.2f, %.2f]", c.VolIndex, l.VIXMin, l.VIXMax)
			return &d
		}
		return nil
	},
	func(l Limits, c Candidate, s *State) *Decision {
		if l.MaxPortfolioRiskPct <= 0 || s.Equity <= 0 {
			return nil
		}
		budget := s.Equity * l.MaxPortfolioRiskPct / 100
		if risk := c.CapitalAtRisk(); risk > budget {
			d := reject(BreachPortfolioRisk, "capital at risk %.2f exceeds %.2f%% of equity (%.2f)",
				risk, l.MaxPortfolioRiskPct, budget)
			return &d
		}
		return nil
	},
}

// Evaluate approves a candidate only when every limit passes. It does not
// mutate s.
func Evaluate(l Limits, c Candidate, s *State) Decision {
	for _, fn := range checks {
		if d := fn(l, c, s); d != nil {
			return *d
		}
	}
	return approve()
}
