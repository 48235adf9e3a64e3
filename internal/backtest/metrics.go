package backtest

import (
	"math"
	"sort"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// tradingDaysPerYear annualizes daily statistics.
const tradingDaysPerYear = 252

// MonthlyPnL is realized P&L grouped by exit month.
type MonthlyPnL struct {
	Month string  `json:"month"` // YYYY-MM
	PnL   float64 `json:"pnl"`
}

// Metrics summarize a finished run. Percentages are in percent units.
type Metrics struct {
	ExitReasons      map[models.ExitReason]int `json:"exit_reasons"`
	Monthly          []MonthlyPnL              `json:"monthly_pnl"`
	TotalTrades      int                       `json:"total_trades"`
	WinningTrades    int                       `json:"winning_trades"`
	LosingTrades     int                       `json:"losing_trades"`
	WinRate          float64                   `json:"win_rate"`
	TotalPnL         float64                   `json:"total_pnl"`
	AvgPnL           float64                   `json:"avg_pnl"`
	AvgWin           float64                   `json:"avg_win"`
	AvgLoss          float64                   `json:"avg_loss"`
	LargestWin       float64                   `json:"largest_win"`
	LargestLoss      float64                   `json:"largest_loss"`
	ProfitFactor     float64                   `json:"profit_factor"`
	MaxDrawdownPct   float64                   `json:"max_drawdown_pct"`
	Sharpe           float64                   `json:"sharpe"`
	Sortino          float64                   `json:"sortino"`
	Calmar           float64                   `json:"calmar"`
	TotalReturnPct   float64                   `json:"total_return_pct"`
	AnnualReturnPct  float64                   `json:"annual_return_pct"`
	FinalEquity      float64                   `json:"final_equity"`
	TotalCommissions float64                   `json:"total_commissions"`
}

// ComputeMetrics derives trade and curve statistics. A zero-trade run still
// reports its equity and drawdown.
func ComputeMetrics(trades []*models.Position, curve []EquityPoint, initial float64) Metrics {
	m := Metrics{ExitReasons: make(map[models.ExitReason]int), FinalEquity: initial}

	var grossWin, grossLoss float64
	monthly := make(map[string]float64)
	for i, t := range trades {
		pnl := t.RealizedPnL
		m.TotalPnL += pnl
		m.TotalCommissions += t.EntryCommission + t.ExitCommission
		m.ExitReasons[t.ExitReason]++
		if pnl > 0 {
			m.WinningTrades++
			grossWin += pnl
		} else {
			m.LosingTrades++
			grossLoss -= pnl
		}
		if i == 0 || pnl > m.LargestWin {
			m.LargestWin = pnl
		}
		if i == 0 || pnl < m.LargestLoss {
			m.LargestLoss = pnl
		}
		month := t.ExitDate.Format("2006-01")
		if t.ExitDate.IsZero() {
			month = t.EntryDate.Format("2006-01")
		}
		monthly[month] += pnl
	}

	m.TotalTrades = len(trades)
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgPnL = m.TotalPnL / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -grossLoss / float64(m.LosingTrades)
	}
	// with no losing trades the gross win is reported as the factor
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	} else {
		m.ProfitFactor = grossWin
	}

	months := make([]string, 0, len(monthly))
	for k := range monthly {
		months = append(months, k)
	}
	sort.Strings(months)
	for _, k := range months {
		m.Monthly = append(m.Monthly, MonthlyPnL{Month: k, PnL: monthly[k]})
	}

	if len(curve) == 0 || initial <= 0 {
		return m
	}
	m.FinalEquity = curve[len(curve)-1].Equity
	m.TotalReturnPct = (m.FinalEquity - initial) / initial * 100
	m.MaxDrawdownPct = maxDrawdownPct(curve, initial)

	if len(curve) > 1 {
		years := float64(len(curve)) / tradingDaysPerYear
		if m.FinalEquity > 0 {
			m.AnnualReturnPct = (math.Pow(m.FinalEquity/initial, 1/years) - 1) * 100
		}
		returns := dailyReturns(curve)
		mean, sd := meanStd(returns)
		if sd > 0 {
			m.Sharpe = mean / sd * math.Sqrt(tradingDaysPerYear)
		}
		var downside []float64
		for _, r := range returns {
			if r < 0 {
				downside = append(downside, r)
			}
		}
		if _, dsd := meanStd(downside); dsd > 0 {
			m.Sortino = mean / dsd * math.Sqrt(tradingDaysPerYear)
		}
	}
	if m.MaxDrawdownPct > 0 && m.AnnualReturnPct != 0 {
		m.Calmar = m.AnnualReturnPct / m.MaxDrawdownPct
	}
	return m
}

func maxDrawdownPct(curve []EquityPoint, initial float64) float64 {
	peak, worst := initial, 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func dailyReturns(curve []EquityPoint) []float64 {
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
