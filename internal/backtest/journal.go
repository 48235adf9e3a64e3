package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	tradeHeader = []string{
		"trade_id", "symbol", "expiration", "short_put", "long_put", "short_call", "long_call",
		"quantity", "entry_date", "exit_date", "entry_credit", "exit_debit", "commissions",
		"max_profit", "max_risk", "realized_pnl", "exit_reason",
	}
	equityHeader = []string{"date", "equity", "drawdown_pct", "open_positions"}
)

// Export writes trades.csv and equity.csv into dir, creating it if needed.
func (r *Result) Export(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	trades := make([][]string, 0, len(r.Trades)+1)
	trades = append(trades, tradeHeader)
	for _, t := range r.Trades {
		trades = append(trades, []string{
			t.ID,
			t.Symbol,
			t.Expiration.Format("2006-01-02"),
			f(t.ShortPut().Strike),
			f(t.LongPut().Strike),
			f(t.ShortCall().Strike),
			f(t.LongCall().Strike),
			strconv.Itoa(t.Quantity),
			t.EntryDate.Format(time.RFC3339),
			t.ExitDate.Format(time.RFC3339),
			f(t.EntryCredit),
			f(t.ExitDebit),
			f(t.EntryCommission + t.ExitCommission),
			f(t.MaxProfit()),
			f(t.MaxRisk()),
			f(t.RealizedPnL),
			string(t.ExitReason),
		})
	}
	if err := writeCSV(filepath.Join(dir, "trades.csv"), trades); err != nil {
		return err
	}

	equity := make([][]string, 0, len(r.Curve)+1)
	equity = append(equity, equityHeader)
	for _, p := range r.Curve {
		equity = append(equity, []string{
			p.Date.Format("2006-01-02"),
			f(p.Equity),
			f(p.DrawdownPct),
			strconv.Itoa(p.OpenPositions),
		})
	}
	return writeCSV(filepath.Join(dir, "equity.csv"), equity)
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

func f(x float64) string { return strconv.FormatFloat(x, 'f', 4, 64) }
