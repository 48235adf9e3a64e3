package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// AuditResult is what the bot has on record, plus anything that looks wrong.
type AuditResult struct {
	AsOf       time.Time           `json:"as_of"`
	Open       []*models.Position  `json:"open_positions"`
	Statistics *storage.Statistics `json:"statistics"`
	Issues     []string            `json:"issues"`
	DailyPnL   float64             `json:"daily_pnl"` // realized on the AsOf date
}

// dailyLedger is implemented by backends that keep realized P&L per exit date.
type dailyLedger interface {
	GetDailyPnL(date string) float64
}

// realizedOn returns the P&L realized on day's date, from the backend's daily
// ledger when it has one and from the trade history otherwise.
func realizedOn(ctx context.Context, store storage.Interface, day time.Time) (float64, error) {
	if ledger, ok := store.(dailyLedger); ok {
		return ledger.GetDailyPnL(day.Format("2006-01-02")), nil
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	trades, err := store.QueryTradeHistory(ctx, from, from.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, t := range trades {
		total += t.RealizedPnL
	}
	return total, nil
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit stored positions and trade history for inconsistencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			store, err := storage.New(cmd.Context(), cfg.StorageOptions(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			open, err := store.QueryOpenPositions(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading open positions: %w", err)
			}
			stats, err := store.GetStatistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading statistics: %w", err)
			}
			res := &AuditResult{AsOf: time.Now(), Open: open, Statistics: stats}
			if res.DailyPnL, err = realizedOn(cmd.Context(), store, res.AsOf); err != nil {
				return fmt.Errorf("loading daily P&L: %w", err)
			}
			res.Issues = analyzeAudit(cfg, res)

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printAudit(out, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	return cmd
}

// analyzeAudit flags stored state the engine should never leave behind.
func analyzeAudit(cfg *config.Config, res *AuditResult) []string {
	issues := []string{}
	if max := cfg.Strategy.MaxPositions; max > 0 && len(res.Open) > max {
		issues = append(issues, fmt.Sprintf("%d open positions exceed max_positions %d", len(res.Open), max))
	}
	for _, p := range res.Open {
		if err := p.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid condor structure: %v", p.ID, err))
			continue
		}
		dte := p.DTE(res.AsOf)
		switch {
		case dte < 0:
			issues = append(issues, fmt.Sprintf("%s: expired %s but still on record", p.ID, p.Expiration.Format("2006-01-02")))
		case p.State == models.StateOpen && dte <= cfg.Strategy.DTEExit:
			issues = append(issues, fmt.Sprintf("%s: %d DTE is at or past the %d DTE exit", p.ID, dte, cfg.Strategy.DTEExit))
		}
		if p.State == models.StateClosing {
			issues = append(issues, fmt.Sprintf("%s: stuck in closing, exit order %q needs reconciliation", p.ID, p.ExitOrderID))
		}
	}
	if limit := cfg.Risk.ConsecutiveLossLimit; res.Statistics != nil && limit > 0 && -res.Statistics.CurrentStreak >= limit {
		issues = append(issues, fmt.Sprintf("%d consecutive losses, new entries are blocked", -res.Statistics.CurrentStreak))
	}
	return issues
}

func printAudit(w io.Writer, res *AuditResult) {
	fmt.Fprintf(w, "=== POSITION AUDIT %s ===\n", res.AsOf.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "Open positions: %d\n", len(res.Open))
	for _, p := range res.Open {
		fmt.Fprintf(w, "  %s %s %s %.0f/%.0f/%.0f/%.0f x%d credit %.2f, %d DTE\n",
			p.ID, p.State, p.Symbol,
			p.LongPut().Strike, p.ShortPut().Strike, p.ShortCall().Strike, p.LongCall().Strike,
			p.Quantity, p.EntryCredit, p.DTE(res.AsOf))
	}
	if s := res.Statistics; s != nil {
		fmt.Fprintf(w, "Closed trades: %d (%d won, %d lost, win rate %.1f%%)\n",
			s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate*100)
		fmt.Fprintf(w, "Realized P&L: $%.2f, worst trade $%.2f, streak %d\n", s.TotalPnL, s.MaxSingleLoss, s.CurrentStreak)
	}
	fmt.Fprintf(w, "Realized today: $%.2f\n", res.DailyPnL)

	fmt.Fprintf(w, "\n=== ANALYSIS ===\n")
	if len(res.Issues) == 0 {
		fmt.Fprintf(w, "No obvious issues detected.\n")
		return
	}
	fmt.Fprintf(w, "POTENTIAL ISSUES FOUND:\n")
	for i, issue := range res.Issues {
		fmt.Fprintf(w, "  %d. %s\n", i+1, issue)
	}
}
