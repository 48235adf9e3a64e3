package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_condor/internal/backtest"
	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
)

type backtestOptions struct {
	dataPath   string
	journalDir string
	start      string
	end        string
	days       int
	seed       int64
	dailyVol   float64
	noExport   bool
}

func newBacktestCmd(root *rootOptions) *cobra.Command {
	opts := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay daily bars through the strategy engine",
		Long: `Backtest replays daily bars from a CSV file (date,open,high,low,close,volume[,vix][,iv])
through the live engine with synthetic fills and prints a performance report.
Without a data file it generates a seeded random walk.

Example:
  condor backtest --data data/spy_daily.csv --start 2023-01-03 --end 2024-12-31`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			res, err := runBacktest(cmd.Context(), cfg, opts, logger)
			if err != nil {
				return err
			}
			if err := res.WriteReport(cmd.OutOrStdout()); err != nil {
				return err
			}
			if opts.noExport {
				return nil
			}
			dir := filepath.Join(cfg.Backtest.JournalDir, res.RunID)
			if err := res.Export(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nJournal written to %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.dataPath, "data", "d", "", "daily bar CSV (overrides backtest.data_path)")
	cmd.Flags().StringVar(&opts.journalDir, "journal", "", "journal directory (overrides backtest.journal_dir)")
	cmd.Flags().StringVar(&opts.start, "start", "", "first day YYYY-MM-DD (overrides backtest.start_date)")
	cmd.Flags().StringVar(&opts.end, "end", "", "last day YYYY-MM-DD (overrides backtest.end_date)")
	cmd.Flags().IntVar(&opts.days, "synthetic-days", 252, "trading days of random walk when no data file is set")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "random walk seed")
	cmd.Flags().Float64Var(&opts.dailyVol, "daily-vol", 0.01, "random walk daily volatility")
	cmd.Flags().BoolVar(&opts.noExport, "no-export", false, "skip writing trades.csv and equity.csv")
	return cmd
}

func runBacktest(ctx context.Context, cfg *config.Config, opts *backtestOptions, logger *logrus.Logger) (*backtest.Result, error) {
	if opts.dataPath != "" {
		cfg.Backtest.DataPath = opts.dataPath
	}
	if opts.journalDir != "" {
		cfg.Backtest.JournalDir = opts.journalDir
	}
	if opts.start != "" {
		cfg.Backtest.StartDate = opts.start
	}
	if opts.end != "" {
		cfg.Backtest.EndDate = opts.end
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	btCfg, err := cfg.BacktestConfig()
	if err != nil {
		return nil, err
	}

	var source marketdata.Historical
	if cfg.Backtest.DataPath != "" {
		src, err := marketdata.LoadCSV(cfg.Backtest.DataPath, cfg.Strategy.Symbol, btCfg.Strategy.Location)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", cfg.Backtest.DataPath, err)
		}
		source = src
	} else {
		start := btCfg.Start
		if start.IsZero() {
			return nil, fmt.Errorf("a synthetic backtest needs --start or backtest.start_date")
		}
		logger.WithFields(logrus.Fields{"days": opts.days, "seed": opts.seed}).Info("No data file, generating random walk")
		source = marketdata.GenerateWalk(marketdata.WalkConfig{
			Start:    start,
			Symbol:   cfg.Strategy.Symbol,
			DailyVol: opts.dailyVol,
			Days:     opts.days,
			Seed:     opts.seed,
		})
	}

	sim, err := backtest.NewSimulator(btCfg, source, logger)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx)
}
