package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

// Config describes one replay.
type Config struct {
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	Strategy     strategy.Config  `json:"strategy"`
	Limits       risk.Limits      `json:"limits"`
	Fill         broker.FillModel `json:"fill"`
	RiskFreeRate float64          `json:"risk_free_rate"`
	CloseAtEnd   bool             `json:"close_at_end"`
}

// replayOrders fills as fast as the paper gateway allows; nothing in a replay waits on a clock.
var replayOrders = orders.Config{PollInterval: time.Millisecond, Timeout: time.Second, CallTimeout: time.Second}

// Simulator drives a fresh strategy engine over a historical source.
type Simulator struct {
	source marketdata.Historical
	logger *logrus.Logger
	cfg    Config
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg Config, source marketdata.Historical, logger *logrus.Logger) (*Simulator, error) {
	if source == nil {
		return nil, errors.New("backtest requires a market data source")
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk limits: %w", err)
	}
	if !cfg.Start.IsZero() && !cfg.End.IsZero() && cfg.End.Before(cfg.Start) {
		return nil, fmt.Errorf("backtest end %s is before start %s",
			cfg.End.Format("2006-01-02"), cfg.Start.Format("2006-01-02"))
	}
	return &Simulator{source: source, logger: logging.OrDiscard(logger), cfg: cfg}, nil
}

// Run replays every calendar day in [Start, End]. Each run builds its own
// engine, gateway and risk state, so repeated runs over the same data give
// identical results.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	cfg := s.cfg
	cfg.Strategy.TickTimeout = 0

	model := pricing.NewModel(cfg.RiskFreeRate)
	paper := broker.NewPaper(cfg.Strategy.InitialEquity, cfg.Fill, model, s.logger)
	riskMgr := risk.NewManager(cfg.Limits, cfg.Strategy.InitialEquity, cfg.Strategy.Location, s.logger)
	engine, err := strategy.New(cfg.Strategy, strategy.Deps{
		Gateway: paper,
		Chains:  marketdata.DefaultSyntheticChains,
		Risk:    riskMgr,
		Logger:  s.logger,
		IDs:     strategy.Sequential("bt"),
		Model:   model,
		Tracker: replayOrders,
	})
	if err != nil {
		return nil, err
	}

	result := newResult(cfg)
	var last models.MarketSnapshot
	halted := false

	for _, day := range s.calendar() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := s.source.Snapshot(ctx, day)
		if errors.Is(err, marketdata.ErrDataUnavailable) {
			s.logger.WithField("date", day.Format("2006-01-02")).Debug("No data, skipping day")
			if err := result.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", day.Format("2006-01-02"), err)
		}
		last = snap

		if !halted {
			paper.UpdateMarket(snap)
			report, err := engine.OnTick(ctx, snap)
			switch {
			case errors.Is(err, strategy.ErrTradingHalted):
				s.logger.WithField("date", day.Format("2006-01-02")).Warn("Engine halted, replay continues without trading")
				halted = true
			case err != nil:
				return nil, fmt.Errorf("tick %s: %w", day.Format("2006-01-02"), err)
			}
			for _, p := range report.Closed {
				if err := result.AddTrade(p); err != nil {
					return nil, err
				}
			}
		}

		equity := engine.MarkEquity(snap)
		if err := result.AddPoint(EquityPoint{
			Date:          day,
			Equity:        equity,
			DrawdownPct:   engine.RiskSnapshot().DrawdownPct,
			OpenPositions: len(engine.OpenPositions()),
		}); err != nil {
			return nil, err
		}
	}

	if cfg.CloseAtEnd && !halted && len(engine.OpenPositions()) > 0 && !last.Time.IsZero() {
		report, err := engine.ForceCloseAll(ctx, last, models.ExitBacktestEnd)
		if err != nil {
			return nil, fmt.Errorf("close out at end of data: %w", err)
		}
		for _, p := range report.Closed {
			if err := result.AddTrade(p); err != nil {
				return nil, err
			}
		}
		equity := engine.MarkEquity(last)
		if err := result.amendLast(EquityPoint{
			Date:          result.End,
			Equity:        equity,
			DrawdownPct:   engine.RiskSnapshot().DrawdownPct,
			OpenPositions: len(engine.OpenPositions()),
		}); err != nil {
			return nil, err
		}
	}

	if err := result.Finalize(); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":       result.RunID,
		"trades":       result.Metrics.TotalTrades,
		"final_equity": result.Metrics.FinalEquity,
		"skipped_days": result.SkippedDays,
	}).Info("Backtest complete")
	return result, nil
}

func (s *Simulator) calendar() []time.Time {
	days := s.source.Calendar()
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		key := d.Format("2006-01-02")
		if !s.cfg.Start.IsZero() && key < s.cfg.Start.Format("2006-01-02") {
			continue
		}
		if !s.cfg.End.IsZero() && key > s.cfg.End.Format("2006-01-02") {
			continue
		}
		out = append(out, d)
	}
	return out
}
