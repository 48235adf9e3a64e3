package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/dashboard"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
	"github.com/eddiefleurent/scranton_condor/internal/notify"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/retry"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

type runOptions struct {
	startPrice float64
	iv         float64
	seed       int64
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Paper-trade the strategy on a live tick loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, cfg, opts, logger)
		},
	}
	cmd.Flags().Float64Var(&opts.startPrice, "start-price", 450, "starting price of the simulated feed")
	cmd.Flags().Float64Var(&opts.iv, "iv", 0, "fixed implied volatility of the feed; 0 uses the seasonal estimate")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "feed seed; 0 picks one at random")
	return cmd
}

// liveStack is everything runBot wires together.
type liveStack struct {
	bot       *Bot
	engine    *strategy.Engine
	store     storage.Interface
	dashboard *dashboard.Server
	account   *broker.AccountSummary // at connect time
}

func buildLive(ctx context.Context, cfg *config.Config, opts *runOptions, logger *logrus.Logger) (*liveStack, error) {
	if !cfg.IsPaperTrading() {
		return nil, errors.New("live mode needs an external gateway; only the paper gateway is built in")
	}
	sc, err := cfg.StrategyConfig()
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	model := pricing.NewModel(cfg.Strategy.RiskFreeRate)
	paper := broker.NewPaper(cfg.Backtest.InitialCapital, cfg.FillModel(), model, logger)
	gw, err := broker.ConnectWithRetry(ctx, &broker.PaperDialer{Gateway: paper},
		retry.NewPolicy(cfg.RetryConfig(), logger), cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.ClientID)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	gw = broker.NewCircuitBreakerGatewayWithSettings(gw, cfg.CircuitBreakerSettings(), logger)
	account, err := gw.GetAccountSummary(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("reading account summary: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"net_liquidation": account.NetLiquidation,
		"buying_power":    account.BuyingPower,
	}).Info("Connected to gateway")

	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.Notify.DiscordToken != "" {
		discord, err := notify.NewDiscord(cfg.Notify.DiscordToken, cfg.Notify.DiscordChannelID, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("discord notifier: %w", err)
		}
		notifiers = append(notifiers, discord)
	}

	riskMgr := risk.NewManager(cfg.RiskLimits(), sc.InitialEquity, sc.Location, logger)
	engine, err := strategy.New(sc, strategy.Deps{
		Gateway:  gw,
		Chains:   strategy.GatewayChains{Gateway: gw},
		Risk:     riskMgr,
		Recorder: store,
		Notifier: notifiers,
		Logger:   logger,
		Model:    model,
		Tracker:  orders.DefaultConfig,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := restore(ctx, engine, store, logger); err != nil {
		_ = store.Close()
		return nil, err
	}

	stack := &liveStack{engine: engine, store: store, account: account}
	var publisher TickPublisher
	if cfg.Dashboard.Enabled {
		stack.dashboard = dashboard.NewServer(cfg.DashboardConfig(), store, engine, logger)
		publisher = stack.dashboard.Hub()
	}
	stack.bot = &Bot{
		engine:    engine,
		paper:     paper,
		source:    marketdata.NewTicker(sc.Symbol, opts.startPrice, opts.iv, opts.seed),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		interval:  cfg.TickInterval(),
	}
	return stack, nil
}

// restore reloads open positions and replays trade history into the risk
// state, then reports any mismatch with the gateway's holdings.
func restore(ctx context.Context, engine *strategy.Engine, store storage.Interface, logger *logrus.Logger) error {
	open, err := store.QueryOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}
	history, err := store.QueryTradeHistory(ctx, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("loading trade history: %w", err)
	}
	engine.Restore(open, history, time.Now())

	diffs, err := engine.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	for _, d := range diffs {
		logger.WithField("discrepancy", d.String()).Warn("Broker holdings differ from restored positions")
	}
	return nil
}

func runBot(ctx context.Context, cfg *config.Config, opts *runOptions, logger *logrus.Logger) error {
	stack, err := buildLive(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	logger.WithFields(logrus.Fields{
		"mode":      cfg.Environment.Mode,
		"symbol":    cfg.Strategy.Symbol,
		"dashboard": cfg.Dashboard.Enabled,
	}).Info("Starting condor bot")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stack.bot.Run(gctx) })
	if stack.dashboard != nil {
		g.Go(func() error { return stack.dashboard.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Bot stopped successfully")
	return nil
}
