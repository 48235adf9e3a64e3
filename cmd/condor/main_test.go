package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

// Friday, 35 days before the 2025-04-04 weekly
var entryTime = time.Date(2025, 2, 28, 15, 0, 0, 0, time.UTC)

type fixedSource struct {
	err   error
	price float64
}

func (f fixedSource) Snapshot(_ context.Context, at time.Time) (models.MarketSnapshot, error) {
	if f.err != nil {
		return models.MarketSnapshot{}, f.err
	}
	return models.MarketSnapshot{Time: at, Symbol: "SPY", Price: f.price, IV: 0.18, VIX: 18}, nil
}

type recordingPublisher struct {
	reports []strategy.TickReport
	onTick  func()
	mu      sync.Mutex
}

func (r *recordingPublisher) PublishTick(report strategy.TickReport) error {
	r.mu.Lock()
	r.reports = append(r.reports, report)
	r.mu.Unlock()
	if r.onTick != nil {
		r.onTick()
	}
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func newTestBot(t *testing.T, source marketdata.Source) (*Bot, *risk.Manager, *recordingPublisher) {
	t.Helper()
	cfg := strategy.DefaultConfig()
	model := pricing.NewModel(0.05)
	paper := broker.NewPaper(cfg.InitialEquity, broker.FillModel{CommissionPerContract: 0.65}, model, nil)
	riskMgr := risk.NewManager(risk.Limits{
		MaxDailyLoss: 1000, MaxDrawdownPct: 50, ConsecutiveLossLimit: 3,
	}, cfg.InitialEquity, time.UTC, nil)
	engine, err := strategy.New(cfg, strategy.Deps{
		Gateway: paper,
		Chains:  marketdata.DefaultSyntheticChains,
		Risk:    riskMgr,
		IDs:     strategy.Sequential("bot"),
		Model:   model,
		Tracker: orders.Config{PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond, CallTimeout: time.Second},
	})
	require.NoError(t, err)
	pub := &recordingPublisher{}
	return &Bot{
		engine:    engine,
		paper:     paper,
		source:    source,
		publisher: pub,
		logger:    logging.Discard(),
		now:       func() time.Time { return entryTime },
		interval:  time.Millisecond,
	}, riskMgr, pub
}

func TestBot_CycleOpensAndPublishes(t *testing.T) {
	bot, _, pub := newTestBot(t, fixedSource{price: 450})
	require.NoError(t, bot.cycle(context.Background()))

	require.Equal(t, 1, pub.count())
	report := pub.reports[0]
	require.NotNil(t, report.Opened)
	assert.Equal(t, "bot-000001", report.Opened.ID)
	assert.Equal(t, 428.0, report.Opened.ShortPut().Strike)
	assert.Len(t, bot.engine.OpenPositions(), 1)
}

func TestBot_SnapshotErrorSkipsTick(t *testing.T) {
	bot, _, pub := newTestBot(t, fixedSource{err: marketdata.ErrDataUnavailable})
	require.NoError(t, bot.cycle(context.Background()))
	assert.Zero(t, pub.count())
	assert.Empty(t, bot.engine.OpenPositions())
}

func TestBot_HaltStopsLoop(t *testing.T) {
	bot, riskMgr, _ := newTestBot(t, fixedSource{price: 450})
	riskMgr.Halt("stray legs")
	err := bot.Run(context.Background())
	assert.True(t, errors.Is(err, strategy.ErrTradingHalted))
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	bot, _, pub := newTestBot(t, fixedSource{price: 450})
	ctx, cancel := context.WithCancel(context.Background())
	pub.onTick = func() {
		if pub.count() >= 3 {
			cancel()
		}
	}
	require.NoError(t, bot.Run(ctx))
	assert.GreaterOrEqual(t, pub.count(), 3)
	assert.Len(t, bot.engine.OpenPositions(), 1, "max positions holds across ticks")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "positions.json")
	return cfg
}

func TestBuildLive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dashboard.Enabled = true
	stack, err := buildLive(context.Background(), cfg, &runOptions{startPrice: 450, seed: 1}, logging.Discard())
	require.NoError(t, err)
	defer stack.store.Close()

	require.NotNil(t, stack.account)
	assert.InDelta(t, cfg.Backtest.InitialCapital, stack.account.NetLiquidation, 1e-9)
	require.NotNil(t, stack.dashboard)
	assert.NotNil(t, stack.bot.publisher)
	assert.Equal(t, time.Minute, stack.bot.interval)
	assert.False(t, stack.engine.Halted())
}

func TestBuildLive_RejectsLiveMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment.Mode = "live"
	_, err := buildLive(context.Background(), cfg, &runOptions{}, logging.Discard())
	assert.Error(t, err)
}

func TestRunBacktest_Synthetic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backtest.StartDate = "2025-01-06"
	res, err := runBacktest(context.Background(), cfg, &backtestOptions{days: 60, seed: 1, dailyVol: 0.005}, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, res.Curve, 60)
	assert.True(t, res.Finalized())
}

func TestRunBacktest_SyntheticNeedsStart(t *testing.T) {
	_, err := runBacktest(context.Background(), testConfig(t), &backtestOptions{days: 10}, logging.Discard())
	assert.Error(t, err)
}

func TestRootCommand_Backtest(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
environment:
  log_level: error
storage:
  path: `+filepath.Join(dir, "positions.json")+`
backtest:
  start_date: "2025-01-06"
  journal_dir: `+filepath.Join(dir, "journal")+`
`), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"backtest", "--config", cfgPath, "--env", "", "--synthetic-days", "40", "--seed", "3"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "BACKTEST")
	assert.Contains(t, out.String(), "Journal written to")
	matches, err := filepath.Glob(filepath.Join(dir, "journal", "*", "trades.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func storedCondor(t *testing.T, id string, state models.PositionState, dte int) *models.Position {
	t.Helper()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	p, err := models.NewIronCondor(id, "SPY", 428, 423, 479, 484, today.AddDate(0, 0, dte), 1)
	require.NoError(t, err)
	p.State = state
	p.EntryCredit = 1.34
	p.EntryDate = today.AddDate(0, 0, -5)
	return p
}

func TestAnalyzeAudit(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy.MaxPositions = 2
	res := &AuditResult{
		AsOf: time.Now(),
		Open: []*models.Position{
			storedCondor(t, "healthy", models.StateOpen, 35),
			storedCondor(t, "late", models.StateOpen, 10),
			storedCondor(t, "stuck", models.StateClosing, 30),
		},
		Statistics: &storage.Statistics{CurrentStreak: -3},
	}
	issues := analyzeAudit(cfg, res)
	require.Len(t, issues, 4)
	assert.Contains(t, issues[0], "exceed max_positions 2")
	assert.Contains(t, issues[1], "late: 10 DTE")
	assert.Contains(t, issues[2], "stuck: stuck in closing")
	assert.Contains(t, issues[3], "3 consecutive losses")

	res.Open = res.Open[:1]
	res.Statistics.CurrentStreak = 2
	assert.Empty(t, analyzeAudit(cfg, res))
}

func TestRootCommand_Audit(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "positions.json")
	store, err := storage.New(context.Background(), storage.Options{Driver: "json", Path: storePath}, nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordPosition(context.Background(), storedCondor(t, "c1", models.StateClosing, 30)))
	require.NoError(t, store.RecordTrade(context.Background(), closedToday(t, "c0", -50)))
	require.NoError(t, store.Close())

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  path: "+storePath+"\n"), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"audit", "--config", cfgPath, "--env", "", "--log-level", "error", "--json"})
	require.NoError(t, cmd.Execute())

	var res AuditResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Open, 1)
	assert.Equal(t, "c1", res.Open[0].ID)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0], "stuck in closing")
	assert.InDelta(t, -50.0, res.DailyPnL, 1e-9)
	assert.Equal(t, 1, res.Statistics.LosingTrades)
}

func closedToday(t *testing.T, id string, pnl float64) *models.Position {
	t.Helper()
	p := storedCondor(t, id, models.StateClosed, 20)
	p.ExitDate = time.Now()
	p.RealizedPnL = pnl
	p.ExitReason = models.ExitStopLoss
	return p
}

func TestRealizedOn_FallsBackToHistory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStorage()
	require.NoError(t, store.RecordTrade(ctx, closedToday(t, "a", 120)))
	require.NoError(t, store.RecordTrade(ctx, closedToday(t, "b", -45)))
	older := closedToday(t, "c", 999)
	older.ExitDate = older.ExitDate.AddDate(0, 0, -2)
	require.NoError(t, store.RecordTrade(ctx, older))

	got, err := realizedOn(ctx, store, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 75.0, got, 1e-9)
}
