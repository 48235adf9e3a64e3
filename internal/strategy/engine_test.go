package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

var (
	// Friday, 35 calendar days before the 2025-04-04 expiration
	entryDay   = time.Date(2025, 2, 28, 15, 0, 0, 0, time.UTC)
	expiration = time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC)
	fastOrders = orders.Config{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond, CallTimeout: time.Second}
)

func snapAt(at time.Time, price float64) models.MarketSnapshot {
	return models.MarketSnapshot{Time: at, Symbol: "SPY", Price: price, IV: 0.18, VIX: 18}
}

func testLimits() risk.Limits {
	return risk.Limits{
		MaxDailyLoss:         1000,
		MaxDrawdownPct:       50,
		ConsecutiveLossLimit: 3,
		VIXMin:               10,
		VIXMax:               40,
	}
}

type recordingNotifier struct {
	subjects []string
	mu       sync.Mutex
}

func (r *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

type harness struct {
	engine *Engine
	paper  *broker.Paper
	store  *storage.MockStorage
	risk   *risk.Manager
	alerts *recordingNotifier
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	model := pricing.NewModel(0.05)
	h := &harness{
		paper:  broker.NewPaper(cfg.InitialEquity, broker.FillModel{CommissionPerContract: 0.65}, model, nil),
		store:  storage.NewMockStorage(),
		risk:   risk.NewManager(testLimits(), cfg.InitialEquity, time.UTC, nil),
		alerts: &recordingNotifier{},
	}
	e, err := New(cfg, Deps{
		Gateway:  h.paper,
		Chains:   marketdata.DefaultSyntheticChains,
		Risk:     h.risk,
		Recorder: h.store,
		Notifier: h.alerts,
		IDs:      Sequential("t"),
		Model:    model,
		Tracker:  fastOrders,
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) tick(t *testing.T, snap models.MarketSnapshot) (TickReport, error) {
	t.Helper()
	h.paper.UpdateMarket(snap)
	return h.engine.OnTick(context.Background(), snap)
}

// open enters the reference condor at 450.
func (h *harness) open(t *testing.T) *models.Position {
	t.Helper()
	r, err := h.tick(t, snapAt(entryDay, 450))
	require.NoError(t, err)
	require.NotNil(t, r.Opened, "entry skipped: %s", r.EntrySkip)
	return r.Opened
}

func TestOnTick_OpensReferenceCondor(t *testing.T) {
	h := newHarness(t, nil)
	p := h.open(t)

	assert.Equal(t, "t-000001", p.ID)
	assert.Equal(t, models.StateOpen, p.State)
	assert.True(t, p.Expiration.Equal(expiration))
	assert.Equal(t, 428.0, p.ShortPut().Strike)
	assert.Equal(t, 423.0, p.LongPut().Strike)
	assert.Equal(t, 479.0, p.ShortCall().Strike)
	assert.Equal(t, 484.0, p.LongCall().Strike)
	assert.InDelta(t, 1.336993, p.ModelCredit, 1e-5)
	assert.InDelta(t, p.ModelCredit, p.EntryCredit, 1e-12, "no slippage configured")
	assert.InDelta(t, 2.60, p.EntryCommission, 1e-9)
	assert.NotEmpty(t, p.EntryOrderID)

	assert.Equal(t, 1, h.risk.Snapshot().DailyTrades)
	open, err := h.store.QueryOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)

	held, err := h.paper.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, held, 4)
	diffs, err := h.engine.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestOnTick_ShortDeltasNearTarget(t *testing.T) {
	h := newHarness(t, nil)
	p := h.open(t)
	m := pricing.NewModel(0.05)

	put, err := m.Leg(p.ShortPut(), 450, 0.18, entryDay)
	require.NoError(t, err)
	call, err := m.Leg(p.ShortCall(), 450, 0.18, entryDay)
	require.NoError(t, err)
	assert.InDelta(t, -0.16, put.Delta, 0.02)
	assert.InDelta(t, 0.16, call.Delta, 0.02)
	assert.Equal(t, p.ShortPut().Strike-5, p.LongPut().Strike)
	assert.Equal(t, p.ShortCall().Strike+5, p.LongCall().Strike)
}

func TestOnTick_MinCreditRejects(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinCredit = 1.5 })
	r, err := h.tick(t, snapAt(entryDay, 450))
	require.NoError(t, err)
	assert.Nil(t, r.Opened)
	assert.Equal(t, SkipMinCredit, r.EntrySkip)
	assert.Empty(t, h.engine.OpenPositions())
	assert.Zero(t, h.store.Writes())
}

func TestOnTick_MaxPositionsAndSchedule(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)

	r, err := h.tick(t, snapAt(entryDay.Add(30*time.Minute), 450))
	require.NoError(t, err)
	assert.Equal(t, SkipMaxPositions, r.EntrySkip)

	h2 := newHarness(t, nil)
	r, err = h2.tick(t, snapAt(time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC), 450))
	require.NoError(t, err)
	assert.Equal(t, SkipSchedule, r.EntrySkip)
}

func TestOnTick_NoExpirationInWindow(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.TargetDTEMin = 100
		c.TargetDTEMax = 120
	})
	r, err := h.tick(t, snapAt(entryDay, 450))
	require.NoError(t, err)
	assert.Equal(t, SkipNoCandidate, r.EntrySkip)
}

func TestOnTick_RiskVetoes(t *testing.T) {
	t.Run("consecutive losses then a win", func(t *testing.T) {
		h := newHarness(t, nil)
		for _, id := range []string{"a", "b", "c"} {
			h.risk.RecordClose(id, -50, entryDay.AddDate(0, 0, -7))
		}

		r, err := h.tick(t, snapAt(entryDay, 450))
		require.NoError(t, err)
		require.NotNil(t, r.Veto)
		assert.Equal(t, risk.BreachConsecutiveLosses, r.Veto.Kind)
		assert.Equal(t, SkipRiskVeto, r.EntrySkip)
		assert.Len(t, h.store.EventsOfKind(storage.EventLimitBreach), 1)

		h.risk.RecordClose("d", 75, entryDay.AddDate(0, 0, -1))
		h.open(t)
	})

	t.Run("daily loss", func(t *testing.T) {
		h := newHarness(t, nil)
		h.risk.StartSession(entryDay)
		h.risk.RecordClose("x", -1000, entryDay)

		r, err := h.tick(t, snapAt(entryDay, 450))
		require.NoError(t, err)
		require.NotNil(t, r.Veto)
		assert.Equal(t, risk.BreachDailyLoss, r.Veto.Kind)

		// a new session clears the daily budget
		r, err = h.tick(t, snapAt(entryDay.AddDate(0, 0, 3), 450))
		require.NoError(t, err)
		assert.Nil(t, r.Veto)
	})

	t.Run("volatility regime", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := snapAt(entryDay, 450)
		snap.VIX = 45
		r, err := h.tick(t, snap)
		require.NoError(t, err)
		require.NotNil(t, r.Veto)
		assert.Equal(t, risk.BreachVolatility, r.Veto.Kind)
	})
}

func TestOnTick_WingBreachCloses(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })
	p := h.open(t)

	r, err := h.tick(t, snapAt(entryDay.AddDate(0, 0, 3), 420))
	require.NoError(t, err)
	assert.Equal(t, 1, r.ExitsSubmitted)
	require.Len(t, r.Closed, 1)

	c := r.Closed[0]
	assert.Equal(t, p.ID, c.ID)
	assert.Equal(t, models.StateClosed, c.State)
	assert.Equal(t, models.ExitWingBreach, c.ExitReason)
	assert.Greater(t, c.ExitDebit, c.EntryCredit)
	want := (c.EntryCredit-c.ExitDebit)*100 - c.EntryCommission - c.ExitCommission
	assert.InDelta(t, want, c.RealizedPnL, 1e-9)
	assert.Less(t, c.RealizedPnL, 0.0)

	s := h.risk.Snapshot()
	assert.Equal(t, 1, s.ConsecutiveLosses)
	assert.InDelta(t, c.RealizedPnL, s.RealizedPnL, 1e-9)

	history, err := h.store.QueryTradeHistory(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, h.engine.OpenPositions())

	held, err := h.paper.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, held, "unwind flattens every leg")
}

func TestOnTick_DTEExit(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })
	h.open(t)

	// 14 days later: 21 DTE
	r, err := h.tick(t, snapAt(entryDay.AddDate(0, 0, 14), 450))
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	assert.Equal(t, models.ExitDTE, r.Closed[0].ExitReason)
}

func TestOnTick_ConnectionLossPreservesOpen(t *testing.T) {
	h := newHarness(t, nil)
	p := h.open(t)

	h.paper.SetOffline(true)
	r, err := h.tick(t, snapAt(entryDay.AddDate(0, 0, 3), 420))
	require.Error(t, err)
	assert.True(t, broker.IsConnectionError(err))
	assert.True(t, r.Abandoned)
	assert.Nil(t, r.Opened)

	open := h.engine.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)
	assert.Equal(t, models.StateOpen, open[0].State)
	assert.Empty(t, open[0].ExitOrderID)
	assert.Empty(t, open[0].ExitReason)
	assert.Zero(t, h.risk.Snapshot().TotalTrades)

	h.paper.SetOffline(false)
	r, err = h.tick(t, snapAt(entryDay.AddDate(0, 0, 3), 420))
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	assert.Equal(t, p.ID, r.Closed[0].ID)
}

func TestOnTick_ConnectionLossBlocksEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetOffline(true)
	r, err := h.tick(t, snapAt(entryDay, 450))
	require.Error(t, err)
	assert.True(t, broker.IsConnectionError(err))
	assert.True(t, r.Abandoned)
	assert.Empty(t, h.engine.OpenPositions())
	assert.Zero(t, h.risk.Snapshot().DailyTrades)
	assert.False(t, h.engine.Halted())
}

func TestOnTick_PartialEntryFillHalts(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Contracts = 2 })
	h.paper.PartialNext(1)

	r, err := h.tick(t, snapAt(entryDay, 450))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTradingHalted)
	assert.Nil(t, r.Opened)
	assert.Empty(t, h.engine.OpenPositions())
	assert.True(t, h.engine.Halted())
	assert.Len(t, h.store.EventsOfKind(storage.EventFatalReconciliation), 1)
	assert.Equal(t, 1, h.alerts.count())

	_, err = h.tick(t, snapAt(entryDay.Add(time.Hour), 450))
	assert.ErrorIs(t, err, ErrTradingHalted)
}

func TestOnTick_UnfilledEntryCanceledCleanly(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.HoldNext()

	r, err := h.tick(t, snapAt(entryDay, 450))
	require.NoError(t, err)
	assert.Equal(t, SkipNotFilled, r.EntrySkip)
	assert.Empty(t, h.engine.OpenPositions())
	assert.False(t, h.engine.Halted())
	assert.Len(t, h.store.EventsOfKind(storage.EventEntryFailed), 1)
	assert.Zero(t, h.risk.Snapshot().DailyTrades)
}

func TestOnTick_RejectedEntryDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.RejectNext("insufficient buying power")

	r, err := h.tick(t, snapAt(entryDay, 450))
	require.NoError(t, err)
	assert.Equal(t, SkipRejected, r.EntrySkip)
	assert.Empty(t, h.engine.OpenPositions())
	assert.Len(t, h.store.EventsOfKind(storage.EventOrderRejected), 1)
}

func TestOnTick_RejectedExitReturnsToOpen(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })
	p := h.open(t)
	breach := snapAt(entryDay.AddDate(0, 0, 3), 420)

	h.paper.RejectNext("market closed")
	r, err := h.tick(t, breach)
	require.NoError(t, err)
	assert.Empty(t, r.Closed)
	open := h.engine.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, models.StateOpen, open[0].State)
	assert.Len(t, h.store.EventsOfKind(storage.EventOrderRejected), 1)

	r, err = h.tick(t, breach)
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	assert.Equal(t, p.ID, r.Closed[0].ID)
}

func TestOnTick_WorkingUnwindIsNeverResubmitted(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })
	p := h.open(t)
	breach := snapAt(entryDay.AddDate(0, 0, 3), 420)

	h.paper.HoldNext()
	r, err := h.tick(t, breach)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ExitsSubmitted)
	open := h.engine.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, models.StateClosing, open[0].State)
	orderID := open[0].ExitOrderID
	require.NotEmpty(t, orderID)

	r, err = h.tick(t, breach)
	require.NoError(t, err)
	assert.Zero(t, r.ExitsSubmitted)
	open = h.engine.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, models.StateClosing, open[0].State)
	assert.Equal(t, orderID, open[0].ExitOrderID)

	h.paper.FillPending()
	r, err = h.tick(t, breach)
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	assert.Equal(t, p.ID, r.Closed[0].ID)
	assert.Equal(t, 1, h.risk.Snapshot().TotalTrades)

	// the close is applied once however often it is reported
	assert.False(t, h.risk.RecordClose(p.ID, r.Closed[0].RealizedPnL, breach.Time))
	closed := h.engine.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Error(t, closed[0].ApplyExitFill(1, 0, breach.Time))
}

func TestOnTick_CanceledUnwindIsRetried(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })
	h.open(t)
	breach := snapAt(entryDay.AddDate(0, 0, 3), 420)

	h.paper.HoldNext()
	_, err := h.tick(t, breach)
	require.NoError(t, err)
	orderID := h.engine.OpenPositions()[0].ExitOrderID
	require.NoError(t, h.paper.CancelOrder(context.Background(), orderID))

	r, err := h.tick(t, breach)
	require.NoError(t, err)
	assert.Len(t, h.store.EventsOfKind(storage.EventExitAbandoned), 1)
	// reopened and resubmitted in the same tick
	assert.Equal(t, 1, r.ExitsSubmitted)
	require.Len(t, r.Closed, 1)
}

func TestOnTick_PartialUnwindHalts(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Contracts = 2
		c.EntryDays = []time.Weekday{time.Friday}
	})
	h.open(t)
	breach := snapAt(entryDay.AddDate(0, 0, 3), 420)

	h.paper.PartialNext(1)
	_, err := h.tick(t, breach)
	require.NoError(t, err, "a working partial unwind waits for the next tick")
	orderID := h.engine.OpenPositions()[0].ExitOrderID
	require.NoError(t, h.paper.CancelOrder(context.Background(), orderID))

	_, err = h.tick(t, breach)
	assert.ErrorIs(t, err, ErrTradingHalted)
	assert.True(t, h.engine.Halted())
	assert.Equal(t, 1, h.alerts.count())
}

func TestOnTick_InvalidSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.OnTick(context.Background(), models.MarketSnapshot{Time: entryDay})
	assert.Error(t, err)
	_, err = h.engine.OnTick(context.Background(), models.MarketSnapshot{Price: 450})
	assert.Error(t, err)
}

func TestForceCloseAll(t *testing.T) {
	h := newHarness(t, nil)
	p := h.open(t)

	last := snapAt(entryDay.AddDate(0, 0, 3), 452)
	h.paper.UpdateMarket(last)
	r, err := h.engine.ForceCloseAll(context.Background(), last, models.ExitBacktestEnd)
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	assert.Equal(t, p.ID, r.Closed[0].ID)
	assert.Equal(t, models.ExitBacktestEnd, r.Closed[0].ExitReason)
	assert.Empty(t, h.engine.OpenPositions())
}

func TestEquityIdentity(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })
	snap := snapAt(entryDay, 450)
	p := h.open(t)

	// marked at the entry snapshot the position is worth its credit
	assert.InDelta(t, -p.EntryCommission, h.engine.MarkToModel(snap), 1e-6)
	assert.InDelta(t, 100000-p.EntryCommission, h.engine.Equity(snap), 1e-6)

	later := snapAt(entryDay.AddDate(0, 0, 3), 447)
	sq, err := pricing.NewModel(0.05).Spread(p, 447, 0.18, later.Time)
	require.NoError(t, err)
	want := 100000 + (p.EntryCredit-sq.Value)*100 - p.EntryCommission
	assert.InDelta(t, want, h.engine.MarkEquity(later), 1e-6)
	assert.InDelta(t, want, h.risk.Snapshot().Equity, 1e-6)

	r, err := h.tick(t, snapAt(entryDay.AddDate(0, 0, 3), 420))
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	after := snapAt(entryDay.AddDate(0, 0, 3), 420)
	assert.InDelta(t, 100000+r.Closed[0].RealizedPnL, h.engine.Equity(after), 1e-6)
}

func TestRestore(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EntryDays = []time.Weekday{time.Friday} })

	p, err := models.NewIronCondor("restored", "SPY", 428, 423, 479, 484, expiration, 1)
	require.NoError(t, err)
	require.NoError(t, p.ApplyEntryFill("old-order", 1.30, 2.6, entryDay))
	p.StateMachine = nil // as loaded from storage

	loss := &models.Position{ID: "old", State: models.StateClosed, RealizedPnL: -80,
		EntryDate: entryDay.AddDate(0, 0, -30), ExitDate: entryDay.AddDate(0, 0, -2)}
	h.engine.Restore([]*models.Position{p, loss}, []*models.Position{loss}, entryDay)

	open := h.engine.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "restored", open[0].ID)
	assert.InDelta(t, -80.0, h.risk.Snapshot().RealizedPnL, 1e-9)

	r, err := h.tick(t, snapAt(entryDay.AddDate(0, 0, 3), 420))
	require.NoError(t, err)
	require.Len(t, r.Closed, 1)
	assert.Equal(t, "restored", r.Closed[0].ID)
}

func TestOnTick_UnknownUnwindOrderAbandoned(t *testing.T) {
	gw := &MockGateway{}
	gw.On("OrderStatus", mock.Anything, "gone").Return(nil, broker.ErrOrderNotFound)

	store := storage.NewMockStorage()
	cfg := DefaultConfig()
	e, err := New(cfg, Deps{
		Gateway:  gw,
		Chains:   marketdata.DefaultSyntheticChains,
		Risk:     risk.NewManager(testLimits(), cfg.InitialEquity, time.UTC, nil),
		Recorder: store,
		Model:    pricing.NewModel(0.05),
		Tracker:  fastOrders,
	})
	require.NoError(t, err)

	p, err := models.NewIronCondor("c1", "SPY", 428, 423, 479, 484, expiration, 1)
	require.NoError(t, err)
	require.NoError(t, p.ApplyEntryFill("entry", 1.34, 2.6, entryDay))
	require.NoError(t, p.TransitionState(models.StateClosing, models.ConditionExitTriggered, entryDay))
	p.ExitOrderID = "gone"
	p.ExitReason = models.ExitProfitTarget
	e.Restore([]*models.Position{p}, nil, entryDay)

	r, err := e.OnTick(context.Background(), snapAt(entryDay.Add(time.Hour), 450))
	require.NoError(t, err)
	assert.Equal(t, SkipMaxPositions, r.EntrySkip)
	open := e.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, models.StateOpen, open[0].State)
	assert.Empty(t, open[0].ExitOrderID)
	assert.Len(t, store.EventsOfKind(storage.EventExitAbandoned), 1)
	gw.AssertExpectations(t)
}

func TestOnTick_ReconciliationQueryFailureHalts(t *testing.T) {
	gw := &MockGateway{}
	gw.On("SubmitComboOrder", mock.Anything, mock.AnythingOfType("broker.ComboOrder")).Return("o1", nil)
	gw.On("OrderStatus", mock.Anything, "o1").Return(&broker.OrderStatus{
		ID: "o1", State: broker.OrderCanceled, Quantity: 1,
	}, nil)
	gw.On("CancelOrder", mock.Anything, "o1").Return(nil)
	gw.On("GetOpenPositions", mock.Anything).Return(nil, &broker.ConnectionError{Op: "positions", Err: errors.New("reset")})

	alerts := &recordingNotifier{}
	store := storage.NewMockStorage()
	cfg := DefaultConfig()
	e, err := New(cfg, Deps{
		Gateway:  gw,
		Chains:   marketdata.DefaultSyntheticChains,
		Risk:     risk.NewManager(testLimits(), cfg.InitialEquity, time.UTC, nil),
		Recorder: store,
		Notifier: alerts,
		Model:    pricing.NewModel(0.05),
		Tracker:  fastOrders,
	})
	require.NoError(t, err)

	_, err = e.OnTick(context.Background(), snapAt(entryDay, 450))
	assert.ErrorIs(t, err, ErrTradingHalted)
	assert.True(t, e.Halted())
	assert.Equal(t, 1, alerts.count())
	events := store.EventsOfKind(storage.EventFatalReconciliation)
	require.Len(t, events, 1)
	assert.Equal(t, storage.SeverityCritical, events[0].Severity)
	gw.AssertExpectations(t)
}

func TestNew_Validation(t *testing.T) {
	cfg := DefaultConfig()
	_, err := New(cfg, Deps{})
	assert.Error(t, err)

	cfg.WingWidth = 0
	_, err = New(cfg, Deps{Gateway: &MockGateway{}, Chains: marketdata.DefaultSyntheticChains,
		Risk: risk.NewManager(testLimits(), 1, nil, nil)})
	assert.Error(t, err)
}
