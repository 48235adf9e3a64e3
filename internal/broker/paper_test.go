package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/retry"
)

var (
	testNow = time.Date(2025, 2, 28, 15, 0, 0, 0, time.UTC)
	testExp = time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC)
)

func newTestPaper() *Paper {
	p := NewPaper(100000, FillModel{SlippagePct: 2, CommissionPerContract: 0.65}, pricing.NewModel(0.05), nil)
	p.UpdateMarket(models.MarketSnapshot{Symbol: "SPY", Time: testNow, Price: 450, IV: 0.18})
	return p
}

func condorOrder(t *testing.T, intent OrderIntent, qty int, model float64) ComboOrder {
	t.Helper()
	pos, err := models.NewIronCondor("pos-1", "SPY", 428, 423, 479, 484, testExp, qty)
	require.NoError(t, err)
	return ComboOrder{
		Tag:        pos.ID,
		Symbol:     "SPY",
		Intent:     intent,
		Legs:       pos.Legs[:],
		Quantity:   qty,
		LimitPrice: model,
		ModelPrice: model,
	}
}

func TestFillModel(t *testing.T) {
	f := FillModel{SlippagePct: 2, CommissionPerContract: 0.65}
	assert.InDelta(t, 0.98, f.FillPrice(ComboOrder{Intent: IntentOpen, ModelPrice: 1}), 1e-12)
	assert.InDelta(t, 1.02, f.FillPrice(ComboOrder{Intent: IntentClose, ModelPrice: 1}), 1e-12)
	assert.InDelta(t, 1.53, f.FillPrice(ComboOrder{Intent: IntentClose, LimitPrice: 1.5}), 1e-12,
		"limit price is used when no model price is given")
	assert.InDelta(t, 5.2, f.Commission(2, 4), 1e-12)
}

func TestPaper_OpenAndClose(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper()

	id, err := p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 2, 1.34))
	require.NoError(t, err)
	st, err := p.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, st.State)
	assert.Equal(t, 2, st.FilledQuantity)
	assert.InDelta(t, 1.34*0.98, st.FillPrice, 1e-12)
	assert.InDelta(t, 5.2, st.Commission, 1e-12)
	assert.Equal(t, testNow, st.UpdatedAt)

	held, err := p.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, held, 4)
	byStrike := map[float64]int{}
	for _, h := range held {
		byStrike[h.Strike] = h.Quantity
	}
	assert.Equal(t, map[float64]int{423: 2, 428: -2, 479: -2, 484: 2}, byStrike)

	acct, err := p.GetAccountSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100000+1.34*0.98*200-5.2, acct.Cash, 1e-9)
	assert.Less(t, acct.NetLiquidation, acct.Cash, "short condor is a liability")

	_, err = p.SubmitComboOrder(ctx, condorOrder(t, IntentClose, 2, 0.5))
	require.NoError(t, err)
	held, err = p.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, held)

	acct, err = p.GetAccountSummary(ctx)
	require.NoError(t, err)
	want := (1.34*0.98-0.5*1.02)*200 - 10.4
	assert.InDelta(t, want, acct.RealizedPnL, 1e-9)
	assert.InDelta(t, 100000+want, acct.NetLiquidation, 1e-9)
}

func TestPaper_TestHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("reject", func(t *testing.T) {
		p := newTestPaper()
		p.RejectNext("insufficient buying power")
		_, err := p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 1, 1.34))
		assert.True(t, IsRejection(err))
		assert.Contains(t, err.Error(), "insufficient buying power")

		_, err = p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 1, 1.34))
		assert.NoError(t, err, "rejection applies to one order only")
	})

	t.Run("offline", func(t *testing.T) {
		p := newTestPaper()
		p.SetOffline(true)
		_, err := p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 1, 1.34))
		assert.True(t, IsConnectionError(err))
		_, err = p.GetOpenPositions(ctx)
		assert.True(t, IsConnectionError(err))
		p.SetOffline(false)
		_, err = p.GetOpenPositions(ctx)
		assert.NoError(t, err)
	})

	t.Run("hold then fill", func(t *testing.T) {
		p := newTestPaper()
		p.HoldNext()
		id, err := p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 1, 1.34))
		require.NoError(t, err)
		st, _ := p.OrderStatus(ctx, id)
		assert.Equal(t, OrderPending, st.State)
		held, _ := p.GetOpenPositions(ctx)
		assert.Empty(t, held)

		p.FillPending()
		st, _ = p.OrderStatus(ctx, id)
		assert.Equal(t, OrderFilled, st.State)
	})

	t.Run("partial leaves stray legs", func(t *testing.T) {
		p := newTestPaper()
		p.PartialNext(1)
		id, err := p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 3, 1.34))
		require.NoError(t, err)
		st, _ := p.OrderStatus(ctx, id)
		assert.Equal(t, OrderPartiallyFilled, st.State)
		assert.Equal(t, 1, st.FilledQuantity)

		require.NoError(t, p.CancelOrder(ctx, id))
		st, _ = p.OrderStatus(ctx, id)
		assert.Equal(t, OrderCanceled, st.State)
		held, _ := p.GetOpenPositions(ctx)
		assert.Len(t, held, 4)
	})

	t.Run("cancel filled is a no-op", func(t *testing.T) {
		p := newTestPaper()
		id, err := p.SubmitComboOrder(ctx, condorOrder(t, IntentOpen, 1, 1.34))
		require.NoError(t, err)
		require.NoError(t, p.CancelOrder(ctx, id))
		st, _ := p.OrderStatus(ctx, id)
		assert.Equal(t, OrderFilled, st.State)
	})
}

func TestPaper_UnknownOrder(t *testing.T) {
	p := newTestPaper()
	_, err := p.OrderStatus(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	assert.True(t, errors.Is(p.CancelOrder(context.Background(), "nope"), ErrOrderNotFound))
}

func TestPaper_Chain(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper()

	exps, err := p.GetExpirations(ctx, "SPY")
	require.NoError(t, err)
	require.NotEmpty(t, exps)
	assert.Equal(t, time.Friday, exps[0].Weekday())

	chain, err := p.GetOptionChain(ctx, "SPY", testExp)
	require.NoError(t, err)
	assert.Len(t, chain, 202)
	for _, q := range chain {
		assert.LessOrEqual(t, q.Bid, q.Ask)
		if q.Type == models.OptionPut && q.Strike == 428 {
			assert.InDelta(t, -0.155493, q.Delta, 1e-5)
		}
	}
}

func TestConnectWithRetry(t *testing.T) {
	policy := retry.NewPolicy(retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, nil)

	d := &PaperDialer{Gateway: newTestPaper(), FailFirst: 2}
	gw, err := ConnectWithRetry(context.Background(), d, policy, "127.0.0.1", 7497, 1)
	require.NoError(t, err)
	assert.NotNil(t, gw)
	assert.Equal(t, 3, d.Attempts())

	d = &PaperDialer{Gateway: newTestPaper(), FailFirst: 5}
	_, err = ConnectWithRetry(context.Background(), d, policy, "127.0.0.1", 7497, 1)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, 3, d.Attempts())
}
