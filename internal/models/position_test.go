package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExpiration = time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC)

func newTestCondor(t *testing.T) *Position {
	t.Helper()
	p, err := NewIronCondor("pos-1", "SPY", 430, 425, 470, 475, testExpiration, 2)
	require.NoError(t, err)
	return p
}

func TestNewIronCondor_Shape(t *testing.T) {
	tests := []struct {
		name    string
		sp, lp  float64
		sc, lc  float64
		qty     int
		wantErr bool
	}{
		{"valid", 430, 425, 470, 475, 1, false},
		{"long put above short put", 430, 435, 470, 475, 1, true},
		{"long call below short call", 430, 425, 470, 465, 1, true},
		{"short put equals short call", 450, 445, 450, 455, 1, true},
		{"short strikes crossed", 460, 455, 440, 445, 1, true},
		{"zero quantity", 430, 425, 470, 475, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewIronCondor("id", "SPY", tt.sp, tt.lp, tt.sc, tt.lc, testExpiration, tt.qty)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StateCandidate, p.State)
			for _, leg := range p.Legs {
				assert.Equal(t, tt.qty, leg.Quantity)
				assert.True(t, leg.Expiration.Equal(testExpiration))
			}
		})
	}
}

func TestPosition_ValidateRejectsMixedLegs(t *testing.T) {
	p := newTestCondor(t)

	mixedExp := p.Copy()
	mixedExp.Legs[LegLongCall].Expiration = testExpiration.AddDate(0, 0, 7)
	assert.Error(t, mixedExp.Validate())

	mixedQty := p.Copy()
	mixedQty.Legs[LegShortPut].Quantity = 3
	assert.Error(t, mixedQty.Validate())

	wrongSlot := p.Copy()
	wrongSlot.Legs[LegShortPut].Side = SideLong
	assert.Error(t, wrongSlot.Validate())

	badVariant := p.Copy()
	badVariant.Legs[LegLongPut].Type = OptionType("straddle")
	assert.Error(t, badVariant.Validate())
}

func TestPosition_RiskAndPnL(t *testing.T) {
	p := newTestCondor(t)
	require.NoError(t, p.ApplyEntryFill("ord-1", 1.20, 5.20, tick))

	assert.Equal(t, StateOpen, p.State)
	assert.InDelta(t, 5.0, p.WingWidth(), 1e-9)
	assert.InDelta(t, 240.0, p.MaxProfit(), 1e-9)
	assert.InDelta(t, 760.0, p.MaxRisk(), 1e-9)

	p.CurrentValue = 0.60
	assert.InDelta(t, 120.0-5.20, p.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 50.0, p.ProfitPercent(), 1e-9)

	require.NoError(t, p.TransitionState(StateClosing, ConditionExitTriggered, tick))
	require.NoError(t, p.ApplyExitFill(0.60, 5.20, tick.Add(time.Hour)))

	assert.Equal(t, StateClosed, p.State)
	assert.InDelta(t, 120.0-10.40, p.RealizedPnL, 1e-9)
	assert.False(t, p.ExitDate.IsZero())

	// a second close must be refused
	assert.Error(t, p.ApplyExitFill(0.10, 0, tick.Add(2*time.Hour)))
	assert.InDelta(t, 120.0-10.40, p.RealizedPnL, 1e-9)
}

func TestPosition_ExitAbandonedClearsPendingOrder(t *testing.T) {
	p := newTestCondor(t)
	require.NoError(t, p.ApplyEntryFill("ord-1", 1.00, 0, tick))
	require.NoError(t, p.TransitionState(StateClosing, ConditionExitTriggered, tick))
	p.ExitOrderID = "ord-2"
	p.ExitReason = ExitStopLoss

	require.NoError(t, p.TransitionState(StateOpen, ConditionExitAbandoned, tick))

	assert.Empty(t, p.ExitOrderID)
	assert.Empty(t, p.ExitReason)
	assert.Equal(t, StateOpen, p.State)
}

func TestPosition_IsWingBreached(t *testing.T) {
	p := newTestCondor(t)

	tests := []struct {
		spot float64
		want bool
	}{
		{450, false},
		{426, false},
		{425, true},
		{410, true},
		{474.99, false},
		{475, true},
		{500, true},
	}
	for _, tt := range tests {
		if got := p.IsWingBreached(tt.spot); got != tt.want {
			t.Errorf("IsWingBreached(%.2f) = %v, want %v", tt.spot, got, tt.want)
		}
	}
}

func TestPosition_CopyIsIndependent(t *testing.T) {
	p := newTestCondor(t)
	cp := p.Copy()
	cp.Legs[LegShortPut].Strike = 1
	require.NoError(t, cp.ApplyEntryFill("x", 1, 0, tick))

	assert.InDelta(t, 430.0, p.Legs[LegShortPut].Strike, 1e-9)
	assert.Equal(t, StateCandidate, p.State)
	assert.Equal(t, StateCandidate, p.StateMachine.GetCurrentState())
}

func TestCalendarDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		ny = time.FixedZone("ET", -5*60*60)
	}
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{"same day", time.Date(2025, 4, 4, 15, 30, 0, 0, ny), testExpiration, 0},
		{"35 days", time.Date(2025, 2, 28, 10, 0, 0, 0, ny), testExpiration, 35},
		{"past expiration", time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC), testExpiration, -3},
		{"across DST", time.Date(2025, 3, 7, 23, 0, 0, 0, ny), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalendarDays(tt.from, tt.to))
		})
	}
}

func TestMarketSnapshot_Volatility(t *testing.T) {
	assert.InDelta(t, 0.18, MarketSnapshot{IV: 0.18, VIX: 25}.Volatility(), 1e-12)
	assert.InDelta(t, 0.25, MarketSnapshot{VIX: 25}.Volatility(), 1e-12)
	assert.InDelta(t, 25.0, MarketSnapshot{IV: 0.18, VIX: 25}.VolIndex(), 1e-12)
	assert.InDelta(t, 18.0, MarketSnapshot{IV: 0.18}.VolIndex(), 1e-9)

	assert.Error(t, MarketSnapshot{Price: 450}.Validate())
	assert.Error(t, MarketSnapshot{Time: tick, Price: math.NaN()}.Validate())
	assert.NoError(t, MarketSnapshot{Time: tick, Price: 450}.Validate())
}

func TestLeg_Helpers(t *testing.T) {
	p := newTestCondor(t)

	assert.Equal(t, 1.0, p.ShortPut().CloseSign())
	assert.Equal(t, -1.0, p.LongCall().CloseSign())
	assert.Equal(t, "SPY250404P00430000", p.ShortPut().OCCSymbol("SPY"))
	assert.Equal(t, "SPY250404C00475000", p.LongCall().OCCSymbol("SPY"))
}
