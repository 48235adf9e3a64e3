package models

import (
	"fmt"
	"time"
)

// SharesPerContract is the equity option multiplier.
const SharesPerContract = 100.0

// Leg slots inside Position.Legs
const (
	LegShortPut = iota
	LegLongPut
	LegShortCall
	LegLongCall
)

// ExitReason records which rule closed a position.
type ExitReason string

const (
	ExitWingBreach   ExitReason = "wing_breach"
	ExitDTE          ExitReason = "dte_exit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitProfitTarget ExitReason = "profit_target"
	ExitBacktestEnd  ExitReason = "backtest_end"
	ExitManual       ExitReason = "manual"
)

// Position represents an iron condor: short put, long put, short call, long call
// on one underlying and one expiration.
type Position struct {
	StateMachine    *StateMachine `json:"-"`     // Runtime only, excluded from JSON
	State           PositionState `json:"state"` // Canonical persisted state
	ID              string        `json:"id"`
	Symbol          string        `json:"symbol"`
	EntryOrderID    string        `json:"entry_order_id,omitempty"`
	ExitOrderID     string        `json:"exit_order_id,omitempty"`
	ExitReason      ExitReason    `json:"exit_reason,omitempty"`
	Expiration      time.Time     `json:"expiration"`
	EntryDate       time.Time     `json:"entry_date,omitempty"`
	ExitDate        time.Time     `json:"exit_date,omitempty"`
	Legs            [4]Leg        `json:"legs"`
	EntryCredit     float64       `json:"entry_credit"` // per spread, as filled
	ModelCredit     float64       `json:"model_credit"` // per spread, priced at candidate time
	CurrentValue    float64       `json:"current_value"`
	ExitDebit       float64       `json:"exit_debit,omitempty"`
	EntryCommission float64       `json:"entry_commission"`
	ExitCommission  float64       `json:"exit_commission,omitempty"`
	RealizedPnL     float64       `json:"realized_pnl"`
	EntrySpot       float64       `json:"entry_spot"`
	EntryVol        float64       `json:"entry_vol"`
	EntryDelta      float64       `json:"entry_delta"`
	Quantity        int           `json:"quantity"`
}

// NewIronCondor builds a CANDIDATE position and validates the strike shape.
func NewIronCondor(id, symbol string, shortPut, longPut, shortCall, longCall float64,
	expiration time.Time, quantity int) (*Position, error) {
	p := &Position{
		ID:         id,
		Symbol:     symbol,
		Expiration: expiration,
		Quantity:   quantity,
		State:      StateCandidate,
		Legs: [4]Leg{
			LegShortPut:  {Type: OptionPut, Side: SideShort, Strike: shortPut, Expiration: expiration, Quantity: quantity},
			LegLongPut:   {Type: OptionPut, Side: SideLong, Strike: longPut, Expiration: expiration, Quantity: quantity},
			LegShortCall: {Type: OptionCall, Side: SideShort, Strike: shortCall, Expiration: expiration, Quantity: quantity},
			LegLongCall:  {Type: OptionCall, Side: SideLong, Strike: longCall, Expiration: expiration, Quantity: quantity},
		},
		StateMachine: NewStateMachine(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate enforces the iron condor shape: four legs in slot order, one
// expiration, uniform quantity and long put < short put < short call < long call.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position symbol is required")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position quantity must be > 0, got %d", p.Quantity)
	}
	want := [4]struct {
		t OptionType
		s Side
	}{
		{OptionPut, SideShort}, {OptionPut, SideLong}, {OptionCall, SideShort}, {OptionCall, SideLong},
	}
	for i, leg := range p.Legs {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
		if leg.Type != want[i].t || leg.Side != want[i].s {
			return fmt.Errorf("leg %d must be %s %s, got %s %s", i, want[i].s, want[i].t, leg.Side, leg.Type)
		}
		if !leg.Expiration.Equal(p.Expiration) {
			return fmt.Errorf("leg %d expiration %s differs from position expiration %s",
				i, leg.Expiration.Format("2006-01-02"), p.Expiration.Format("2006-01-02"))
		}
		if leg.Quantity != p.Quantity {
			return fmt.Errorf("leg %d quantity %d differs from position quantity %d", i, leg.Quantity, p.Quantity)
		}
	}
	lp, sp := p.Legs[LegLongPut].Strike, p.Legs[LegShortPut].Strike
	sc, lc := p.Legs[LegShortCall].Strike, p.Legs[LegLongCall].Strike
	if !(lp < sp && sp < sc && sc < lc) {
		return fmt.Errorf("strikes must satisfy long put < short put < short call < long call, got %.2f/%.2f/%.2f/%.2f",
			lp, sp, sc, lc)
	}
	return nil
}

// ShortPut returns the short put leg
func (p *Position) ShortPut() Leg { return p.Legs[LegShortPut] }

// LongPut returns the long put leg
func (p *Position) LongPut() Leg { return p.Legs[LegLongPut] }

// ShortCall returns the short call leg
func (p *Position) ShortCall() Leg { return p.Legs[LegShortCall] }

// LongCall returns the long call leg
func (p *Position) LongCall() Leg { return p.Legs[LegLongCall] }

// WingWidth returns the wider of the two vertical spreads.
func (p *Position) WingWidth() float64 {
	put := p.Legs[LegShortPut].Strike - p.Legs[LegLongPut].Strike
	call := p.Legs[LegLongCall].Strike - p.Legs[LegShortCall].Strike
	if call > put {
		return call
	}
	return put
}

// MaxProfit is the dollar credit collected at entry.
func (p *Position) MaxProfit() float64 {
	return p.EntryCredit * float64(p.Quantity) * SharesPerContract
}

// MaxRisk is the dollar loss if one wing expires fully in the money.
func (p *Position) MaxRisk() float64 {
	return (p.WingWidth() - p.EntryCredit) * float64(p.Quantity) * SharesPerContract
}

// UnrealizedPnL marks the open position at CurrentValue, net of entry commission.
func (p *Position) UnrealizedPnL() float64 {
	return (p.EntryCredit-p.CurrentValue)*float64(p.Quantity)*SharesPerContract - p.EntryCommission
}

// ProfitPercent returns unrealized P/L as a percentage of the entry credit.
func (p *Position) ProfitPercent() float64 {
	if p.EntryCredit == 0 {
		return 0
	}
	return (p.EntryCredit - p.CurrentValue) / p.EntryCredit * 100
}

// IsWingBreached reports whether spot touched or crossed either long strike.
func (p *Position) IsWingBreached(spot float64) bool {
	return spot <= p.Legs[LegLongPut].Strike || spot >= p.Legs[LegLongCall].Strike
}

// DTE returns signed calendar days from asOf to expiration.
func (p *Position) DTE(asOf time.Time) int {
	return CalendarDays(asOf, p.Expiration)
}

// ApplyEntryFill records the entry fill on a candidate.
func (p *Position) ApplyEntryFill(orderID string, credit, commission float64, at time.Time) error {
	if err := p.TransitionState(StateOpen, ConditionEntryFilled, at); err != nil {
		return err
	}
	p.EntryOrderID = orderID
	p.EntryCredit = credit
	p.EntryCommission = commission
	p.CurrentValue = credit
	return nil
}

// ApplyExitFill records the unwind fill and realizes P&L.
func (p *Position) ApplyExitFill(debit, commission float64, at time.Time) error {
	if err := p.TransitionState(StateClosed, ConditionExitFilled, at); err != nil {
		return err
	}
	p.ExitDebit = debit
	p.ExitCommission = commission
	p.CurrentValue = debit
	p.RealizedPnL = (p.EntryCredit-debit)*float64(p.Quantity)*SharesPerContract -
		p.EntryCommission - p.ExitCommission
	return nil
}

// TransitionState moves the position to a new state
func (p *Position) TransitionState(to PositionState, condition string, at time.Time) error {
	err := p.ensureMachine().Transition(to, condition, at)
	if err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}

	p.State = to

	if to == StateOpen && p.EntryDate.IsZero() {
		p.EntryDate = at.UTC()
	}
	if to == StateClosed && p.ExitDate.IsZero() {
		p.ExitDate = at.UTC()
	}
	// An abandoned unwind forgets the pending order so the next tick can retry.
	if condition == ConditionExitAbandoned {
		p.ExitOrderID = ""
		p.ExitReason = ""
	}

	return nil
}

// GetCurrentState returns the canonical persisted state
func (p *Position) GetCurrentState() PositionState {
	return p.State
}

// ensureMachine ensures the StateMachine is initialized from persisted state
func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	return p.StateMachine
}

// Copy returns a deep copy safe to hand to readers.
func (p *Position) Copy() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.StateMachine = p.StateMachine.Copy()
	return &c
}
