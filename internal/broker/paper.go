package broker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/retry"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// FillModel turns a model price into a synthetic fill.
type FillModel struct {
	SlippagePct           float64 // percent of model price given up on each fill
	CommissionPerContract float64 // per contract per leg
}

// FillPrice returns the per-spread fill: credit received on open, debit paid
// on close, both worse than the model by the slippage.
func (f FillModel) FillPrice(o ComboOrder) float64 {
	px := o.ModelPrice
	if px <= 0 {
		px = o.LimitPrice
	}
	s := f.SlippagePct / 100
	if o.Intent == IntentClose {
		return px * (1 + s)
	}
	return px * (1 - s)
}

// Commission returns the total commission for filling qty spreads of legs legs.
func (f FillModel) Commission(qty, legs int) float64 {
	return f.CommissionPerContract * float64(qty) * float64(legs)
}

// Paper is an in-process Gateway that fills combos against the pricing
// model. The backtest simulator and paper trading both run on it.
//
// Test hooks (SetOffline, RejectNext, HoldNext, PartialNext) script broker
// behavior for the next call.
type Paper struct {
	market      models.MarketSnapshot
	logger      *logrus.Logger
	orders      map[string]*OrderStatus
	pending     map[string]ComboOrder
	positions   map[string]*PositionItem
	openCredit  map[string]float64 // tag -> credit cash received net of commission
	chains      marketdata.SyntheticChains
	model       pricing.Model
	rejectNext  string
	fill        FillModel
	cash        float64
	realized    float64
	seq         int
	partialNext int
	holdNext    bool
	offline     bool
	mu          sync.Mutex
}

// Ensure Paper implements Gateway at compile time.
var _ Gateway = (*Paper)(nil)

// NewPaper creates a paper account holding cash.
func NewPaper(cash float64, fill FillModel, model pricing.Model, logger *logrus.Logger) *Paper {
	return &Paper{
		logger:     logging.OrDiscard(logger),
		orders:     make(map[string]*OrderStatus),
		pending:    make(map[string]ComboOrder),
		positions:  make(map[string]*PositionItem),
		openCredit: make(map[string]float64),
		chains:     marketdata.DefaultSyntheticChains,
		model:      model,
		fill:       fill,
		cash:       cash,
	}
}

// UpdateMarket sets the snapshot used for chains, marks and timestamps.
func (p *Paper) UpdateMarket(s models.MarketSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.market = s
}

// SetOffline makes every call fail with ConnectionError until cleared.
func (p *Paper) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
}

// RejectNext makes the next submitted order fail with RejectionError.
func (p *Paper) RejectNext(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = reason
}

// HoldNext leaves the next submitted order working until FillPending.
func (p *Paper) HoldNext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdNext = true
}

// PartialNext fills only filled spreads of the next order and leaves the rest
// working.
func (p *Paper) PartialNext(filled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partialNext = filled
}

// FillPending fills every working order at the current market.
func (p *Paper) FillPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st := p.orders[id]
		p.fillLocked(st, p.pending[id], st.Quantity-st.FilledQuantity)
		delete(p.pending, id)
	}
}

func (p *Paper) checkOnline(op string) error {
	if p.offline {
		return &ConnectionError{Op: op, Err: fmt.Errorf("paper gateway offline")}
	}
	return nil
}

// SubmitComboOrder fills the order immediately unless a test hook says otherwise.
func (p *Paper) SubmitComboOrder(ctx context.Context, o ComboOrder) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ConnectionError{Op: "submit", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("submit"); err != nil {
		return "", err
	}
	if len(o.Legs) == 0 || o.Quantity <= 0 {
		return "", &RejectionError{Reason: "order has no legs or quantity"}
	}
	if p.rejectNext != "" {
		reason := p.rejectNext
		p.rejectNext = ""
		return "", &RejectionError{Reason: reason}
	}

	p.seq++
	id := "paper-" + strconv.Itoa(p.seq)
	st := &OrderStatus{
		UpdatedAt: p.market.Time,
		ID:        id,
		Tag:       o.Tag,
		State:     OrderPending,
		Quantity:  o.Quantity,
	}
	p.orders[id] = st

	switch {
	case p.holdNext:
		p.holdNext = false
		p.pending[id] = o
	case p.partialNext > 0 && p.partialNext < o.Quantity:
		p.fillLocked(st, o, p.partialNext)
		p.partialNext = 0
		p.pending[id] = o
	default:
		p.fillLocked(st, o, o.Quantity)
	}

	p.logger.WithFields(logrus.Fields{
		"order_id": id,
		"tag":      o.Tag,
		"intent":   o.Intent,
		"state":    st.State,
		"price":    st.FillPrice,
	}).Debug("Paper order accepted")
	return id, nil
}

// fillLocked applies qty spreads of o to the account.
func (p *Paper) fillLocked(st *OrderStatus, o ComboOrder, qty int) {
	if qty <= 0 {
		return
	}
	price := p.fill.FillPrice(o)
	commission := util.RoundCents(p.fill.Commission(qty, len(o.Legs)))
	cashflow := price * float64(qty) * models.SharesPerContract

	for _, leg := range o.Legs {
		signed := qty
		if (leg.Side == models.SideShort) == (o.Intent == IntentOpen) {
			signed = -qty
		}
		sym := leg.OCCSymbol(o.Symbol)
		item, ok := p.positions[sym]
		if !ok {
			item = &PositionItem{Symbol: sym, Underlying: o.Symbol, Type: leg.Type,
				Expiration: leg.Expiration, Strike: leg.Strike}
			p.positions[sym] = item
		}
		item.Quantity += signed
		if item.Quantity == 0 {
			delete(p.positions, sym)
		}
	}

	if o.Intent == IntentOpen {
		p.cash += cashflow - commission
		p.openCredit[o.Tag] += cashflow - commission
	} else {
		p.cash -= cashflow + commission
		p.realized += p.openCredit[o.Tag] - cashflow - commission
		delete(p.openCredit, o.Tag)
	}

	// fill price is a volume-weighted average across partial fills
	if st.FilledQuantity > 0 {
		st.FillPrice = (st.FillPrice*float64(st.FilledQuantity) + price*float64(qty)) / float64(st.FilledQuantity+qty)
	} else {
		st.FillPrice = price
	}
	st.FilledQuantity += qty
	st.Commission += commission
	st.UpdatedAt = p.market.Time
	if st.FilledQuantity >= st.Quantity {
		st.State = OrderFilled
	} else {
		st.State = OrderPartiallyFilled
	}
}

// OrderStatus returns a copy of the order's status.
func (p *Paper) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "order_status", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("order_status"); err != nil {
		return nil, err
	}
	st, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	c := *st
	return &c, nil
}

// CancelOrder cancels the unfilled remainder of a working order. Canceling a
// terminal order is a no-op.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "cancel", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("cancel"); err != nil {
		return err
	}
	st, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	if st.State.IsTerminal() {
		return nil
	}
	st.State = OrderCanceled
	st.UpdatedAt = p.market.Time
	delete(p.pending, orderID)
	return nil
}

// GetOpenPositions lists held option lines sorted by symbol.
func (p *Paper) GetOpenPositions(ctx context.Context) ([]PositionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "positions", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("positions"); err != nil {
		return nil, err
	}
	out := make([]PositionItem, 0, len(p.positions))
	for _, item := range p.positions {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetAccountSummary marks held options to the model at the current market.
func (p *Paper) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "account", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("account"); err != nil {
		return nil, err
	}
	nlv := p.cash
	for _, item := range p.positions {
		q, err := p.model.Option(item.Type, p.market.Price, item.Strike, p.market.Volatility(),
			p.market.Time, item.Expiration)
		if err != nil {
			continue
		}
		nlv += q.Value * float64(item.Quantity) * models.SharesPerContract
	}
	return &AccountSummary{
		NetLiquidation: nlv,
		Cash:           p.cash,
		BuyingPower:    p.cash,
		RealizedPnL:    p.realized,
	}, nil
}

// GetExpirations lists weekly expirations from the current market date.
func (p *Paper) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "expirations", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("expirations"); err != nil {
		return nil, err
	}
	return p.chains.Expirations(ctx, underlying, p.market.Time)
}

// GetOptionChain prices the strike grid around spot with the model.
func (p *Paper) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]models.OptionQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "chain", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOnline("chain"); err != nil {
		return nil, err
	}
	if err := p.market.Validate(); err != nil {
		return nil, fmt.Errorf("no market for %s chain: %w", underlying, err)
	}
	strikes, err := p.chains.Strikes(ctx, underlying, expiration, p.market.Price)
	if err != nil {
		return nil, err
	}
	vol := p.market.Volatility()
	out := make([]models.OptionQuote, 0, 2*len(strikes))
	for _, k := range strikes {
		for _, t := range []models.OptionType{models.OptionPut, models.OptionCall} {
			q, err := p.model.Option(t, p.market.Price, k, vol, p.market.Time, expiration)
			if err != nil {
				return nil, fmt.Errorf("pricing %s %.2f: %w", t, k, err)
			}
			bid := q.Value - 0.05
			if bid < 0 {
				bid = 0
			}
			out = append(out, models.OptionQuote{
				Expiration: expiration,
				Type:       t,
				Strike:     k,
				Bid:        util.RoundCents(bid),
				Ask:        util.RoundCents(q.Value + 0.05),
				Last:       util.RoundCents(q.Value),
				IV:         vol,
				Delta:      q.Delta,
			})
		}
	}
	return out, nil
}

// PaperDialer hands out one Paper gateway. FailFirst simulates a gateway that
// refuses the first n connection attempts.
type PaperDialer struct {
	Gateway   *Paper
	FailFirst int
	attempts  int
	mu        sync.Mutex
}

// Connect returns the paper gateway
func (d *PaperDialer) Connect(ctx context.Context, host string, port, clientID int) (Gateway, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.attempts <= d.FailFirst {
		return nil, &ConnectionError{Op: "connect",
			Err: fmt.Errorf("%s:%d client %d: connection refused", host, port, clientID)}
	}
	return d.Gateway, nil
}

// Attempts returns how many times Connect was called
func (d *PaperDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// ConnectWithRetry dials under the bounded retry policy.
func ConnectWithRetry(ctx context.Context, d Dialer, policy *retry.Policy, host string, port, clientID int) (Gateway, error) {
	return retry.Do(ctx, policy, "connect", func(ctx context.Context) (Gateway, error) {
		return d.Connect(ctx, host, port, clientID)
	})
}
