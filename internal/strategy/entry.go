package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// Entry skip reasons reported in TickReport.EntrySkip.
const (
	SkipMaxPositions = "max_positions"
	SkipSchedule     = "outside_schedule"
	SkipNoCandidate  = "no_candidate"
	SkipMinCredit    = "credit_below_minimum"
	SkipRiskVeto     = "risk_veto"
	SkipRejected     = "order_rejected"
	SkipNotFilled    = "entry_not_filled"
)

// BuildCandidate solves the strikes for the nearest expiration in the DTE
// window and prices the condor. The result is an unnamed CANDIDATE position
// with ModelCredit set; the minimum credit is not checked here.
func (e *Engine) BuildCandidate(ctx context.Context, snap models.MarketSnapshot) (*models.Position, error) {
	symbol := e.cfg.Symbol
	exps, err := e.chains.Expirations(ctx, symbol, snap.Time)
	if err != nil {
		return nil, err
	}
	exp, dte, err := nearestExpiration(exps, snap.Time, e.cfg.TargetDTEMin, e.cfg.TargetDTEMax)
	if err != nil {
		return nil, err
	}
	strikes, err := e.chains.Strikes(ctx, symbol, exp, snap.Price)
	if err != nil {
		return nil, err
	}

	vol := snap.Volatility()
	shortPut, putDelta, err := SelectStrike(e.model, models.OptionPut, snap.Price, vol, snap.Time, exp, strikes, e.cfg.ShortPutDelta)
	if err != nil {
		return nil, fmt.Errorf("short put: %w", err)
	}
	shortCall, callDelta, err := SelectStrike(e.model, models.OptionCall, snap.Price, vol, snap.Time, exp, strikes, e.cfg.ShortCallDelta)
	if err != nil {
		return nil, fmt.Errorf("short call: %w", err)
	}

	p, err := models.NewIronCondor("", symbol, shortPut, shortPut-e.cfg.WingWidth,
		shortCall, shortCall+e.cfg.WingWidth, exp, e.cfg.Contracts)
	if err != nil {
		return nil, fmt.Errorf("condor shape: %w", err)
	}
	sq, err := e.model.Spread(p, snap.Price, vol, snap.Time)
	if err != nil {
		return nil, fmt.Errorf("pricing candidate: %w", err)
	}
	p.ModelCredit = sq.Value
	p.CurrentValue = sq.Value
	p.EntrySpot = snap.Price
	p.EntryVol = vol
	p.EntryDelta = sq.Delta

	e.logger.WithFields(logrus.Fields{
		"expiration": exp.Format("2006-01-02"),
		"dte":        dte,
		"short_put":  shortPut,
		"put_delta":  putDelta,
		"short_call": shortCall,
		"call_delta": callDelta,
		"credit":     sq.Value,
	}).Debug("Candidate built")
	return p, nil
}

// evaluateEntry opens at most one new condor.
func (e *Engine) evaluateEntry(ctx context.Context, snap models.MarketSnapshot, report *TickReport) error {
	if len(e.positions) >= e.cfg.MaxPositions {
		report.EntrySkip = SkipMaxPositions
		return nil
	}
	if !e.cfg.InEntryWindow(snap) {
		report.EntrySkip = SkipSchedule
		return nil
	}

	p, err := e.BuildCandidate(ctx, snap)
	if err != nil {
		if broker.IsConnectionError(err) {
			return err
		}
		e.logger.WithError(err).Debug("No entry candidate")
		report.EntrySkip = SkipNoCandidate
		return nil
	}
	if p.ModelCredit < e.cfg.MinCredit {
		e.logger.WithFields(logrus.Fields{
			"credit":     p.ModelCredit,
			"min_credit": e.cfg.MinCredit,
		}).Debug("Candidate credit below minimum")
		report.EntrySkip = SkipMinCredit
		return nil
	}

	d := e.risk.Evaluate(risk.Candidate{Position: p, VolIndex: snap.VolIndex()})
	if !d.Approved {
		report.EntrySkip = SkipRiskVeto
		report.Veto = d.Breach
		e.event(ctx, snap.Time, storage.EventLimitBreach, storage.SeverityInfo, "", d.Breach.Error())
		return nil
	}

	p.ID = e.ids()
	return e.submitEntry(ctx, p, snap.Time, report)
}

// submitEntry sends the condor as one all-or-none combo. Anything short of a
// complete fill is a failed entry followed by cancel and reconciliation.
func (e *Engine) submitEntry(ctx context.Context, p *models.Position, at time.Time, report *TickReport) error {
	order := broker.ComboOrder{
		Tag:        p.ID,
		Symbol:     p.Symbol,
		Intent:     broker.IntentOpen,
		Legs:       append([]models.Leg(nil), p.Legs[:]...),
		Quantity:   p.Quantity,
		LimitPrice: util.FloorToTick(p.ModelCredit, e.cfg.TickSize),
		ModelPrice: p.ModelCredit,
	}
	log := e.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"put_spread":  fmt.Sprintf("%.0f/%.0f", p.LongPut().Strike, p.ShortPut().Strike),
		"call_spread": fmt.Sprintf("%.0f/%.0f", p.ShortCall().Strike, p.LongCall().Strike),
		"expiration":  p.Expiration.Format("2006-01-02"),
		"limit":       order.LimitPrice,
		"quantity":    p.Quantity,
	})

	id, err := e.gateway.SubmitComboOrder(ctx, order)
	if err != nil {
		if broker.IsRejection(err) {
			log.WithError(err).Warn("Entry order rejected")
			e.event(ctx, at, storage.EventOrderRejected, storage.SeverityWarning, p.ID, err.Error())
			report.EntrySkip = SkipRejected
			return nil
		}
		return fmt.Errorf("submitting entry: %w", err)
	}
	log = log.WithField("order_id", id)

	st, err := e.tracker.Await(ctx, id)
	if err == nil && orders.IsCompletelyFilled(st) {
		if err := p.ApplyEntryFill(id, st.FillPrice, st.Commission, at); err != nil {
			return err
		}
		e.positions = append(e.positions, p)
		e.risk.RecordEntry(p.ID, at)
		e.persistPosition(ctx, p)
		report.Opened = p.Copy()
		log.WithFields(logrus.Fields{
			"credit":     st.FillPrice,
			"commission": st.Commission,
		}).Info("Iron condor opened")
		return nil
	}
	if err == nil && st.State == broker.OrderRejected && st.FilledQuantity == 0 {
		log.WithField("reason", st.Reason).Warn("Entry order rejected")
		e.event(ctx, at, storage.EventOrderRejected, storage.SeverityWarning, p.ID, st.Reason)
		report.EntrySkip = SkipRejected
		return nil
	}

	detail := fmt.Sprintf("entry %s not filled", id)
	if st != nil {
		detail = fmt.Sprintf("entry %s %s with %d of %d spreads filled", id, st.State, st.FilledQuantity, st.Quantity)
	}
	if err != nil {
		detail += ": " + err.Error()
	}
	log.WithField("detail", detail).Warn("Entry failed, canceling and reconciling")
	report.EntrySkip = SkipNotFilled

	if rErr := e.unwindFailedEntry(ctx, id, p.ID, at, detail); rErr != nil {
		return rErr
	}
	if err != nil && !errors.Is(err, orders.ErrFillTimeout) {
		return fmt.Errorf("awaiting entry %s: %w", id, err)
	}
	return nil
}
