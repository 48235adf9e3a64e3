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
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/util"
)

// ExitDecision is the rule that fired for a position, if any.
type ExitDecision struct {
	Reason models.ExitReason
	Value  float64 // debit to close per spread
	Valued bool    // false when the model could not price the position
}

// CheckExit applies the exit rules in priority order: wing breach, DTE,
// stop loss, profit target. The bar's high and low count toward a breach
// when present.
func (e *Engine) CheckExit(p *models.Position, snap models.MarketSnapshot) ExitDecision {
	low, high := snap.Price, snap.Price
	if snap.Low > 0 {
		low = snap.Low
	}
	if snap.High > 0 {
		high = snap.High
	}

	var reason models.ExitReason
	switch {
	case p.IsWingBreached(low) || p.IsWingBreached(high):
		reason = models.ExitWingBreach
	case p.DTE(snap.Time) <= e.cfg.DTEExit:
		reason = models.ExitDTE
	}

	// breach and DTE exits do not depend on the model
	value, err := e.value(p, snap, reason != "")
	if err != nil {
		return ExitDecision{}
	}
	if reason == "" {
		reason = e.cfg.thresholdExit(p.EntryCredit, value)
	}
	return ExitDecision{Reason: reason, Value: value, Valued: true}
}

// thresholdExit compares the spread value with the stop and target levels,
// both expressed as percentages of the entry credit.
func (c Config) thresholdExit(credit, value float64) models.ExitReason {
	switch {
	case c.StopLossPct > 0 && value >= c.StopLossPct/100*credit:
		return models.ExitStopLoss
	case c.ProfitTargetPct > 0 && value <= c.ProfitTargetPct/100*credit:
		return models.ExitProfitTarget
	}
	return ""
}

// resolvePending checks the unwind order of every CLOSING position. Working
// orders are left alone and never resubmitted.
func (e *Engine) resolvePending(ctx context.Context, snap models.MarketSnapshot, report *TickReport) error {
	for _, p := range e.snapshotPositions() {
		if p.GetCurrentState() != models.StateClosing {
			continue
		}
		if p.ExitOrderID == "" {
			e.abandonExit(ctx, p, snap.Time, "closing position has no unwind order")
			continue
		}
		st, err := e.gateway.OrderStatus(ctx, p.ExitOrderID)
		switch {
		case errors.Is(err, broker.ErrOrderNotFound):
			e.abandonExit(ctx, p, snap.Time, fmt.Sprintf("unwind order %s unknown to broker", p.ExitOrderID))
			continue
		case err != nil:
			return fmt.Errorf("status of unwind %s: %w", p.ExitOrderID, err)
		}
		if err := e.settleExit(ctx, p, st, snap.Time, report); err != nil {
			return err
		}
	}
	return nil
}

// settleExit applies a broker status to a CLOSING position.
func (e *Engine) settleExit(ctx context.Context, p *models.Position, st *broker.OrderStatus, at time.Time, report *TickReport) error {
	switch {
	case orders.IsCompletelyFilled(st):
		return e.closePosition(ctx, p, st, at, report)
	case st.State.IsTerminal() && st.FilledQuantity > 0:
		return e.halt(ctx, at, p.ID, fmt.Sprintf("unwind %s for %s ended %s with %d of %d spreads filled",
			st.ID, p.ID, st.State, st.FilledQuantity, st.Quantity))
	case st.State.IsTerminal():
		e.abandonExit(ctx, p, at, fmt.Sprintf("unwind %s %s: %s", st.ID, st.State, st.Reason))
	default:
		e.logger.WithFields(logrus.Fields{
			"position_id": p.ID,
			"order_id":    st.ID,
			"filled":      st.FilledQuantity,
		}).Debug("Unwind still working")
	}
	return nil
}

// evaluateExits submits at most one unwind per OPEN position.
func (e *Engine) evaluateExits(ctx context.Context, snap models.MarketSnapshot, report *TickReport) error {
	for _, p := range e.snapshotPositions() {
		if p.GetCurrentState() != models.StateOpen {
			continue
		}
		d := e.CheckExit(p, snap)
		if !d.Valued {
			e.logger.WithField("position_id", p.ID).Debug("Position could not be valued, exit check skipped")
			continue
		}
		p.CurrentValue = d.Value
		if d.Reason == "" {
			continue
		}
		if err := e.submitExit(ctx, p, d, snap.Time, report); err != nil {
			return err
		}
	}
	return nil
}

// submitExit moves p to CLOSING before the order goes out so a later tick
// cannot submit a second unwind, then waits for the fill.
func (e *Engine) submitExit(ctx context.Context, p *models.Position, d ExitDecision, at time.Time, report *TickReport) error {
	if err := p.TransitionState(models.StateClosing, models.ConditionExitTriggered, at); err != nil {
		return err
	}
	p.ExitReason = d.Reason

	order := broker.ComboOrder{
		Tag:        p.ID,
		Symbol:     p.Symbol,
		Intent:     broker.IntentClose,
		Legs:       append([]models.Leg(nil), p.Legs[:]...),
		Quantity:   p.Quantity,
		LimitPrice: util.CeilToTick(d.Value, e.cfg.TickSize),
		ModelPrice: d.Value,
	}
	log := e.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"reason":      d.Reason,
		"value":       d.Value,
		"limit":       order.LimitPrice,
		"credit":      p.EntryCredit,
	})

	id, err := e.gateway.SubmitComboOrder(ctx, order)
	if err != nil {
		// nothing reached the broker: undo the transition
		if rbErr := p.TransitionState(models.StateOpen, models.ConditionExitAbandoned, at); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		if broker.IsRejection(err) {
			log.WithError(err).Warn("Unwind rejected, position stays open")
			e.event(ctx, at, storage.EventOrderRejected, storage.SeverityWarning, p.ID, err.Error())
			return nil
		}
		return fmt.Errorf("submitting unwind for %s: %w", p.ID, err)
	}

	p.ExitOrderID = id
	report.ExitsSubmitted++
	log.WithField("order_id", id).Info("Exit triggered, unwind submitted")
	e.persistPosition(ctx, p)

	st, err := e.tracker.Await(ctx, id)
	switch {
	case errors.Is(err, orders.ErrFillTimeout):
		log.WithField("order_id", id).Info("Unwind not filled yet, will check next tick")
		return nil
	case err != nil:
		// the order exists at the broker; keep CLOSING and resolve next tick
		return fmt.Errorf("awaiting unwind %s: %w", id, err)
	}
	return e.settleExit(ctx, p, st, at, report)
}

func (e *Engine) closePosition(ctx context.Context, p *models.Position, st *broker.OrderStatus, at time.Time, report *TickReport) error {
	if err := p.ApplyExitFill(st.FillPrice, st.Commission, at); err != nil {
		return err
	}
	e.risk.RecordClose(p.ID, p.RealizedPnL, at)
	e.removePosition(p.ID)
	e.closed = append(e.closed, p)
	report.Closed = append(report.Closed, p.Copy())
	e.persistTrade(ctx, p)

	e.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"reason":      p.ExitReason,
		"credit":      p.EntryCredit,
		"debit":       p.ExitDebit,
		"pnl":         p.RealizedPnL,
	}).Info("Position closed")
	return nil
}

// abandonExit returns a CLOSING position to OPEN so the next tick may retry.
func (e *Engine) abandonExit(ctx context.Context, p *models.Position, at time.Time, detail string) {
	if err := p.TransitionState(models.StateOpen, models.ConditionExitAbandoned, at); err != nil {
		e.logger.WithError(err).Error("Failed to abandon unwind")
		return
	}
	e.logger.WithFields(logrus.Fields{"position_id": p.ID, "detail": detail}).Warn("Unwind abandoned, position reopened")
	e.event(ctx, at, storage.EventExitAbandoned, storage.SeverityWarning, p.ID, detail)
	e.persistPosition(ctx, p)
}

func (e *Engine) removePosition(id string) {
	for i, p := range e.positions {
		if p.ID == id {
			e.positions = append(e.positions[:i], e.positions[i+1:]...)
			return
		}
	}
}

// snapshotPositions lets loops remove closed positions while iterating.
func (e *Engine) snapshotPositions() []*models.Position {
	return append([]*models.Position(nil), e.positions...)
}

// ForceCloseAll unwinds every open position for reason regardless of the
// exit rules. The simulator uses it at the end of the data.
func (e *Engine) ForceCloseAll(ctx context.Context, snap models.MarketSnapshot, reason models.ExitReason) (TickReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := TickReport{Time: snap.Time, Spot: snap.Price}
	if err := snap.Validate(); err != nil {
		return report, fmt.Errorf("force close rejected: %w", err)
	}
	if err := e.resolvePending(ctx, snap, &report); err != nil {
		return e.abandon(report, "force_close", err)
	}
	for _, p := range e.snapshotPositions() {
		if p.GetCurrentState() != models.StateOpen {
			continue
		}
		value, err := e.value(p, snap, true)
		if err != nil {
			return e.abandon(report, "force_close", err)
		}
		p.CurrentValue = value
		d := ExitDecision{Reason: reason, Value: value, Valued: true}
		if err := e.submitExit(ctx, p, d, snap.Time, &report); err != nil {
			return e.abandon(report, "force_close", err)
		}
	}
	return report, nil
}
