package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// reconcileTimeout bounds the cancel and holdings query after a failed entry.
// It runs detached from the tick deadline, which may already have expired.
const reconcileTimeout = 10 * time.Second

// Reconcile compares broker holdings on the traded symbol with the legs of
// the open positions and returns every mismatch.
func (e *Engine) Reconcile(ctx context.Context) ([]orders.Discrepancy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcileLocked(ctx)
}

func (e *Engine) reconcileLocked(ctx context.Context) ([]orders.Discrepancy, error) {
	held, err := e.gateway.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying broker positions: %w", err)
	}
	return orders.Reconcile(e.cfg.Symbol, held, e.positions), nil
}

// unwindFailedEntry cancels a failed entry order and confirms no legs were
// left behind. A failed query or any stray leg halts trading.
func (e *Engine) unwindFailedEntry(ctx context.Context, orderID, tradeID string, at time.Time, detail string) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()

	if err := e.gateway.CancelOrder(rctx, orderID); err != nil && !errors.Is(err, broker.ErrOrderNotFound) {
		e.logger.WithFields(logrus.Fields{"order_id": orderID, "error": err}).Warn("Cancel of failed entry failed")
	}

	diffs, err := e.reconcileLocked(rctx)
	if err != nil {
		return e.halt(ctx, at, tradeID, fmt.Sprintf("%s; reconciliation failed: %v", detail, err))
	}
	if len(diffs) > 0 {
		lines := make([]string, len(diffs))
		for i, d := range diffs {
			lines[i] = d.String()
		}
		return e.halt(ctx, at, tradeID, fmt.Sprintf("%s; stray legs at broker: %s", detail, strings.Join(lines, ", ")))
	}

	e.event(ctx, at, storage.EventEntryFailed, storage.SeverityWarning, tradeID, detail)
	e.logger.WithField("order_id", orderID).Info("Failed entry reconciled, no stray legs")
	return nil
}
