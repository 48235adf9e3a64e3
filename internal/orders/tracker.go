// Package orders follows submitted combo orders to a terminal state and
// reconciles broker holdings against known positions.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
)

// ErrFillTimeout means the order was still working when the wait ended.
var ErrFillTimeout = errors.New("order not filled before deadline")

// Config contains configuration for the fill tracker.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration // how long Await waits for a terminal state
	CallTimeout  time.Duration // per OrderStatus call
}

// DefaultConfig is the default configuration for the fill tracker.
var DefaultConfig = Config{
	PollInterval: 2 * time.Second,
	Timeout:      30 * time.Second,
	CallTimeout:  5 * time.Second,
}

// Tracker polls order status on a gateway.
type Tracker struct {
	gateway broker.Gateway
	logger  *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	config  Config
}

// NewTracker creates a Tracker, replacing unset config values with defaults.
func NewTracker(gateway broker.Gateway, logger *logrus.Logger, config Config) *Tracker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig.PollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig.Timeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig.CallTimeout
	}
	if gateway == nil {
		panic("orders.NewTracker: gateway must not be nil")
	}
	return &Tracker{
		gateway: gateway,
		logger:  logging.OrDiscard(logger),
		sleep:   sleepCtx,
		config:  config,
	}
}

// Await polls orderID until it is terminal or the configured timeout (or ctx)
// expires. On timeout it returns the last status seen with ErrFillTimeout.
// A ConnectionError from the gateway is returned as is.
func (t *Tracker) Await(ctx context.Context, orderID string) (*broker.OrderStatus, error) {
	waitCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	var last *broker.OrderStatus
	for {
		callCtx, callCancel := context.WithTimeout(waitCtx, t.config.CallTimeout)
		st, err := t.gateway.OrderStatus(callCtx, orderID)
		callCancel()

		switch {
		case err == nil && st != nil:
			last = st
			if IsCompletelyFilled(st) || st.State.IsTerminal() {
				return st, nil
			}
			t.logger.WithFields(logrus.Fields{
				"order_id": orderID,
				"state":    st.State,
				"filled":   st.FilledQuantity,
				"quantity": st.Quantity,
			}).Debug("Order still working")
		case broker.IsConnectionError(err):
			// an expired wait surfaces from the gateway as a ConnectionError
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return last, fmt.Errorf("order %s: %w", orderID, ErrFillTimeout)
			}
			return last, err
		case err != nil:
			return last, fmt.Errorf("order %s status: %w", orderID, err)
		}

		if err := t.sleep(waitCtx, t.config.PollInterval); err != nil {
			if ctx.Err() != nil {
				return last, &broker.ConnectionError{Op: "await", Err: ctx.Err()}
			}
			t.logger.WithField("order_id", orderID).Warn("Order polling timeout")
			return last, fmt.Errorf("order %s: %w", orderID, ErrFillTimeout)
		}
	}
}

// IsCompletelyFilled reports whether every requested spread executed,
// whatever the state string says.
func IsCompletelyFilled(st *broker.OrderStatus) bool {
	if st == nil {
		return false
	}
	if st.Quantity <= 0 {
		return st.State == broker.OrderFilled && st.FilledQuantity > 0
	}
	return st.FilledQuantity >= st.Quantity
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
