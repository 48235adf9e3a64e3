package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// CircuitBreakerGateway wraps a Gateway with circuit breaker functionality.
// An open breaker surfaces as ConnectionError so callers treat it like a
// dropped session.
type CircuitBreakerGateway struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerGateway implements Gateway at compile time.
var _ Gateway = (*CircuitBreakerGateway)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	gateway Gateway,
	op string,
	fn func(Gateway) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gateway) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &ConnectionError{Op: op, Err: err}
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings are used when configuration leaves the breaker unset.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerGateway creates a CircuitBreakerGateway with sensible defaults
func NewCircuitBreakerGateway(gateway Gateway, logger *logrus.Logger) *CircuitBreakerGateway {
	return NewCircuitBreakerGatewayWithSettings(gateway, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerGatewayWithSettings creates a CircuitBreakerGateway with custom settings
func NewCircuitBreakerGatewayWithSettings(gateway Gateway, settings CircuitBreakerSettings,
	logger *logrus.Logger) *CircuitBreakerGateway {
	logger = logging.OrDiscard(logger)
	gbSettings := gobreaker.Settings{
		Name:        "GatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Broker rejections are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejection(err) || errors.Is(err, ErrOrderNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerGateway{
		gateway: gateway,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the breaker state
func (c *CircuitBreakerGateway) State() gobreaker.State {
	return c.breaker.State()
}

// SubmitComboOrder wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) SubmitComboOrder(ctx context.Context, order ComboOrder) (string, error) {
	return execCircuitBreaker(c.breaker, c.gateway, "submit", func(g Gateway) (string, error) {
		return g.SubmitComboOrder(ctx, order)
	})
}

// OrderStatus wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	return execCircuitBreaker(c.breaker, c.gateway, "order_status", func(g Gateway) (*OrderStatus, error) {
		return g.OrderStatus(ctx, orderID)
	})
}

// CancelOrder wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.gateway, "cancel", func(g Gateway) (struct{}, error) {
		return struct{}{}, g.CancelOrder(ctx, orderID)
	})
	return err
}

// GetOpenPositions wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) GetOpenPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.gateway, "positions", func(g Gateway) ([]PositionItem, error) {
		return g.GetOpenPositions(ctx)
	})
}

// GetAccountSummary wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	return execCircuitBreaker(c.breaker, c.gateway, "account", func(g Gateway) (*AccountSummary, error) {
		return g.GetAccountSummary(ctx)
	})
}

// GetExpirations wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	return execCircuitBreaker(c.breaker, c.gateway, "expirations", func(g Gateway) ([]time.Time, error) {
		return g.GetExpirations(ctx, underlying)
	})
}

// GetOptionChain wraps the underlying gateway call with circuit breaker
func (c *CircuitBreakerGateway) GetOptionChain(ctx context.Context, underlying string,
	expiration time.Time) ([]models.OptionQuote, error) {
	return execCircuitBreaker(c.breaker, c.gateway, "chain", func(g Gateway) ([]models.OptionQuote, error) {
		return g.GetOptionChain(ctx, underlying, expiration)
	})
}
