// Package broker defines the execution gateway boundary and its adapters.
package broker

import (
	"context"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Gateway is a connected broker session. All calls must honor ctx deadlines.
type Gateway interface {
	// Orders
	SubmitComboOrder(ctx context.Context, order ComboOrder) (string, error)
	OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Account
	GetOpenPositions(ctx context.Context) ([]PositionItem, error)
	GetAccountSummary(ctx context.Context) (*AccountSummary, error)

	// Option chains
	GetExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]models.OptionQuote, error)
}

// Dialer opens a Gateway session.
type Dialer interface {
	Connect(ctx context.Context, host string, port, clientID int) (Gateway, error)
}

// OrderIntent says whether a combo opens or closes a position.
type OrderIntent string

const (
	// IntentOpen sells the condor for a credit
	IntentOpen OrderIntent = "open"
	// IntentClose buys the condor back for a debit
	IntentClose OrderIntent = "close"
)

// ComboOrder is a single all-or-none order for every leg of a position.
type ComboOrder struct {
	Tag        string       `json:"tag"` // position ID
	Symbol     string       `json:"symbol"`
	Intent     OrderIntent  `json:"intent"`
	Legs       []models.Leg `json:"legs"`
	Quantity   int          `json:"quantity"`
	LimitPrice float64      `json:"limit_price"` // per spread, credit on open and debit on close
	ModelPrice float64      `json:"model_price"` // per spread, unrounded pricing model value
}

// OrderState is the broker-side lifecycle of an order.
type OrderState string

const (
	OrderPending         OrderState = "pending"
	OrderFilled          OrderState = "filled"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderRejected        OrderState = "rejected"
	OrderCanceled        OrderState = "canceled"
)

// IsTerminal reports whether no further fills can happen
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCanceled:
		return true
	default:
		return false
	}
}

// OrderStatus is the broker's view of an order.
type OrderStatus struct {
	UpdatedAt      time.Time  `json:"updated_at"`
	ID             string     `json:"id"`
	Tag            string     `json:"tag"`
	State          OrderState `json:"state"`
	Reason         string     `json:"reason,omitempty"`
	FillPrice      float64    `json:"fill_price"` // per spread
	Commission     float64    `json:"commission"` // total for the fill
	Quantity       int        `json:"quantity"`
	FilledQuantity int        `json:"filled_quantity"`
}

// PositionItem is one option line held at the broker. Quantity is signed,
// negative for short.
type PositionItem struct {
	Symbol     string            `json:"symbol"` // OCC option symbol
	Underlying string            `json:"underlying"`
	Type       models.OptionType `json:"type"`
	Expiration time.Time         `json:"expiration"`
	Strike     float64           `json:"strike"`
	Quantity   int               `json:"quantity"`
}

// AccountSummary is the account-level balance view.
type AccountSummary struct {
	NetLiquidation float64 `json:"net_liquidation"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buying_power"`
	RealizedPnL    float64 `json:"realized_pnl"`
}
