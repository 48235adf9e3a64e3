package pricing

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Model binds the risk-free rate and values legs and positions. It holds no
// mutable state, so one value can be shared by the live engine and a backtest.
type Model struct {
	Rate float64
}

// NewModel creates a Model with the given risk-free rate.
func NewModel(rate float64) Model {
	return Model{Rate: rate}
}

// Option values a single contract at asOf. On or after expiration day the
// intrinsic value is returned instead of calling Price.
func (m Model) Option(t models.OptionType, spot, strike, vol float64, asOf, expiration time.Time) (Quote, error) {
	if models.CalendarDays(asOf, expiration) <= 0 {
		return Quote{
			Value: Intrinsic(t, spot, strike),
			Delta: intrinsicDelta(t, spot, strike),
		}, nil
	}
	return Price(Inputs{
		Type:   t,
		Spot:   spot,
		Strike: strike,
		Years:  YearsToExpiry(asOf, expiration),
		Vol:    vol,
		Rate:   m.Rate,
	})
}

// Leg values one leg per share.
func (m Model) Leg(leg models.Leg, spot, vol float64, asOf time.Time) (Quote, error) {
	return m.Option(leg.Type, spot, leg.Strike, vol, asOf, leg.Expiration)
}

// SpreadQuote is the model view of a whole position, per spread (one of each leg).
type SpreadQuote struct {
	Legs  [4]Quote
	Value float64 // debit to buy the position back
	Delta float64 // net delta held, short legs negated
}

// Spread values every leg of a position. Value is short premiums minus long premiums.
func (m Model) Spread(p *models.Position, spot, vol float64, asOf time.Time) (SpreadQuote, error) {
	var sq SpreadQuote
	for i, leg := range p.Legs {
		q, err := m.Leg(leg, spot, vol, asOf)
		if err != nil {
			return SpreadQuote{}, fmt.Errorf("valuing %s: %w", leg, err)
		}
		sq.Legs[i] = q
		sign := leg.CloseSign()
		sq.Value += sign * q.Value
		sq.Delta -= sign * q.Delta
	}
	return sq, nil
}
