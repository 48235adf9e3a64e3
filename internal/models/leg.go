package models

import (
	"fmt"
	"time"
)

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionPut represents a put option contract
	OptionPut OptionType = "put"
	// OptionCall represents a call option contract
	OptionCall OptionType = "call"
)

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	switch t {
	case OptionPut, OptionCall:
		return true
	default:
		return false
	}
}

// Side is the direction of a leg.
type Side string

const (
	// SideLong is a bought leg
	SideLong Side = "long"
	// SideShort is a sold leg
	SideShort Side = "short"
)

// Valid returns true if the Side is one of the defined constants
func (s Side) Valid() bool {
	switch s {
	case SideLong, SideShort:
		return true
	default:
		return false
	}
}

// Leg is one option contract line of a position. Legs are immutable once filled.
type Leg struct {
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"type"`
	Side       Side       `json:"side"`
	Strike     float64    `json:"strike"`
	Quantity   int        `json:"quantity"`
}

// Validate checks the leg's variants and numeric fields.
func (l Leg) Validate() error {
	if !l.Type.Valid() {
		return fmt.Errorf("leg has unknown option type %q", l.Type)
	}
	if !l.Side.Valid() {
		return fmt.Errorf("leg has unknown side %q", l.Side)
	}
	if l.Strike <= 0 {
		return fmt.Errorf("leg strike must be > 0, got %.2f", l.Strike)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("leg quantity must be > 0, got %d", l.Quantity)
	}
	if l.Expiration.IsZero() {
		return fmt.Errorf("leg expiration is required")
	}
	return nil
}

// CloseSign is the multiplier applied to a leg's premium when computing the
// debit needed to buy the position back: short legs cost money to close,
// long legs return money.
func (l Leg) CloseSign() float64 {
	switch l.Side {
	case SideShort:
		return 1
	case SideLong:
		return -1
	default:
		return 0
	}
}

// OCCSymbol renders the leg as an OCC-style option symbol for the underlying.
func (l Leg) OCCSymbol(underlying string) string {
	var cp byte
	switch l.Type {
	case OptionPut:
		cp = 'P'
	case OptionCall:
		cp = 'C'
	default:
		cp = '?'
	}
	return fmt.Sprintf("%s%s%c%08d", underlying, l.Expiration.Format("060102"), cp, int64(l.Strike*1000+0.5))
}

// String implements fmt.Stringer
func (l Leg) String() string {
	return fmt.Sprintf("%s %s %.2f x%d", l.Side, l.Type, l.Strike, l.Quantity)
}
