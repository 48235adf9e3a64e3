// Package pricing implements the closed-form option model shared by live trading and backtests.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// DaysPerYear converts calendar DTE into model years.
const DaysPerYear = 365.0

// Inputs are the Black-Scholes parameters for one European option.
type Inputs struct {
	Type   models.OptionType
	Spot   float64
	Strike float64
	Years  float64 // time to expiry in years
	Vol    float64 // annualized volatility as decimal
	Rate   float64 // continuously compounded risk-free rate
}

// Quote is a model price with Greeks. Theta is per calendar day, vega per 1.00 of vol.
type Quote struct {
	Value float64 `json:"value"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// DomainError reports inputs outside the model's domain.
type DomainError struct {
	Field string
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("pricing: %s out of domain: %v", e.Field, e.Value)
}

func checkDomain(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &DomainError{Field: field, Value: v}
	}
	return nil
}

// Price values one option. It is pure: identical inputs always give identical output.
func Price(in Inputs) (Quote, error) {
	if !in.Type.Valid() {
		return Quote{}, fmt.Errorf("pricing: unknown option type %q", in.Type)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"spot", in.Spot}, {"strike", in.Strike}, {"years", in.Years}, {"vol", in.Vol}} {
		if err := checkDomain(f.name, f.v); err != nil {
			return Quote{}, err
		}
	}
	if math.IsNaN(in.Rate) || math.IsInf(in.Rate, 0) {
		return Quote{}, &DomainError{Field: "rate", Value: in.Rate}
	}

	S, K, T, r, sigma := in.Spot, in.Strike, in.Years, in.Rate, in.Vol
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := math.Exp(-r * T)
	pdfD1 := stdNormPDF(d1)

	var q Quote
	switch in.Type {
	case models.OptionCall:
		q.Value = S*stdNormCDF(d1) - K*disc*stdNormCDF(d2)
		q.Delta = stdNormCDF(d1)
		q.Theta = (-S*pdfD1*sigma/(2*sqrtT) - r*K*disc*stdNormCDF(d2)) / DaysPerYear
	case models.OptionPut:
		q.Value = K*disc*stdNormCDF(-d2) - S*stdNormCDF(-d1)
		q.Delta = stdNormCDF(d1) - 1
		q.Theta = (-S*pdfD1*sigma/(2*sqrtT) + r*K*disc*stdNormCDF(-d2)) / DaysPerYear
	}
	q.Gamma = pdfD1 / (S * sigma * sqrtT)
	q.Vega = S * pdfD1 * sqrtT

	// Deep OTM values can round a hair below zero.
	if q.Value < 0 {
		q.Value = 0
	}
	return q, nil
}

// Intrinsic returns the exercise value of an option at spot.
func Intrinsic(t models.OptionType, spot, strike float64) float64 {
	switch t {
	case models.OptionCall:
		return math.Max(spot-strike, 0)
	case models.OptionPut:
		return math.Max(strike-spot, 0)
	default:
		return 0
	}
}

// intrinsicDelta is the limiting delta at expiry.
func intrinsicDelta(t models.OptionType, spot, strike float64) float64 {
	switch t {
	case models.OptionCall:
		if spot > strike {
			return 1
		}
	case models.OptionPut:
		if spot < strike {
			return -1
		}
	}
	return 0
}

// YearsToExpiry converts calendar DTE into model years.
func YearsToExpiry(asOf, expiration time.Time) float64 {
	return float64(models.CalendarDays(asOf, expiration)) / DaysPerYear
}

func stdNormCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func stdNormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
