// Package util provides common utility functions for price calculations.
package util

import "github.com/shopspring/decimal"

// FloorToTick rounds x down to a tick multiple. Used for credit limits so an
// order never asks for more than the model price.
func FloorToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	d := decimal.NewFromFloat(x).Div(decimal.NewFromFloat(tick)).Floor()
	f, _ := d.Mul(decimal.NewFromFloat(tick)).Float64()
	return f
}

// CeilToTick rounds x up to a tick multiple. Used for debit limits.
func CeilToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	d := decimal.NewFromFloat(x).Div(decimal.NewFromFloat(tick)).Ceil()
	f, _ := d.Mul(decimal.NewFromFloat(tick)).Float64()
	return f
}

// RoundCents rounds a dollar amount to whole cents, half away from zero.
func RoundCents(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}
