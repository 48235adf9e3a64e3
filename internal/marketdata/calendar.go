package marketdata

import (
	"context"
	"math"
	"time"
)

// baseVolatility and seasonalFactors approximate SPY implied volatility by
// month when history carries no volatility column.
const baseVolatility = 0.18

var seasonalFactors = map[time.Month]float64{
	time.January: 1.0, time.February: 1.05, time.March: 1.1, time.April: 0.95,
	time.May: 0.9, time.June: 0.85, time.July: 0.85, time.August: 0.95,
	time.September: 1.15, time.October: 1.2, time.November: 1.0, time.December: 0.95,
}

// SeasonalVolatility estimates implied volatility for a date.
func SeasonalVolatility(day time.Time) float64 {
	f, ok := seasonalFactors[day.Month()]
	if !ok {
		f = 1
	}
	return baseVolatility * f
}

// WeeklyExpirations returns the next n Friday expirations on or after from,
// as UTC midnight dates.
func WeeklyExpirations(from time.Time, n int) []time.Time {
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	first := d.AddDate(0, 0, offset)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, first.AddDate(0, 0, 7*i))
	}
	return out
}

// StrikeGrid returns strikes from round(spot)-halfWidth to round(spot)+halfWidth
// in step increments.
func StrikeGrid(spot, halfWidth, step float64) []float64 {
	if step <= 0 {
		step = 1
	}
	center := math.Round(spot/step) * step
	n := int(math.Round(halfWidth / step))
	out := make([]float64, 0, 2*n+1)
	for i := -n; i <= n; i++ {
		k := center + float64(i)*step
		if k > 0 {
			out = append(out, k)
		}
	}
	return out
}

// SyntheticChains supplies expirations and strikes when no broker chain is
// available. It matches the weekly listing and 1-point strikes of SPY.
type SyntheticChains struct {
	Weeks     int
	HalfWidth float64
	Step      float64
}

// DefaultSyntheticChains covers ten weeks and ±50 points around spot.
var DefaultSyntheticChains = SyntheticChains{Weeks: 10, HalfWidth: 50, Step: 1}

// Expirations lists Friday expirations from asOf
func (s SyntheticChains) Expirations(_ context.Context, _ string, asOf time.Time) ([]time.Time, error) {
	weeks := s.Weeks
	if weeks <= 0 {
		weeks = DefaultSyntheticChains.Weeks
	}
	return WeeklyExpirations(asOf, weeks), nil
}

// Strikes returns the strike grid around spot
func (s SyntheticChains) Strikes(_ context.Context, _ string, _ time.Time, spot float64) ([]float64, error) {
	hw := s.HalfWidth
	if hw <= 0 {
		hw = DefaultSyntheticChains.HalfWidth
	}
	return StrikeGrid(spot, hw, s.Step), nil
}
