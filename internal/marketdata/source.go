// Package marketdata supplies market snapshots to the engine and the simulator.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// ErrDataUnavailable means no usable snapshot exists for the requested time.
var ErrDataUnavailable = errors.New("market data unavailable")

// Source returns the market state at a point in time.
type Source interface {
	Snapshot(ctx context.Context, at time.Time) (models.MarketSnapshot, error)
}

// Historical is a Source backed by a fixed calendar of trading days.
type Historical interface {
	Source
	Calendar() []time.Time
}

// MemorySource is a Historical source over an in-memory set of daily bars.
// A calendar day without a bar (or with a bad bar) reports ErrDataUnavailable.
type MemorySource struct {
	bars     map[string]models.MarketSnapshot
	calendar []time.Time
}

// Ensure MemorySource implements Historical at compile time.
var _ Historical = (*MemorySource)(nil)

// NewMemorySource builds a source from daily snapshots. calendar lists every
// trading day to replay, including days without data; nil derives it from
// the snapshots.
func NewMemorySource(snaps []models.MarketSnapshot, calendar []time.Time) *MemorySource {
	m := &MemorySource{bars: make(map[string]models.MarketSnapshot, len(snaps))}
	for _, s := range snaps {
		d := s.Date
		if d.IsZero() {
			d = s.Time
		}
		m.bars[dateKey(d)] = s
	}
	if calendar == nil {
		for _, s := range snaps {
			d := s.Date
			if d.IsZero() {
				d = s.Time
			}
			calendar = append(calendar, d)
		}
	}
	m.calendar = append([]time.Time(nil), calendar...)
	sort.Slice(m.calendar, func(i, j int) bool { return m.calendar[i].Before(m.calendar[j]) })
	return m
}

// Calendar returns the trading days in ascending order
func (m *MemorySource) Calendar() []time.Time {
	return append([]time.Time(nil), m.calendar...)
}

// Snapshot returns the bar for the calendar day of at.
func (m *MemorySource) Snapshot(ctx context.Context, at time.Time) (models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketSnapshot{}, err
	}
	s, ok := m.bars[dateKey(at)]
	if !ok {
		return models.MarketSnapshot{}, fmt.Errorf("%s: %w", dateKey(at), ErrDataUnavailable)
	}
	if err := s.Validate(); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%s: %v: %w", dateKey(at), err, ErrDataUnavailable)
	}
	return s, nil
}

// Range restricts the source to [from, to] inclusive; zero bounds are open.
func (m *MemorySource) Range(from, to time.Time) *MemorySource {
	out := &MemorySource{bars: m.bars}
	for _, d := range m.calendar {
		if !from.IsZero() && dateKey(d) < dateKey(from) {
			continue
		}
		if !to.IsZero() && dateKey(d) > dateKey(to) {
			continue
		}
		out.calendar = append(out.calendar, d)
	}
	return out
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
