package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// MockStorage is an in-memory Interface for tests. Setting RecordError makes
// every write fail.
type MockStorage struct {
	RecordError error
	open        map[string]*models.Position
	history     []*models.Position
	events      []RiskEvent
	statistics  *Statistics
	writes      int
	mu          sync.Mutex
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		open:       make(map[string]*models.Position),
		statistics: &Statistics{},
	}
}

// RecordPosition stores a copy of pos
func (m *MockStorage) RecordPosition(_ context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.RecordError != nil {
		return m.RecordError
	}
	m.open[pos.ID] = pos.Copy()
	return nil
}

// RecordTrade moves pos to history once
func (m *MockStorage) RecordTrade(_ context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.RecordError != nil {
		return m.RecordError
	}
	for _, h := range m.history {
		if h.ID == pos.ID {
			return nil
		}
	}
	delete(m.open, pos.ID)
	m.history = append(m.history, pos.Copy())
	m.statistics.update(pos.RealizedPnL)
	return nil
}

// RecordRiskEvent appends ev
func (m *MockStorage) RecordRiskEvent(_ context.Context, ev RiskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.RecordError != nil {
		return m.RecordError
	}
	m.events = append(m.events, ev)
	return nil
}

// QueryOpenPositions returns copies of the open set
func (m *MockStorage) QueryOpenPositions(_ context.Context) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// QueryTradeHistory filters history by exit date
func (m *MockStorage) QueryTradeHistory(_ context.Context, from, to time.Time) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.history {
		if inRange(p.ExitDate, from, to) {
			out = append(out, p.Copy())
		}
	}
	return out, nil
}

// QueryRiskEvents filters events by time
func (m *MockStorage) QueryRiskEvents(_ context.Context, since time.Time) ([]RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RiskEvent
	for _, ev := range m.events {
		if inRange(ev.Time, since, time.Time{}) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// EventsOfKind returns recorded events with the given kind
func (m *MockStorage) EventsOfKind(kind string) []RiskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RiskEvent
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// GetStatistics returns a copy of the statistics
func (m *MockStorage) GetStatistics(_ context.Context) (*Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.statistics
	return &c, nil
}

// Writes returns how many write calls were made
func (m *MockStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Close does nothing
func (m *MockStorage) Close() error { return nil }
