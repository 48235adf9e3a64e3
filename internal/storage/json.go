package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// JSONStorage keeps everything in one JSON document that is rewritten with
// an atomic rename on every change.
type JSONStorage struct {
	data     *Data
	filepath string
	mu       sync.RWMutex
}

// Data is the on-disk document.
type Data struct {
	OpenPositions map[string]*models.Position `json:"open_positions"`
	History       []*models.Position          `json:"history"`
	RiskEvents    []RiskEvent                 `json:"risk_events"`
	DailyPnL      map[string]float64          `json:"daily_pnl"`
	Statistics    *Statistics                 `json:"statistics"`
	LastUpdated   time.Time                   `json:"last_updated"`
}

func newData() *Data {
	return &Data{
		OpenPositions: make(map[string]*models.Position),
		DailyPnL:      make(map[string]float64),
		Statistics:    &Statistics{},
	}
}

// NewJSONStorage opens path, loading it when it exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		path = "data/positions.json"
	}
	s := &JSONStorage{filepath: path, data: newData()}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	data := newData()
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.OpenPositions == nil {
		data.OpenPositions = make(map[string]*models.Position)
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}
	if data.Statistics == nil {
		data.Statistics = ComputeStatistics(data.History)
	}
	s.data = data
	return nil
}

// saveLocked writes the document. Callers hold mu.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// RecordPosition upserts an open position.
func (s *JSONStorage) RecordPosition(_ context.Context, pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position with an ID is required")
	}
	if !isOpenState(pos.GetCurrentState()) {
		return fmt.Errorf("position %s is %s, not open", pos.ID, pos.GetCurrentState())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.OpenPositions[pos.ID] = pos.Copy()
	return s.saveLocked()
}

// RecordTrade moves a closed position into history.
func (s *JSONStorage) RecordTrade(_ context.Context, pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position with an ID is required")
	}
	if pos.GetCurrentState() != models.StateClosed {
		return fmt.Errorf("position %s is %s, not closed", pos.ID, pos.GetCurrentState())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.data.History {
		if h.ID == pos.ID {
			return nil
		}
	}
	delete(s.data.OpenPositions, pos.ID)
	s.data.History = append(s.data.History, pos.Copy())
	s.data.Statistics.update(pos.RealizedPnL)
	s.data.DailyPnL[pos.ExitDate.Format("2006-01-02")] += pos.RealizedPnL
	return s.saveLocked()
}

// RecordRiskEvent appends ev
func (s *JSONStorage) RecordRiskEvent(_ context.Context, ev RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.RiskEvents = append(s.data.RiskEvents, ev)
	return s.saveLocked()
}

// QueryOpenPositions returns open positions ordered by entry date.
func (s *JSONStorage) QueryOpenPositions(_ context.Context) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Position, 0, len(s.data.OpenPositions))
	for _, p := range s.data.OpenPositions {
		out = append(out, p.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryDate.Before(out[j].EntryDate)
	})
	return out, nil
}

// QueryTradeHistory returns closed trades exiting within [from, to].
func (s *JSONStorage) QueryTradeHistory(_ context.Context, from, to time.Time) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Position
	for _, p := range s.data.History {
		if inRange(p.ExitDate, from, to) {
			out = append(out, p.Copy())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitDate.Before(out[j].ExitDate) })
	return out, nil
}

// QueryRiskEvents returns events at or after since.
func (s *JSONStorage) QueryRiskEvents(_ context.Context, since time.Time) ([]RiskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RiskEvent
	for _, ev := range s.data.RiskEvents {
		if inRange(ev.Time, since, time.Time{}) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetStatistics returns a copy of the running statistics
func (s *JSONStorage) GetStatistics(_ context.Context) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := *s.data.Statistics
	return &c, nil
}

// GetDailyPnL returns realized P&L for a YYYY-MM-DD exit date
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// Close is a no-op; every change is already on disk.
func (s *JSONStorage) Close() error { return nil }
