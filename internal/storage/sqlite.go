package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// positionRecord is one position row. Payload holds the full JSON document;
// the other columns exist for querying.
type positionRecord struct {
	ID          string `gorm:"primaryKey"`
	Symbol      string `gorm:"index"`
	State       string `gorm:"index"`
	ExitReason  string
	Payload     string
	EntryDate   time.Time
	ExitDate    time.Time `gorm:"index"`
	UpdatedAt   time.Time
	RealizedPnL float64
}

func (positionRecord) TableName() string { return "positions" }

type riskEventRecord struct {
	OccurredAt time.Time `gorm:"index"`
	Kind       string    `gorm:"index"`
	Detail     string
	Severity   string
	TradeID    string
	ID         uint `gorm:"primaryKey"`
}

func (riskEventRecord) TableName() string { return "risk_events" }

func toRecord(pos *models.Position) (*positionRecord, error) {
	payload, err := json.Marshal(pos)
	if err != nil {
		return nil, fmt.Errorf("encoding position %s: %w", pos.ID, err)
	}
	return &positionRecord{
		ID:          pos.ID,
		Symbol:      pos.Symbol,
		State:       string(pos.GetCurrentState()),
		ExitReason:  string(pos.ExitReason),
		Payload:     string(payload),
		EntryDate:   pos.EntryDate,
		ExitDate:    pos.ExitDate,
		RealizedPnL: pos.RealizedPnL,
	}, nil
}

func fromPayload(payload string) (*models.Position, error) {
	var p models.Position
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decoding position: %w", err)
	}
	return &p, nil
}

// SQLiteStorage implements Interface on a local SQLite file through gorm.
type SQLiteStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewSQLiteStorage opens (and migrates) the database at dbPath.
func NewSQLiteStorage(dbPath string, log *logrus.Logger) (*SQLiteStorage, error) {
	if dbPath == "" {
		dbPath = "data/condor.db"
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&positionRecord{}, &riskEventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStorage{db: db, logger: logging.OrDiscard(log)}, nil
}

// RecordPosition upserts an open position
func (s *SQLiteStorage) RecordPosition(ctx context.Context, pos *models.Position) error {
	if !isOpenState(pos.GetCurrentState()) {
		return fmt.Errorf("position %s is %s, not open", pos.ID, pos.GetCurrentState())
	}
	rec, err := toRecord(pos)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// RecordTrade marks the row closed. A second call for a closed row is a no-op.
func (s *SQLiteStorage) RecordTrade(ctx context.Context, pos *models.Position) error {
	if pos.GetCurrentState() != models.StateClosed {
		return fmt.Errorf("position %s is %s, not closed", pos.ID, pos.GetCurrentState())
	}
	rec, err := toRecord(pos)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing positionRecord
		res := tx.Where("id = ? AND state = ?", pos.ID, string(models.StateClosed)).Limit(1).Find(&existing)
		if res.Error != nil {
			return fmt.Errorf("failed to look up trade: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			s.logger.WithField("trade_id", pos.ID).Debug("Trade already recorded")
			return nil
		}
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}
		return nil
	})
}

// RecordRiskEvent inserts ev
func (s *SQLiteStorage) RecordRiskEvent(ctx context.Context, ev RiskEvent) error {
	rec := riskEventRecord{OccurredAt: ev.Time, Kind: ev.Kind, Detail: ev.Detail, Severity: ev.Severity, TradeID: ev.TradeID}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) decode(recs []positionRecord) ([]*models.Position, error) {
	out := make([]*models.Position, 0, len(recs))
	for _, r := range recs {
		p, err := fromPayload(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", r.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// QueryOpenPositions returns OPEN and CLOSING positions
func (s *SQLiteStorage) QueryOpenPositions(ctx context.Context) ([]*models.Position, error) {
	var recs []positionRecord
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{string(models.StateOpen), string(models.StateClosing)}).
		Order("entry_date ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}
	return s.decode(recs)
}

// QueryTradeHistory returns closed trades by exit date
func (s *SQLiteStorage) QueryTradeHistory(ctx context.Context, from, to time.Time) ([]*models.Position, error) {
	q := s.db.WithContext(ctx).Where("state = ?", string(models.StateClosed))
	if !from.IsZero() {
		q = q.Where("exit_date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("exit_date <= ?", to)
	}
	var recs []positionRecord
	if err := q.Order("exit_date ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	return s.decode(recs)
}

// QueryRiskEvents returns events at or after since
func (s *SQLiteStorage) QueryRiskEvents(ctx context.Context, since time.Time) ([]RiskEvent, error) {
	q := s.db.WithContext(ctx)
	if !since.IsZero() {
		q = q.Where("occurred_at >= ?", since)
	}
	var recs []riskEventRecord
	if err := q.Order("occurred_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get risk events: %w", err)
	}
	out := make([]RiskEvent, len(recs))
	for i, r := range recs {
		out[i] = RiskEvent{Time: r.OccurredAt, Kind: r.Kind, Detail: r.Detail, Severity: r.Severity, TradeID: r.TradeID}
	}
	return out, nil
}

// GetStatistics computes statistics over the full history
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*Statistics, error) {
	trades, err := s.QueryTradeHistory(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return ComputeStatistics(trades), nil
}

// Close releases the underlying connection
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
