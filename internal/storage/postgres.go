package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS condor_positions (
    id           TEXT PRIMARY KEY,
    symbol       TEXT NOT NULL,
    state        TEXT NOT NULL,
    exit_reason  TEXT NOT NULL DEFAULT '',
    entry_date   TIMESTAMPTZ,
    exit_date    TIMESTAMPTZ,
    realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
    payload      JSONB NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS condor_positions_state_idx ON condor_positions (state);
CREATE INDEX IF NOT EXISTS condor_positions_exit_idx ON condor_positions (exit_date);
CREATE TABLE IF NOT EXISTS condor_risk_events (
    id          BIGSERIAL PRIMARY KEY,
    occurred_at TIMESTAMPTZ NOT NULL,
    kind        TEXT NOT NULL,
    detail      TEXT NOT NULL,
    severity    TEXT NOT NULL,
    trade_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS condor_risk_events_time_idx ON condor_risk_events (occurred_at);
`

// PostgresStorage implements Interface on a pgx connection pool.
type PostgresStorage struct {
	db     *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresStorage connects to dsn and creates the tables if needed.
func NewPostgresStorage(ctx context.Context, dsn string, log *logrus.Logger) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, errors.New("postgres storage requires a DSN")
	}
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStorage{db: db, logger: logging.OrDiscard(log)}, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

const upsertPositionSQL = `
INSERT INTO condor_positions (id, symbol, state, exit_reason, entry_date, exit_date, realized_pnl, payload, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
ON CONFLICT (id) DO UPDATE SET
    symbol       = EXCLUDED.symbol,
    state        = EXCLUDED.state,
    exit_reason  = EXCLUDED.exit_reason,
    entry_date   = EXCLUDED.entry_date,
    exit_date    = EXCLUDED.exit_date,
    realized_pnl = EXCLUDED.realized_pnl,
    payload      = EXCLUDED.payload,
    updated_at   = now()
WHERE condor_positions.state <> 'closed'
`

func (s *PostgresStorage) upsert(ctx context.Context, pos *models.Position) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encoding position %s: %w", pos.ID, err)
	}
	_, err = s.db.Exec(ctx, upsertPositionSQL,
		pos.ID,
		pos.Symbol,
		string(pos.GetCurrentState()),
		string(pos.ExitReason),
		nullableTime(pos.EntryDate),
		nullableTime(pos.ExitDate),
		pos.RealizedPnL,
		payload,
	)
	return err
}

// RecordPosition upserts an open position
func (s *PostgresStorage) RecordPosition(ctx context.Context, pos *models.Position) error {
	if !isOpenState(pos.GetCurrentState()) {
		return fmt.Errorf("position %s is %s, not open", pos.ID, pos.GetCurrentState())
	}
	if err := s.upsert(ctx, pos); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// RecordTrade closes the row. Rows already closed are never rewritten.
func (s *PostgresStorage) RecordTrade(ctx context.Context, pos *models.Position) error {
	if pos.GetCurrentState() != models.StateClosed {
		return fmt.Errorf("position %s is %s, not closed", pos.ID, pos.GetCurrentState())
	}
	if err := s.upsert(ctx, pos); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// RecordRiskEvent inserts ev
func (s *PostgresStorage) RecordRiskEvent(ctx context.Context, ev RiskEvent) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO condor_risk_events (occurred_at, kind, detail, severity, trade_id)
        VALUES ($1,$2,$3,$4,$5)`,
		ev.Time, ev.Kind, ev.Detail, ev.Severity, ev.TradeID)
	if err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}

func collectPositions(rows pgx.Rows) ([]*models.Position, error) {
	defer rows.Close()
	var out []*models.Position
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		p, err := fromPayload(string(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueryOpenPositions returns OPEN and CLOSING positions
func (s *PostgresStorage) QueryOpenPositions(ctx context.Context) ([]*models.Position, error) {
	rows, err := s.db.Query(ctx, `
        SELECT payload FROM condor_positions
        WHERE state IN ($1, $2)
        ORDER BY entry_date ASC, id ASC`,
		string(models.StateOpen), string(models.StateClosing))
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}
	return collectPositions(rows)
}

// QueryTradeHistory returns closed trades by exit date
func (s *PostgresStorage) QueryTradeHistory(ctx context.Context, from, to time.Time) ([]*models.Position, error) {
	rows, err := s.db.Query(ctx, `
        SELECT payload FROM condor_positions
        WHERE state = $1
          AND ($2::timestamptz IS NULL OR exit_date >= $2)
          AND ($3::timestamptz IS NULL OR exit_date <= $3)
        ORDER BY exit_date ASC`,
		string(models.StateClosed), nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	return collectPositions(rows)
}

// QueryRiskEvents returns events at or after since
func (s *PostgresStorage) QueryRiskEvents(ctx context.Context, since time.Time) ([]RiskEvent, error) {
	rows, err := s.db.Query(ctx, `
        SELECT occurred_at, kind, detail, severity, trade_id FROM condor_risk_events
        WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
        ORDER BY occurred_at ASC, id ASC`,
		nullableTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to get risk events: %w", err)
	}
	defer rows.Close()

	var out []RiskEvent
	for rows.Next() {
		var ev RiskEvent
		if err := rows.Scan(&ev.Time, &ev.Kind, &ev.Detail, &ev.Severity, &ev.TradeID); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetStatistics computes statistics over the full history
func (s *PostgresStorage) GetStatistics(ctx context.Context) (*Statistics, error) {
	trades, err := s.QueryTradeHistory(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return ComputeStatistics(trades), nil
}

// Close closes the pool
func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}
