// Package storage persists positions, closed trades and risk events.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// ErrUnknownDriver is returned by New for an unsupported backend name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Risk event kinds
const (
	EventLimitBreach         = "limit_breach"
	EventOrderRejected       = "order_rejected"
	EventEntryFailed         = "entry_failed"
	EventExitAbandoned       = "exit_abandoned"
	EventFatalReconciliation = "fatal_reconciliation"
)

// Severity levels for risk events
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// RiskEvent is an append-only record of a veto, rejection or operational alert.
type RiskEvent struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail"`
	Severity string    `json:"severity"`
	TradeID  string    `json:"trade_id,omitempty"`
}

// Interface defines the contract for position and trade data persistence.
//
// Implementations must be safe for concurrent use. Writes are append or
// upsert by position ID; no caller needs a read-modify-write transaction.
type Interface interface {
	// RecordPosition upserts an OPEN or CLOSING position.
	RecordPosition(ctx context.Context, pos *models.Position) error
	// RecordTrade stores a CLOSED position in the trade history and drops it
	// from the open set. Recording the same trade twice is a no-op.
	RecordTrade(ctx context.Context, pos *models.Position) error
	RecordRiskEvent(ctx context.Context, ev RiskEvent) error

	QueryOpenPositions(ctx context.Context) ([]*models.Position, error)
	// QueryTradeHistory returns closed trades whose exit date lies in
	// [from, to], oldest first. Zero bounds are open.
	QueryTradeHistory(ctx context.Context, from, to time.Time) ([]*models.Position, error)
	QueryRiskEvents(ctx context.Context, since time.Time) ([]RiskEvent, error)
	GetStatistics(ctx context.Context) (*Statistics, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string // json, sqlite or postgres
	Path   string // file path for json and sqlite
	DSN    string // connection string for postgres
}

// New opens the configured backend.
func New(ctx context.Context, opts Options, logger *logrus.Logger) (Interface, error) {
	switch opts.Driver {
	case "", "json":
		return NewJSONStorage(opts.Path)
	case "sqlite":
		return NewSQLiteStorage(opts.Path, logger)
	case "postgres":
		return NewPostgresStorage(ctx, opts.DSN, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// Ensure every backend implements Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*PostgresStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func isOpenState(s models.PositionState) bool {
	return s == models.StateOpen || s == models.StateClosing
}
