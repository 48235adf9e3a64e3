package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/notify"
	"github.com/eddiefleurent/scranton_condor/internal/orders"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// ErrTradingHalted is returned by every tick after a fatal reconciliation
// failure. Only a restart clears it.
var ErrTradingHalted = errors.New("trading halted pending manual intervention")

// Recorder receives position, trade and risk event writes. storage.Interface
// satisfies it.
type Recorder interface {
	RecordPosition(ctx context.Context, pos *models.Position) error
	RecordTrade(ctx context.Context, pos *models.Position) error
	RecordRiskEvent(ctx context.Context, ev storage.RiskEvent) error
}

// Deps are the collaborators an Engine drives. Gateway, Chains and Risk are
// required.
type Deps struct {
	Gateway  broker.Gateway
	Chains   ChainProvider
	Risk     *risk.Manager
	Recorder Recorder
	Notifier notify.Notifier
	Logger   *logrus.Logger
	IDs      IDGenerator
	Model    pricing.Model
	Tracker  orders.Config
}

// TickReport summarizes what one tick did.
type TickReport struct {
	Time           time.Time          `json:"time"`
	Opened         *models.Position   `json:"opened,omitempty"`
	Veto           *risk.LimitBreach  `json:"veto,omitempty"`
	EntrySkip      string             `json:"entry_skip,omitempty"`
	Closed         []*models.Position `json:"closed,omitempty"`
	Spot           float64            `json:"spot"`
	ExitsSubmitted int                `json:"exits_submitted"`
	Abandoned      bool               `json:"abandoned"`
}

// Engine owns the open position set and advances it one snapshot at a time.
// It runs no timers of its own; the caller invokes OnTick at its cadence.
type Engine struct {
	gateway  broker.Gateway
	chains   ChainProvider
	risk     *risk.Manager
	recorder Recorder
	notifier notify.Notifier
	logger   *logrus.Logger
	tracker  *orders.Tracker
	ids      IDGenerator
	model    pricing.Model

	positions []*models.Position // OPEN and CLOSING, in entry order
	closed    []*models.Position // closed during this engine's lifetime
	cfg       Config
	mu        sync.Mutex
}

// New creates an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	if deps.Gateway == nil || deps.Chains == nil || deps.Risk == nil {
		return nil, errors.New("strategy engine requires a gateway, chain provider and risk manager")
	}
	logger := logging.OrDiscard(deps.Logger)
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(logger)
	}
	if deps.IDs == nil {
		deps.IDs = UUIDs()
	}
	return &Engine{
		gateway:  deps.Gateway,
		chains:   deps.Chains,
		risk:     deps.Risk,
		recorder: deps.Recorder,
		notifier: deps.Notifier,
		logger:   logger,
		tracker:  orders.NewTracker(deps.Gateway, logger, deps.Tracker),
		ids:      deps.IDs,
		model:    deps.Model,
		cfg:      cfg,
	}, nil
}

// Config returns the engine's configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// OnTick runs one decision cycle: resolve pending unwinds, evaluate exits,
// then evaluate at most one entry. A ConnectionError abandons the rest of the
// tick with open positions untouched.
func (e *Engine) OnTick(ctx context.Context, snap models.MarketSnapshot) (TickReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := TickReport{Time: snap.Time, Spot: snap.Price}
	if err := snap.Validate(); err != nil {
		return report, fmt.Errorf("tick rejected: %w", err)
	}
	if e.risk.Halted() {
		return report, ErrTradingHalted
	}
	e.risk.StartSession(snap.Time)

	if e.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TickTimeout)
		defer cancel()
	}

	if err := e.resolvePending(ctx, snap, &report); err != nil {
		return e.abandon(report, "resolve", err)
	}
	if err := e.evaluateExits(ctx, snap, &report); err != nil {
		return e.abandon(report, "exits", err)
	}
	if err := e.evaluateEntry(ctx, snap, &report); err != nil {
		return e.abandon(report, "entry", err)
	}

	e.logger.WithFields(logrus.Fields{
		"time":    snap.Time.Format(time.RFC3339),
		"spot":    snap.Price,
		"open":    len(e.positions),
		"exits":   report.ExitsSubmitted,
		"entered": report.Opened != nil,
		"skip":    report.EntrySkip,
	}).Debug("Tick complete")
	return report, nil
}

func (e *Engine) abandon(report TickReport, stage string, err error) (TickReport, error) {
	if errors.Is(err, ErrTradingHalted) {
		return report, err
	}
	report.Abandoned = true
	fields := logrus.Fields{"stage": stage, "error": err}
	if broker.IsConnectionError(err) || errors.Is(err, context.DeadlineExceeded) {
		e.logger.WithFields(fields).Warn("Gateway unreachable, tick abandoned")
	} else {
		e.logger.WithFields(fields).Error("Tick abandoned")
	}
	return report, fmt.Errorf("%s: %w", stage, err)
}

// OpenPositions returns copies of the OPEN and CLOSING positions.
func (e *Engine) OpenPositions() []*models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyPositions(e.positions)
}

// ClosedPositions returns copies of positions closed by this engine.
func (e *Engine) ClosedPositions() []*models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyPositions(e.closed)
}

func copyPositions(in []*models.Position) []*models.Position {
	out := make([]*models.Position, len(in))
	for i, p := range in {
		out[i] = p.Copy()
	}
	return out
}

// RiskSnapshot returns a copy of the risk state
func (e *Engine) RiskSnapshot() risk.State {
	return e.risk.Snapshot()
}

// Halted reports whether trading stopped after a reconciliation failure
func (e *Engine) Halted() bool {
	return e.risk.Halted()
}

// MarkToModel returns the unrealized P&L of every open position at the
// snapshot, net of entry commissions, valued the same way exits are.
func (e *Engine) MarkToModel(snap models.MarketSnapshot) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markLocked(snap)
}

func (e *Engine) markLocked(snap models.MarketSnapshot) float64 {
	total := 0.0
	for _, p := range e.positions {
		value, err := e.value(p, snap, true)
		if err != nil {
			value = p.CurrentValue
		}
		total += (p.EntryCredit-value)*float64(p.Quantity)*models.SharesPerContract - p.EntryCommission
	}
	return total
}

// Equity is initial equity plus realized P&L plus the mark of open positions.
func (e *Engine) Equity(snap models.MarketSnapshot) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.InitialEquity + e.risk.Snapshot().RealizedPnL + e.markLocked(snap)
}

// MarkEquity computes equity at the snapshot and feeds it to the risk
// manager's peak and drawdown tracking.
func (e *Engine) MarkEquity(snap models.MarketSnapshot) float64 {
	eq := e.Equity(snap)
	e.risk.MarkEquity(eq)
	return eq
}

// Restore loads persisted open positions and replays closed history into
// the risk manager after a restart.
func (e *Engine) Restore(open, history []*models.Position, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = e.positions[:0]
	for _, p := range open {
		if p == nil {
			continue
		}
		switch p.GetCurrentState() {
		case models.StateOpen, models.StateClosing:
			e.positions = append(e.positions, p.Copy())
		}
	}
	e.risk.Restore(history, now)
	e.logger.WithFields(logrus.Fields{
		"open":    len(e.positions),
		"history": len(history),
	}).Info("Engine state restored")
}

// value returns the debit to close p at the snapshot. With fallback set, a
// DomainError from the model is replaced by the intrinsic value.
func (e *Engine) value(p *models.Position, snap models.MarketSnapshot, fallback bool) (float64, error) {
	sq, err := e.model.Spread(p, snap.Price, snap.Volatility(), snap.Time)
	if err == nil {
		return sq.Value, nil
	}
	var de *pricing.DomainError
	if fallback && errors.As(err, &de) {
		return intrinsicValue(p, snap.Price), nil
	}
	return 0, err
}

func intrinsicValue(p *models.Position, spot float64) float64 {
	v := 0.0
	for _, leg := range p.Legs {
		v += leg.CloseSign() * pricing.Intrinsic(leg.Type, spot, leg.Strike)
	}
	return v
}

// event records a risk event; persistence failures are logged, never fatal.
func (e *Engine) event(ctx context.Context, at time.Time, kind, severity, tradeID, detail string) {
	if e.recorder == nil {
		return
	}
	ev := storage.RiskEvent{Time: at, Kind: kind, Detail: detail, Severity: severity, TradeID: tradeID}
	if err := e.recorder.RecordRiskEvent(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WithFields(logrus.Fields{"kind": kind, "error": err}).Error("Failed to record risk event")
	}
}

func (e *Engine) persistPosition(ctx context.Context, p *models.Position) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordPosition(context.WithoutCancel(ctx), p.Copy()); err != nil {
		e.logger.WithFields(logrus.Fields{"position_id": p.ID, "error": err}).Error("Failed to save position")
	}
}

func (e *Engine) persistTrade(ctx context.Context, p *models.Position) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordTrade(context.WithoutCancel(ctx), p.Copy()); err != nil {
		e.logger.WithFields(logrus.Fields{"position_id": p.ID, "error": err}).Error("Failed to record trade")
	}
}

// halt stops all further trading, records a critical event and alerts.
func (e *Engine) halt(ctx context.Context, at time.Time, tradeID, detail string) error {
	e.risk.Halt(detail)
	e.event(ctx, at, storage.EventFatalReconciliation, storage.SeverityCritical, tradeID, detail)
	if err := e.notifier.Notify(context.WithoutCancel(ctx), "Trading halted", detail); err != nil {
		e.logger.WithError(err).Error("Failed to send halt alert")
	}
	return fmt.Errorf("%w: %s", ErrTradingHalted, detail)
}
