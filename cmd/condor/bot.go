package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/marketdata"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

// TickPublisher receives every tick report; the dashboard hub implements it.
type TickPublisher interface {
	PublishTick(report strategy.TickReport) error
}

// Bot drives the engine from a market source at a fixed cadence.
type Bot struct {
	engine    *strategy.Engine
	paper     *broker.Paper
	source    marketdata.Source
	publisher TickPublisher
	logger    *logrus.Logger
	now       func() time.Time
	interval  time.Duration
}

// Run ticks immediately and then every interval until ctx is done. It
// returns ErrTradingHalted when the engine halts.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.WithField("interval", b.interval.String()).Info("Bot starting main loop")
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			b.logger.Info("Bot stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle runs one tick. Data gaps and gateway outages are logged and retried
// on the next tick; a halt is returned.
func (b *Bot) cycle(ctx context.Context) error {
	now := b.now()
	snap, err := b.source.Snapshot(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		b.logger.WithError(err).Warn("No market snapshot, skipping tick")
		return nil
	}
	if b.paper != nil {
		b.paper.UpdateMarket(snap)
	}

	report, err := b.engine.OnTick(ctx, snap)
	switch {
	case errors.Is(err, strategy.ErrTradingHalted):
		b.logger.WithError(err).Error("Engine halted, manual intervention required")
		return err
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		b.logger.WithError(err).Warn("Tick abandoned, retrying next cycle")
	}

	equity := b.engine.MarkEquity(snap)
	if b.publisher != nil {
		if err := b.publisher.PublishTick(report); err != nil {
			b.logger.WithError(err).Warn("Failed to publish tick")
		}
	}

	fields := logrus.Fields{
		"spot":   snap.Price,
		"equity": equity,
		"open":   len(b.engine.OpenPositions()),
	}
	if report.Opened != nil {
		fields["opened"] = report.Opened.ID
	}
	if len(report.Closed) > 0 {
		fields["closed"] = len(report.Closed)
	}
	if report.EntrySkip != "" {
		fields["entry_skip"] = report.EntrySkip
	}
	b.logger.WithFields(fields).Info("Trading cycle complete")
	return nil
}
