package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
)

// pollErrorPause is the recovery delay after an orchestration error before
// the loop resumes.
const pollErrorPause = time.Second

// ListingSource yields instruments newly listed since the previous call.
type ListingSource interface {
	ScanForNew(ctx context.Context) []domain.Instrument
}

// SnipeEngine places the entry ladder and arms the exchange-side stop.
type SnipeEngine interface {
	ExecuteSnipe(ctx context.Context, inst domain.Instrument) domain.SnipeResult
	SetTrailingStop(ctx context.Context, symbol string, entryPrice float64) error
}

// PositionBook records open positions and guards against double entry.
type PositionBook interface {
	HasPosition(symbol string) bool
	AddPosition(symbol string, side domain.Side, qty, entryPrice float64) error
	MarkTrailingSet(symbol string)
}

// Alerter queues operator notifications.
type Alerter interface {
	Notify(event, title, body string)
}

// Clock supplies exchange-adjusted wall time.
type Clock interface {
	Now() time.Time
}

// OrchestratorConfig configures the listing-detection loop.
type OrchestratorConfig struct {
	Scanner  ListingSource
	Ladder   SnipeEngine // nil disables order placement (monitor mode)
	Ledger   PositionBook
	Notifier Alerter
	Clock    Clock
	Interval time.Duration
	Offset   time.Duration
	Logger   *slog.Logger
}

// Orchestrator drives the listing-detection loop: clock-aligned polls, snipe
// dispatch on fresh listings, and the attempted/succeeded counters surfaced
// by the status API.
type Orchestrator struct {
	scanner  ListingSource
	ladder   SnipeEngine
	ledger   PositionBook
	notifier Alerter
	clock    Clock
	logger   *slog.Logger

	interval time.Duration
	offset   time.Duration

	attempted atomic.Int64
	succeeded atomic.Int64
}

// NewOrchestrator creates an Orchestrator from the given configuration.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		scanner:  cfg.Scanner,
		ladder:   cfg.Ladder,
		ledger:   cfg.Ledger,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With(slog.String("component", "orchestrator")),
		interval: cfg.Interval,
		offset:   cfg.Offset,
	}
}

// SnipeCounts reports how many snipes were attempted and how many succeeded.
func (o *Orchestrator) SnipeCounts() (attempted, succeeded int64) {
	return o.attempted.Load(), o.succeeded.Load()
}

// Run executes the poll loop until ctx is cancelled. Poll errors are logged
// and the loop resumes after a short pause.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "poll loop started",
		slog.Duration("interval", o.interval),
		slog.Duration("offset", o.offset),
		slog.Bool("trading", o.ladder != nil))

	for {
		if err := o.sleepUntilNextPoll(ctx); err != nil {
			return err
		}
		if err := o.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.ErrorContext(ctx, "poll failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, pollErrorPause) {
				return ctx.Err()
			}
		}
	}
}

// nextPollTime returns the first grid instant after now: a whole multiple of
// interval, shifted by offset.
func nextPollTime(now time.Time, interval, offset time.Duration) time.Time {
	return now.Truncate(interval).Add(interval + offset)
}

// sleepUntilNextPoll aligns the next poll to the interval grid of the
// exchange-adjusted clock plus the configured offset, sleeping in short
// slices so cancellation is honored promptly.
func (o *Orchestrator) sleepUntilNextPoll(ctx context.Context) error {
	next := nextPollTime(o.clock.Now(), o.interval, o.offset)
	for {
		remaining := next.Sub(o.clock.Now())
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining > time.Second {
			remaining = time.Second
		}
		if !sleepCtx(ctx, remaining) {
			return ctx.Err()
		}
	}
}

// poll runs one scan and dispatches each fresh listing.
func (o *Orchestrator) poll(ctx context.Context) error {
	for _, inst := range o.scanner.ScanForNew(ctx) {
		if o.ledger.HasPosition(inst.Symbol) {
			o.logger.InfoContext(ctx, "skipping listing, position already open",
				slog.String("symbol", inst.Symbol))
			continue
		}

		age := inst.Age(o.clock.Now()).Round(time.Second)
		o.notifier.Notify("listing", "New listing detected",
			fmt.Sprintf("%s listed %s ago", inst.Symbol, age))

		if o.ladder == nil {
			o.logger.InfoContext(ctx, "monitor mode, not sniping",
				slog.String("symbol", inst.Symbol))
			continue
		}

		if err := o.snipe(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// snipe runs the ladder against one instrument and records the outcome.
func (o *Orchestrator) snipe(ctx context.Context, inst domain.Instrument) error {
	o.attempted.Add(1)

	result := o.ladder.ExecuteSnipe(ctx, inst)
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "no fills"
		}
		o.logger.WarnContext(ctx, "snipe failed",
			slog.String("symbol", inst.Symbol),
			slog.Int("orders_sent", result.OrdersSent),
			slog.String("reason", reason))
		o.notifier.Notify("snipe", "Snipe failed",
			fmt.Sprintf("%s: %s (%d orders sent)", inst.Symbol, reason, result.OrdersSent))
		return nil
	}

	o.succeeded.Add(1)

	if err := o.ledger.AddPosition(result.Symbol, domain.SideBuy, result.FilledQty, result.AvgEntry); err != nil {
		return fmt.Errorf("app: record position %s: %w", result.Symbol, err)
	}

	if err := o.ladder.SetTrailingStop(ctx, result.Symbol, result.AvgEntry); err != nil {
		// The position is live without an exchange-side stop; surface it
		// and keep running.
		o.logger.ErrorContext(ctx, "trailing stop failed, position unprotected",
			slog.String("symbol", result.Symbol),
			slog.String("error", err.Error()))
		o.notifier.Notify("snipe", "Trailing stop failed",
			fmt.Sprintf("%s: %s", result.Symbol, err.Error()))
	} else {
		o.ledger.MarkTrailingSet(result.Symbol)
	}

	o.notifier.Notify("snipe", "Snipe complete", fmt.Sprintf(
		"%s filled %g @ %g\n%.2f USDT across %d orders",
		result.Symbol, result.FilledQty, result.AvgEntry, result.FilledValue, result.OrdersSent))
	return nil
}

// sleepCtx waits for d, returning false when ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
