package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwdevries/snipebot/internal/domain"
	"github.com/jwdevries/snipebot/internal/server"
	"github.com/jwdevries/snipebot/internal/server/handler"
)

const (
	// streamReadyTimeout bounds how long startup waits for a stream to
	// reach the ready state.
	streamReadyTimeout = 30 * time.Second

	// serverShutdownTimeout bounds the HTTP server drain on shutdown.
	serverShutdownTimeout = 5 * time.Second

	// summaryTimeout bounds delivery of the final shutdown notification.
	summaryTimeout = 10 * time.Second
)

// TradeMode runs the full trading stack: both websocket streams, the poll
// orchestrator, notification delivery, the optional archive cron, and the
// HTTP API. It blocks until the context is cancelled or a subsystem fails.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	startedAt := time.Now().UTC()
	g, ctx := errgroup.WithContext(ctx)

	orch := NewOrchestrator(OrchestratorConfig{
		Scanner:  deps.Scanner,
		Ladder:   deps.Ladder,
		Ledger:   deps.Ledger,
		Notifier: deps.Notifier,
		Clock:    deps.Clock,
		Interval: a.cfg.Sniper.PollInterval.Duration,
		Offset:   a.cfg.Sniper.PollOffset.Duration,
		Logger:   a.base,
	})

	g.Go(func() error {
		err := deps.Public.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("public stream: %w", err)
	})
	g.Go(func() error {
		err := deps.Private.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("private stream: %w", err)
	})
	g.Go(func() error {
		err := deps.Notifier.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	if deps.Archiver != nil {
		cron := a.cfg.S3.ArchiveCron
		g.Go(func() error {
			err := deps.Archiver.RunCron(ctx, cron)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch, startedAt)
	}

	g.Go(func() error {
		err := a.runTrading(ctx, deps, orch)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	err := g.Wait()
	a.sendShutdownSummary(deps, orch, startedAt)
	return err
}

// runTrading performs the startup sequence and then hands control to the
// orchestrator: wait for both streams, verify the account is reachable, seed
// the scanner with the current universe, and announce the start.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, orch *Orchestrator) error {
	if err := deps.Public.WaitReady(ctx, streamReadyTimeout); err != nil {
		return fmt.Errorf("app: public stream not ready: %w", err)
	}
	if err := deps.Private.WaitReady(ctx, streamReadyTimeout); err != nil {
		return fmt.Errorf("app: private stream not ready: %w", err)
	}

	account, err := deps.Client.GetWalletBalance(ctx)
	if err != nil {
		return fmt.Errorf("app: wallet balance check: %w", err)
	}
	a.logger.InfoContext(ctx, "account verified",
		slog.Float64("equity_usdt", account.Equity()),
		slog.Int64("clock_offset_ms", deps.Clock.Offset()))

	known, err := deps.Scanner.Initialize(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "instrument universe seeded", slog.Int("instruments", known))

	deps.Notifier.Notify("lifecycle", "Bot started", fmt.Sprintf(
		"mode %s\n%d instruments tracked\nequity %.2f USDT",
		a.cfg.Mode, known, account.Equity()))

	return orch.Run(ctx)
}

// MonitorMode runs everything except order placement: the public stream, the
// poll loop in report-only mode, notifications, the optional archive cron,
// and the HTTP API. No credentials are required.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	startedAt := time.Now().UTC()
	g, ctx := errgroup.WithContext(ctx)

	orch := NewOrchestrator(OrchestratorConfig{
		Scanner:  deps.Scanner,
		Ledger:   deps.Ledger,
		Notifier: deps.Notifier,
		Clock:    deps.Clock,
		Interval: a.cfg.Sniper.PollInterval.Duration,
		Offset:   a.cfg.Sniper.PollOffset.Duration,
		Logger:   a.base,
	})

	g.Go(func() error {
		err := deps.Public.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("public stream: %w", err)
	})
	g.Go(func() error {
		err := deps.Notifier.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	if deps.Archiver != nil {
		cron := a.cfg.S3.ArchiveCron
		g.Go(func() error {
			err := deps.Archiver.RunCron(ctx, cron)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch, startedAt)
	}

	g.Go(func() error {
		err := a.runMonitoring(ctx, deps, orch)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	err := g.Wait()
	a.sendShutdownSummary(deps, orch, startedAt)
	return err
}

// runMonitoring performs the credential-free startup sequence and then hands
// control to the report-only poll loop.
func (a *App) runMonitoring(ctx context.Context, deps *Dependencies, orch *Orchestrator) error {
	if err := deps.Public.WaitReady(ctx, streamReadyTimeout); err != nil {
		return fmt.Errorf("app: public stream not ready: %w", err)
	}

	known, err := deps.Scanner.Initialize(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "instrument universe seeded", slog.Int("instruments", known))

	deps.Notifier.Notify("lifecycle", "Bot started", fmt.Sprintf(
		"mode %s\n%d instruments tracked", a.cfg.Mode, known))

	return orch.Run(ctx)
}

// startHTTPServer adds the HTTP API server and its shutdown watcher to the
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *Orchestrator, startedAt time.Time) {
	status := handler.NewStatusHandler(handler.StatusDeps{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
		Ledger:    deps.Ledger,
		Marks:     deps.Router,
		Clock:     deps.Clock,
		Snipes:    orch,
		Streams: func() map[string]domain.StreamState {
			states := map[string]domain.StreamState{"public": deps.Public.State()}
			if deps.Private != nil {
				states["private"] = deps.Private.State()
			}
			return states
		},
	})

	srv := server.NewServer(
		server.Config{Port: a.cfg.Server.Port, AuthToken: a.cfg.Server.AuthToken},
		server.Handlers{Status: status, Trades: handler.NewTradesHandler(deps.Ledger)},
		a.base,
	)

	g.Go(func() error {
		err := srv.Start()
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// sendShutdownSummary delivers the final lifecycle notification synchronously,
// outside the cancelled run context.
func (a *App) sendShutdownSummary(deps *Dependencies, orch *Orchestrator, startedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	attempted, succeeded := orch.SnipeCounts()
	pnl := deps.Ledger.TotalPnl()
	body := fmt.Sprintf("uptime %s\nsnipes %d attempted, %d filled\nrealized net %+.4f USDT",
		time.Since(startedAt).Round(time.Second), attempted, succeeded, pnl.NetPnl)
	if err := deps.Notifier.NotifyAll(ctx, "Bot stopped", body); err != nil {
		a.logger.Warn("shutdown summary delivery failed", slog.String("error", err.Error()))
	}

	a.logger.Info("run complete",
		slog.Int64("snipes_attempted", attempted),
		slog.Int64("snipes_succeeded", succeeded),
		slog.Float64("net_pnl", pnl.NetPnl))
}
