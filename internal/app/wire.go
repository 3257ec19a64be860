package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/jwdevries/snipebot/internal/blob/s3"
	"github.com/jwdevries/snipebot/internal/config"
	"github.com/jwdevries/snipebot/internal/crypto"
	"github.com/jwdevries/snipebot/internal/domain"
	"github.com/jwdevries/snipebot/internal/notify"
	"github.com/jwdevries/snipebot/internal/pipeline"
	"github.com/jwdevries/snipebot/internal/platform/bybit"
	"github.com/jwdevries/snipebot/internal/position"
	"github.com/jwdevries/snipebot/internal/scanner"
	"github.com/jwdevries/snipebot/internal/sniper"
	"github.com/jwdevries/snipebot/internal/store/postgres"
)

// fillTrackerCapacity bounds the pending-confirmation table shared by the
// order stream and the ladder.
const fillTrackerCapacity = 256

// mirrorTimeout bounds each Postgres insert issued from the exit callback,
// which runs on the stream read goroutine.
const mirrorTimeout = 5 * time.Second

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Client  *bybit.Client
	Clock   *bybit.ClockSync
	Router  *bybit.Router
	Public  *bybit.Stream
	Private *bybit.Stream // nil in monitor mode

	Scanner *scanner.Scanner
	Ledger  *position.Ledger
	Fills   *sniper.FillTracker
	Ladder  *sniper.Ladder // nil in monitor mode

	TradeStore *postgres.TradeStore // nil unless the Postgres mirror is enabled
	Archiver   *pipeline.Archiver   // nil unless the S3 archiver is enabled
	Notifier   *notify.Notifier
}

// Wire constructs all concrete dependencies from the given configuration and
// returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	trading := strings.ToLower(cfg.Mode) == "trade"
	deps := &Dependencies{}

	// --- Exchange credentials (trade mode only; monitor stays credential-free) ---
	var creds crypto.Credentials
	if trading {
		var err error
		creds, err = crypto.LoadCredentials(crypto.KeySource{
			ApiKey:           cfg.Bybit.ApiKey,
			ApiSecret:        cfg.Bybit.ApiSecret,
			EncryptedKeyPath: cfg.Bybit.EncryptedKeyPath,
			KeyPassword:      cfg.Bybit.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: credentials: %w", err)
		}
	}

	// --- Exchange client and stream plumbing ---
	deps.Client = bybit.NewClient(cfg.Bybit.RestURL, creds.ApiKey, creds.ApiSecret, cfg.Bybit.RecvWindowMs)
	deps.Clock = bybit.NewClockSync()
	deps.Router = bybit.NewRouter(logger)

	deps.Public = bybit.NewStream(bybit.StreamConfig{
		Name:              "public",
		URL:               cfg.Bybit.WsPublicURL,
		PingInterval:      cfg.WebSocket.PublicPingInterval.Duration,
		PongTimeout:       cfg.WebSocket.PongTimeout.Duration,
		ReconnectDelay:    cfg.WebSocket.ReconnectDelay.Duration,
		MaxReconnectDelay: cfg.WebSocket.MaxReconnectDelay.Duration,
	}, deps.Router, nil, logger)
	closers = append(closers, func() { _ = deps.Public.Close() })

	if trading {
		deps.Private = bybit.NewStream(bybit.StreamConfig{
			Name:              "private",
			URL:               cfg.Bybit.WsPrivateURL,
			ApiKey:            creds.ApiKey,
			ApiSecret:         creds.ApiSecret,
			PingInterval:      cfg.WebSocket.PrivatePingInterval.Duration,
			PongTimeout:       cfg.WebSocket.PongTimeout.Duration,
			ReconnectDelay:    cfg.WebSocket.ReconnectDelay.Duration,
			MaxReconnectDelay: cfg.WebSocket.MaxReconnectDelay.Duration,
		}, deps.Router, deps.Clock, logger)
		closers = append(closers, func() { _ = deps.Private.Close() })

		// Registered before Run so the topics are part of the replayed
		// subscription set from the first connect onward.
		if err := deps.Private.Subscribe("order", "execution"); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: private subscriptions: %w", err)
		}
	}

	// --- Trade accounting ---
	journal := position.NewJournal(cfg.Journal.Path, logger)
	ledger, err := position.NewLedger(journal, cfg.Fees.TakerPct, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	deps.Ledger = ledger

	deps.Fills = sniper.NewFillTracker(fillTrackerCapacity)
	deps.Scanner = scanner.NewScanner(deps.Client, cfg.Sniper.MaxLaunchAge.Duration, logger)

	if trading {
		deps.Ladder = sniper.NewLadder(sniper.Params{
			BudgetUSDT:    cfg.Sniper.BudgetUSDT,
			Steps:         cfg.Ladder.Steps,
			RepeatPerStep: cfg.Ladder.RepeatPerStep,
			OrderInterval: cfg.Ladder.OrderInterval.Duration,
			MaxOrders:     cfg.Ladder.MaxOrders,
			TrailingPct:   cfg.Trailing.DistancePct,
			ActivationPct: cfg.Trailing.ActivationPct,
		}, deps.Client, deps.Router, deps.Public, deps.Fills, logger)

		// The order topic feeds two consumers: ladder correlation by link id
		// and the ledger's trailing-stop exit detection.
		fills := deps.Fills
		deps.Router.OnOrder(func(u bybit.OrderUpdate) {
			if strings.HasPrefix(u.OrderLinkID, "SNIPE_") && u.ExecutedQty() > 0 {
				fills.Put(domain.Fill{
					OrderLinkID: u.OrderLinkID,
					Qty:         u.ExecutedQty(),
					AvgPrice:    u.ExecutedPrice(),
					Status:      u.OrderStatus,
				})
			}
			ledger.HandleOrderUpdate(u)
		})
		deps.Router.OnExecution(ledger.HandleExecution)
	}

	// --- PostgreSQL trade mirror (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())

		// Backfill so the mirror converges with the journal after downtime.
		// Inserts are idempotent on trade id, so replays are harmless.
		if history := ledger.Trades(); len(history) > 0 {
			if err := deps.TradeStore.InsertBatch(ctx, history); err != nil {
				logger.Warn("postgres backfill failed",
					slog.Int("trades", len(history)),
					slog.String("error", err.Error()))
			}
		}
	}

	// --- S3 journal archiver (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = pipeline.NewArchiver(s3blob.NewArchiver(s3blob.NewWriter(s3Client), ledger), logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Exit notifications and the Postgres mirror hang off the ledger's exit
	// callback, which fires after the trade is journaled.
	store := deps.TradeStore
	notifier := deps.Notifier
	ledger.OnExit(func(tr domain.TradeResult) {
		notifier.Notify("exit", "Position closed", fmt.Sprintf(
			"%s %s qty %g\nentry %g exit %g\nnet %+.4f USDT (%+.2f%%)",
			tr.Symbol, tr.Side, tr.Qty, tr.EntryPrice, tr.ExitPrice, tr.NetPnl, tr.RoiPct))
		if store != nil {
			mirrorCtx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := store.InsertBatch(mirrorCtx, []domain.TradeResult{tr}); err != nil {
				logger.Warn("postgres trade mirror failed",
					slog.String("trade_id", tr.ID),
					slog.String("error", err.Error()))
			}
		}
	})

	return deps, cleanup, nil
}
