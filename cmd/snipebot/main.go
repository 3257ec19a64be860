// Command snipebot is the entry point for the listing sniper. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode. The -encrypt-key flag runs a one-shot
// keystore generator instead of the bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwdevries/snipebot/internal/app"
	"github.com/jwdevries/snipebot/internal/config"
	"github.com/jwdevries/snipebot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.Bool("encrypt-key", false, "encrypt API credentials from the environment into a keystore file and exit")
	flag.Parse()

	// Structured JSON logger at the default level until config is loaded.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey {
		os.Exit(runEncryptKey(logger))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Rebuild the logger at the configured level.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("snipebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("snipebot stopped")
}

// runEncryptKey seals the API credentials found in the environment (or a .env
// file) into an encrypted keystore, so the plain values can be removed from
// config and env afterwards. The output path comes from
// SNIPEBOT_BYBIT_ENCRYPTED_KEY_PATH, defaulting to keys.enc.json.
func runEncryptKey(logger *slog.Logger) int {
	cfg := config.FromEnv()

	out := cfg.Bybit.EncryptedKeyPath
	if out == "" {
		out = "keys.enc.json"
	}

	blob, err := crypto.EncryptCredentials(crypto.Credentials{
		ApiKey:    cfg.Bybit.ApiKey,
		ApiSecret: cfg.Bybit.ApiSecret,
	}, cfg.Bybit.KeyPassword)
	if err != nil {
		logger.Error("encrypting credentials failed", slog.String("error", err.Error()))
		return 1
	}

	if err := os.WriteFile(out, blob, 0o600); err != nil {
		logger.Error("writing keystore failed",
			slog.String("path", out),
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("keystore written; remove plain credentials from config and env",
		slog.String("path", out),
	)
	return 0
}
