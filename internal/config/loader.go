package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// FromEnv returns the built-in defaults with environment overrides applied,
// skipping the TOML file entirely. Used by the -encrypt-key bootstrap flow,
// which runs before a config file necessarily exists.
func FromEnv() *Config {
	cfg := Defaults()
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	return &cfg
}

// applyEnvOverrides reads well-known SNIPEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.ApiKey, "SNIPEBOT_BYBIT_API_KEY")
	setStr(&cfg.Bybit.ApiKey, "BYBIT_API_KEY") // compatibility alias
	setStr(&cfg.Bybit.ApiSecret, "SNIPEBOT_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.ApiSecret, "BYBIT_API_SECRET") // compatibility alias
	setStr(&cfg.Bybit.EncryptedKeyPath, "SNIPEBOT_BYBIT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Bybit.KeyPassword, "SNIPEBOT_BYBIT_KEY_PASSWORD")
	setStr(&cfg.Bybit.RestURL, "SNIPEBOT_BYBIT_REST_URL")
	setStr(&cfg.Bybit.WsPublicURL, "SNIPEBOT_BYBIT_WS_PUBLIC_URL")
	setStr(&cfg.Bybit.WsPrivateURL, "SNIPEBOT_BYBIT_WS_PRIVATE_URL")
	setInt(&cfg.Bybit.RecvWindowMs, "SNIPEBOT_BYBIT_RECV_WINDOW_MS")

	// ── Sniper ──
	setFloat64(&cfg.Sniper.BudgetUSDT, "SNIPEBOT_SNIPER_BUDGET_USDT")
	setDuration(&cfg.Sniper.PollInterval, "SNIPEBOT_SNIPER_POLL_INTERVAL")
	setDuration(&cfg.Sniper.PollOffset, "SNIPEBOT_SNIPER_POLL_OFFSET")
	setDuration(&cfg.Sniper.MaxLaunchAge, "SNIPEBOT_SNIPER_MAX_LAUNCH_AGE")

	// ── Ladder ──
	setFloatSlice(&cfg.Ladder.Steps, "SNIPEBOT_LADDER_STEPS")
	setInt(&cfg.Ladder.RepeatPerStep, "SNIPEBOT_LADDER_REPEAT_PER_STEP")
	setDuration(&cfg.Ladder.OrderInterval, "SNIPEBOT_LADDER_ORDER_INTERVAL")
	setInt(&cfg.Ladder.MaxOrders, "SNIPEBOT_LADDER_MAX_ORDERS")

	// ── Trailing ──
	setFloat64(&cfg.Trailing.DistancePct, "SNIPEBOT_TRAILING_DISTANCE_PCT")
	setFloat64(&cfg.Trailing.ActivationPct, "SNIPEBOT_TRAILING_ACTIVATION_PCT")

	// ── Fees ──
	setFloat64(&cfg.Fees.TakerPct, "SNIPEBOT_FEES_TAKER_PCT")

	// ── WebSocket ──
	setDuration(&cfg.WebSocket.PublicPingInterval, "SNIPEBOT_WEBSOCKET_PUBLIC_PING_INTERVAL")
	setDuration(&cfg.WebSocket.PrivatePingInterval, "SNIPEBOT_WEBSOCKET_PRIVATE_PING_INTERVAL")
	setDuration(&cfg.WebSocket.PongTimeout, "SNIPEBOT_WEBSOCKET_PONG_TIMEOUT")
	setDuration(&cfg.WebSocket.ReconnectDelay, "SNIPEBOT_WEBSOCKET_RECONNECT_DELAY")
	setDuration(&cfg.WebSocket.MaxReconnectDelay, "SNIPEBOT_WEBSOCKET_MAX_RECONNECT_DELAY")

	// ── Journal ──
	setStr(&cfg.Journal.Path, "SNIPEBOT_JOURNAL_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SNIPEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SNIPEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SNIPEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNIPEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNIPEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNIPEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNIPEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SNIPEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SNIPEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SNIPEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SNIPEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SNIPEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SNIPEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPEBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ArchiveCron, "SNIPEBOT_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SNIPEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SNIPEBOT_SERVER_PORT")
	setStr(&cfg.Server.AuthToken, "SNIPEBOT_SERVER_AUTH_TOKEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPEBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func setFloatSlice(dst *[]float64, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		parsed := make([]float64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return // reject the whole override on any bad element
			}
			parsed = append(parsed, f)
		}
		if len(parsed) > 0 {
			*dst = parsed
		}
	}
}
