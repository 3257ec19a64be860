// Package config defines the top-level configuration for the snipe bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPEBOT_* environment variables.
type Config struct {
	Bybit     BybitConfig     `toml:"bybit"`
	Sniper    SniperConfig    `toml:"sniper"`
	Ladder    LadderConfig    `toml:"ladder"`
	Trailing  TrailingConfig  `toml:"trailing"`
	Fees      FeesConfig      `toml:"fees"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Journal   JournalConfig   `toml:"journal"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BybitConfig holds exchange endpoints and API credentials. Credentials may be
// given directly or through an encrypted keystore file plus password.
type BybitConfig struct {
	ApiKey           string `toml:"api_key"`
	ApiSecret        string `toml:"api_secret"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	RestURL          string `toml:"rest_url"`
	WsPublicURL      string `toml:"ws_public_url"`
	WsPrivateURL     string `toml:"ws_private_url"`
	RecvWindowMs     int    `toml:"recv_window_ms"`
}

// SniperConfig holds the listing-detection loop parameters.
type SniperConfig struct {
	BudgetUSDT   float64  `toml:"budget_usdt"`
	PollInterval duration `toml:"poll_interval"`
	PollOffset   duration `toml:"poll_offset"`
	MaxLaunchAge duration `toml:"max_launch_age"`
}

// LadderConfig holds the entry-ladder parameters: the slippage schedule plus
// the pacing and order-count limits that bound a single snipe.
type LadderConfig struct {
	Steps         []float64 `toml:"steps"`
	RepeatPerStep int       `toml:"repeat_per_step"`
	OrderInterval duration  `toml:"order_interval"`
	MaxOrders     int       `toml:"max_orders"`
}

// TrailingConfig holds the exchange-side trailing-stop parameters.
// ActivationPct of zero arms the stop immediately at entry.
type TrailingConfig struct {
	DistancePct   float64 `toml:"distance_pct"`
	ActivationPct float64 `toml:"activation_pct"`
}

// FeesConfig holds the fee rates used for realized P&L accounting.
type FeesConfig struct {
	TakerPct float64 `toml:"taker_pct"`
}

// WebSocketConfig holds stream heartbeat and reconnect parameters.
type WebSocketConfig struct {
	PublicPingInterval  duration `toml:"public_ping_interval"`
	PrivatePingInterval duration `toml:"private_ping_interval"`
	PongTimeout         duration `toml:"pong_timeout"`
	ReconnectDelay      duration `toml:"reconnect_delay"`
	MaxReconnectDelay   duration `toml:"max_reconnect_delay"`
}

// JournalConfig holds the local trade-journal location.
type JournalConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters for the optional
// trade mirror.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the optional
// journal archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveCron    string `toml:"archive_cron"`
}

// ServerConfig holds HTTP status-server parameters. AuthToken, when set,
// gates /api/* behind a static bearer token.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "100ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "100ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			RestURL:      "https://api.bybit.com",
			WsPublicURL:  "wss://stream.bybit.com/v5/public/linear",
			WsPrivateURL: "wss://stream.bybit.com/v5/private",
			RecvWindowMs: 5000,
		},
		Sniper: SniperConfig{
			BudgetUSDT:   100,
			PollInterval: duration{5 * time.Second},
			PollOffset:   duration{100 * time.Millisecond},
			MaxLaunchAge: duration{time.Hour},
		},
		Ladder: LadderConfig{
			Steps:         []float64{0.0005, 0.001, 0.0015, 0.002, 0.0025, 0.003},
			RepeatPerStep: 3,
			OrderInterval: duration{50 * time.Millisecond},
			MaxOrders:     100,
		},
		Trailing: TrailingConfig{
			DistancePct:   4.0,
			ActivationPct: 0,
		},
		Fees: FeesConfig{
			TakerPct: 0.055,
		},
		WebSocket: WebSocketConfig{
			PublicPingInterval:  duration{20 * time.Second},
			PrivatePingInterval: duration{10 * time.Second},
			PongTimeout:         duration{30 * time.Second},
			ReconnectDelay:      duration{2 * time.Second},
			MaxReconnectDelay:   duration{60 * time.Second},
		},
		Journal: JournalConfig{
			Path: "data/trades.json",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "snipebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "snipebot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			ArchiveCron:    "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"listing", "snipe", "exit", "lifecycle"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading needs a credential source; monitoring only needs the
	// public endpoints.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Bybit.ApiKey == "" && c.Bybit.EncryptedKeyPath == "" {
			errs = append(errs, "bybit: either api_key or encrypted_key_path must be set for mode trade")
		}
		if c.Bybit.ApiKey != "" && c.Bybit.ApiSecret == "" {
			errs = append(errs, "bybit: api_secret is required when api_key is set")
		}
		if c.Bybit.EncryptedKeyPath != "" && c.Bybit.KeyPassword == "" {
			errs = append(errs, "bybit: key_password is required when encrypted_key_path is set")
		}
		if c.Bybit.WsPrivateURL == "" {
			errs = append(errs, "bybit: ws_private_url must not be empty")
		}
	}
	if c.Bybit.RestURL == "" {
		errs = append(errs, "bybit: rest_url must not be empty")
	}
	if c.Bybit.WsPublicURL == "" {
		errs = append(errs, "bybit: ws_public_url must not be empty")
	}
	if c.Bybit.RecvWindowMs <= 0 {
		errs = append(errs, "bybit: recv_window_ms must be > 0")
	}

	// Sniper
	if c.Sniper.BudgetUSDT <= 0 {
		errs = append(errs, "sniper: budget_usdt must be > 0")
	}
	if c.Sniper.PollInterval.Duration <= 0 {
		errs = append(errs, "sniper: poll_interval must be > 0")
	}
	if c.Sniper.PollOffset.Duration < 0 {
		errs = append(errs, "sniper: poll_offset must be >= 0")
	}
	if c.Sniper.PollInterval.Duration > 0 && c.Sniper.PollOffset.Duration >= c.Sniper.PollInterval.Duration {
		errs = append(errs, "sniper: poll_offset must be smaller than poll_interval")
	}
	if c.Sniper.MaxLaunchAge.Duration <= 0 {
		errs = append(errs, "sniper: max_launch_age must be > 0")
	}

	// Ladder
	if len(c.Ladder.Steps) == 0 {
		errs = append(errs, "ladder: steps must not be empty")
	}
	for i, s := range c.Ladder.Steps {
		if s < 0 {
			errs = append(errs, fmt.Sprintf("ladder: steps[%d] must be >= 0, got %v", i, s))
		}
	}
	if c.Ladder.RepeatPerStep < 1 {
		errs = append(errs, "ladder: repeat_per_step must be >= 1")
	}
	if c.Ladder.OrderInterval.Duration < 0 {
		errs = append(errs, "ladder: order_interval must be >= 0")
	}
	if c.Ladder.MaxOrders < 1 {
		errs = append(errs, "ladder: max_orders must be >= 1")
	}

	// Trailing
	if c.Trailing.DistancePct <= 0 {
		errs = append(errs, "trailing: distance_pct must be > 0")
	}
	if c.Trailing.ActivationPct < 0 {
		errs = append(errs, "trailing: activation_pct must be >= 0")
	}

	// Fees
	if c.Fees.TakerPct < 0 {
		errs = append(errs, "fees: taker_pct must be >= 0")
	}

	// WebSocket
	if c.WebSocket.PublicPingInterval.Duration <= 0 {
		errs = append(errs, "websocket: public_ping_interval must be > 0")
	}
	if c.WebSocket.PrivatePingInterval.Duration <= 0 {
		errs = append(errs, "websocket: private_ping_interval must be > 0")
	}
	if c.WebSocket.PongTimeout.Duration <= 0 {
		errs = append(errs, "websocket: pong_timeout must be > 0")
	}
	if c.WebSocket.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "websocket: reconnect_delay must be > 0")
	}
	if c.WebSocket.MaxReconnectDelay.Duration < c.WebSocket.ReconnectDelay.Duration {
		errs = append(errs, "websocket: max_reconnect_delay must not be smaller than reconnect_delay")
	}

	// Journal
	if strings.TrimSpace(c.Journal.Path) == "" {
		errs = append(errs, "journal: path must not be empty")
	}

	// Postgres settings only matter when the mirror is enabled.
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3 settings only matter when the archiver is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if strings.TrimSpace(c.S3.ArchiveCron) == "" {
			errs = append(errs, "s3: archive_cron must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
