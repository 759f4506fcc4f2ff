// Package config defines the top-level configuration for the updown tracker
// and provides validation helpers.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by UPDOWN_* environment
// variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	ClobHost  string `toml:"clob_host"`
	WsHost    string `toml:"ws_host"`
}

// TrackerConfig holds the window and observation parameters.
type TrackerConfig struct {
	// PeriodSeconds is the market window length. Pinned per market
	// generation rather than hardcoded.
	PeriodSeconds int64 `toml:"period_seconds"`
	// SlugPrefix is the recurring market slug prefix; the window start
	// timestamp is appended to it.
	SlugPrefix string `toml:"slug_prefix"`
	// SampleInterval is the cadence of price observations while tracking.
	SampleInterval duration `toml:"sample_interval"`
	// PullTimeout caps each midpoint request during sampling.
	PullTimeout duration `toml:"pull_timeout"`
	// ConfidenceThreshold is the price a side must reach to call the
	// outcome confidently.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// SumTolerance bounds |up + down - 1| before a pair is discarded.
	SumTolerance float64 `toml:"sum_tolerance"`
	// SettleMaxAttempts bounds settlement polling after window expiry.
	SettleMaxAttempts int `toml:"settle_max_attempts"`
	// SettleInterval is the wait between settlement attempts.
	SettleInterval duration `toml:"settle_interval"`
	// ReconnectDelay is the fixed backoff between websocket redials.
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the tracker runs without the quote mirror and the instance lock.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for observation
// archives. Optional.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP status API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials. A channel with empty
// credentials is skipped.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// OnlyConfident suppresses notifications for windows resolved without
	// confidence.
	OnlyConfident bool `toml:"only_confident"`
}

type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "900ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. Endpoint and window
// parameters match the current Polymarket recurring BTC market.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
		},
		Tracker: TrackerConfig{
			PeriodSeconds:       300,
			SlugPrefix:          "btc-up-or-down-in-5-minutes",
			SampleInterval:      duration{time.Second},
			PullTimeout:         duration{900 * time.Millisecond},
			ConfidenceThreshold: 0.90,
			SumTolerance:        0.15,
			SettleMaxAttempts:   6,
			SettleInterval:      duration{5 * time.Second},
			ReconnectDelay:      duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-observations",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			OnlyConfident: false,
		},
		Mode:     "track",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"track":   true,
	"serve":   true,
	"restore": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: track, serve, restore)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}

	if c.Tracker.PeriodSeconds <= 0 {
		errs = append(errs, "tracker: period_seconds must be positive")
	}
	if c.Tracker.SlugPrefix == "" {
		errs = append(errs, "tracker: slug_prefix must not be empty")
	}
	if c.Tracker.SampleInterval.Duration <= 0 {
		errs = append(errs, "tracker: sample_interval must be positive")
	}
	if c.Tracker.PullTimeout.Duration >= c.Tracker.SampleInterval.Duration {
		errs = append(errs, "tracker: pull_timeout must be shorter than sample_interval")
	}
	if c.Tracker.ConfidenceThreshold <= 0.5 || c.Tracker.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("tracker: confidence_threshold must be in (0.5, 1], got %v", c.Tracker.ConfidenceThreshold))
	}
	if c.Tracker.SumTolerance <= 0 || c.Tracker.SumTolerance >= 1 {
		errs = append(errs, "tracker: sum_tolerance must be in (0, 1)")
	}
	if c.Tracker.SettleMaxAttempts < 1 {
		errs = append(errs, "tracker: settle_max_attempts must be >= 1")
	}

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty when dsn is unset")
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty when dsn is unset")
		}
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}
	if c.Mode == "restore" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for restore mode")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlogLevel maps the configured log level onto slog's scale.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
