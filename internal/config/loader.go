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
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "UPDOWN_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "UPDOWN_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWN_POLYMARKET_WS_HOST")

	// ── Tracker ──
	setInt64(&cfg.Tracker.PeriodSeconds, "UPDOWN_TRACKER_PERIOD_SECONDS")
	setStr(&cfg.Tracker.SlugPrefix, "UPDOWN_TRACKER_SLUG_PREFIX")
	setDuration(&cfg.Tracker.SampleInterval, "UPDOWN_TRACKER_SAMPLE_INTERVAL")
	setDuration(&cfg.Tracker.PullTimeout, "UPDOWN_TRACKER_PULL_TIMEOUT")
	setFloat64(&cfg.Tracker.ConfidenceThreshold, "UPDOWN_TRACKER_CONFIDENCE_THRESHOLD")
	setFloat64(&cfg.Tracker.SumTolerance, "UPDOWN_TRACKER_SUM_TOLERANCE")
	setInt(&cfg.Tracker.SettleMaxAttempts, "UPDOWN_TRACKER_SETTLE_MAX_ATTEMPTS")
	setDuration(&cfg.Tracker.SettleInterval, "UPDOWN_TRACKER_SETTLE_INTERVAL")
	setDuration(&cfg.Tracker.ReconnectDelay, "UPDOWN_TRACKER_RECONNECT_DELAY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWN_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setBool(&cfg.Notify.OnlyConfident, "UPDOWN_NOTIFY_ONLY_CONFIDENT")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		*dst = cleaned
	}
}
