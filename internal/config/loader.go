package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDENGINE_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the defaults plus
// environment are used. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BIDENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "BIDENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BIDENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDENGINE_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "BIDENGINE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "BIDENGINE_SERVER_WRITE_TIMEOUT")
	setStr(&cfg.Server.APIKey, "BIDENGINE_SERVER_API_KEY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BIDENGINE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BIDENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BIDENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BIDENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BIDENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BIDENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BIDENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BIDENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BIDENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BIDENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BIDENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BIDENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BIDENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDENGINE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "BIDENGINE_REDIS_CACHE_TTL_MINUTES")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BIDENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BIDENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BIDENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BIDENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BIDENGINE_S3_FORCE_PATH_STYLE")

	// ── Auth ──
	setStr(&cfg.Auth.Secret, "BIDENGINE_AUTH_SECRET")
	setStr(&cfg.Auth.Salt, "BIDENGINE_AUTH_SALT")
	setStr(&cfg.Auth.Issuer, "BIDENGINE_AUTH_ISSUER")
	setDuration(&cfg.Auth.Leeway, "BIDENGINE_AUTH_LEEWAY")

	// ── Bidding ──
	setInt(&cfg.Bidding.MaxRetries, "BIDENGINE_BIDDING_MAX_RETRIES")
	setDuration(&cfg.Bidding.RetryBackoff, "BIDENGINE_BIDDING_RETRY_BACKOFF")
	setDuration(&cfg.Bidding.WalletLockTimeout, "BIDENGINE_BIDDING_WALLET_LOCK_TIMEOUT")
	setInt(&cfg.Bidding.RateLimit, "BIDENGINE_BIDDING_RATE_LIMIT")
	setDuration(&cfg.Bidding.RateWindow, "BIDENGINE_BIDDING_RATE_WINDOW")
	setDuration(&cfg.Bidding.IdempotencyTTL, "BIDENGINE_BIDDING_IDEMPOTENCY_TTL")

	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.SweepInterval, "BIDENGINE_LIFECYCLE_SWEEP_INTERVAL")
	setDuration(&cfg.Lifecycle.EndingSoon, "BIDENGINE_LIFECYCLE_ENDING_SOON")
	setDuration(&cfg.Lifecycle.SettleInterval, "BIDENGINE_LIFECYCLE_SETTLE_INTERVAL")
	setInt(&cfg.Lifecycle.SettleBatch, "BIDENGINE_LIFECYCLE_SETTLE_BATCH")
	setInt(&cfg.Lifecycle.SettleMaxAttempts, "BIDENGINE_LIFECYCLE_SETTLE_MAX_ATTEMPTS")
	setDuration(&cfg.Lifecycle.LockTTL, "BIDENGINE_LIFECYCLE_LOCK_TTL")

	// ── Fanout ──
	setStr(&cfg.Fanout.Mode, "BIDENGINE_FANOUT_MODE")
	setStr(&cfg.Fanout.Channel, "BIDENGINE_FANOUT_CHANNEL")
	setInt(&cfg.Fanout.SendBuffer, "BIDENGINE_FANOUT_SEND_BUFFER")
	setFloat64(&cfg.Fanout.ClientRate, "BIDENGINE_FANOUT_CLIENT_RATE")
	setInt(&cfg.Fanout.ClientBurst, "BIDENGINE_FANOUT_CLIENT_BURST")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BIDENGINE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "BIDENGINE_ARCHIVE_PREFIX")
	setDuration(&cfg.Archive.Interval, "BIDENGINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.Batch, "BIDENGINE_ARCHIVE_BATCH")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BIDENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BIDENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDENGINE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BIDENGINE_MODE")
	setStr(&cfg.LogLevel, "BIDENGINE_LOG_LEVEL")
	setStr(&cfg.LogFormat, "BIDENGINE_LOG_FORMAT")
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
