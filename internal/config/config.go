// Package config defines the top-level configuration for the bidding engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDENGINE_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Auth      AuthConfig      `toml:"auth"`
	Bidding   BiddingConfig   `toml:"bidding"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Fanout    FanoutConfig    `toml:"fanout"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	LogFormat string          `toml:"log_format"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	// APIKey guards the operator-only endpoints. Empty disables them.
	APIKey string `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is false
// the engine runs on the in-memory store, which is only suitable for local
// development.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
}

// S3Config holds S3-compatible object storage parameters.
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

// AuthConfig holds bearer-token verification parameters. Tokens are issued by
// the account service; this engine only verifies them.
type AuthConfig struct {
	Secret string   `toml:"secret"`
	Salt   string   `toml:"salt"`
	Issuer string   `toml:"issuer"`
	Leeway duration `toml:"leeway"`
}

// BiddingConfig tunes the bid placement service.
type BiddingConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	RetryBackoff      duration `toml:"retry_backoff"`
	WalletLockTimeout duration `toml:"wallet_lock_timeout"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
	IdempotencyTTL    duration `toml:"idempotency_ttl"`
}

// LifecycleConfig tunes the sweeper, settlement and archive loops.
type LifecycleConfig struct {
	SweepInterval     duration `toml:"sweep_interval"`
	EndingSoon        duration `toml:"ending_soon"`
	SettleInterval    duration `toml:"settle_interval"`
	SettleBatch       int      `toml:"settle_batch"`
	SettleMaxAttempts int      `toml:"settle_max_attempts"`
	LockTTL           duration `toml:"lock_ttl"`
}

// FanoutConfig configures realtime event delivery.
type FanoutConfig struct {
	// Mode is "local" (single instance hub) or "redis" (relayed over pub/sub).
	Mode        string  `toml:"mode"`
	Channel     string  `toml:"channel"`
	SendBuffer  int     `toml:"send_buffer"`
	ClientRate  float64 `toml:"client_rate"`
	ClientBurst int     `toml:"client_burst"`
}

// ArchiveConfig configures bid-history archival to object storage.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Prefix   string   `toml:"prefix"`
	Interval duration `toml:"interval"`
	Batch    int      `toml:"batch"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "goingthrice",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  20,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:         false,
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			CacheTTLMinutes: 10,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "goingthrice-archive",
			ForcePathStyle: true,
		},
		Auth: AuthConfig{
			Salt:   "goingthrice.bearer",
			Leeway: duration{30 * time.Second},
		},
		Bidding: BiddingConfig{
			MaxRetries:        5,
			RetryBackoff:      duration{20 * time.Millisecond},
			WalletLockTimeout: duration{2 * time.Second},
			RateLimit:         10,
			RateWindow:        duration{10 * time.Second},
			IdempotencyTTL:    duration{10 * time.Minute},
		},
		Lifecycle: LifecycleConfig{
			SweepInterval:     duration{10 * time.Second},
			EndingSoon:        duration{2 * time.Minute},
			SettleInterval:    duration{5 * time.Second},
			SettleBatch:       20,
			SettleMaxAttempts: 5,
			LockTTL:           duration{30 * time.Second},
		},
		Fanout: FanoutConfig{
			Mode:        "local",
			Channel:     "bidengine:events",
			SendBuffer:  256,
			ClientRate:  5,
			ClientBurst: 10,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Prefix:   "bids",
			Interval: duration{5 * time.Minute},
			Batch:    50,
		},
		Notify: NotifyConfig{
			Events: []string{"ledger_inconsistency", "settlement_failed", "auction_sold"},
		},
		Mode:      "all",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"all":    true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Postgres
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

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: requires s3.enabled")
	}

	// Auth
	if c.Server.Enabled && len(c.Auth.Secret) < 32 {
		errs = append(errs, "auth: secret must be at least 32 bytes (set BIDENGINE_AUTH_SECRET)")
	}

	// Bidding
	if c.Bidding.MaxRetries < 1 {
		errs = append(errs, "bidding: max_retries must be >= 1")
	}
	if c.Bidding.WalletLockTimeout.Duration <= 0 {
		errs = append(errs, "bidding: wallet_lock_timeout must be > 0")
	}
	if c.Bidding.RateLimit < 0 {
		errs = append(errs, "bidding: rate_limit must be >= 0")
	}

	// Lifecycle
	if c.Lifecycle.SweepInterval.Duration <= 0 {
		errs = append(errs, "lifecycle: sweep_interval must be > 0")
	}
	if c.Lifecycle.EndingSoon.Duration <= 0 {
		errs = append(errs, "lifecycle: ending_soon must be > 0")
	}
	if c.Lifecycle.SettleInterval.Duration <= 0 {
		errs = append(errs, "lifecycle: settle_interval must be > 0")
	}
	if c.Lifecycle.SettleBatch < 1 {
		errs = append(errs, "lifecycle: settle_batch must be >= 1")
	}
	if c.Lifecycle.SettleMaxAttempts < 1 {
		errs = append(errs, "lifecycle: settle_max_attempts must be >= 1")
	}

	// Fanout
	switch c.Fanout.Mode {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "fanout: mode \"redis\" requires redis.enabled")
		}
		if c.Fanout.Channel == "" {
			errs = append(errs, "fanout: channel must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("fanout: unknown mode %q (valid: local, redis)", c.Fanout.Mode))
	}
	if c.Fanout.SendBuffer < 1 {
		errs = append(errs, "fanout: send_buffer must be >= 1")
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
