package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/goingthrice/bidengine/internal/blob/s3"
	"github.com/goingthrice/bidengine/internal/cache/redis"
	"github.com/goingthrice/bidengine/internal/config"
	"github.com/goingthrice/bidengine/internal/crypto"
	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/notify"
	"github.com/goingthrice/bidengine/internal/server/handler"
	"github.com/goingthrice/bidengine/internal/server/middleware"
	"github.com/goingthrice/bidengine/internal/store/memory"
	"github.com/goingthrice/bidengine/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes build services on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store domain.UnitOfWork

	// Redis-backed when redis.enabled; AuctionCache, LockManager and
	// SignalBus are nil otherwise and RateLimiter is in-process.
	AuctionCache domain.AuctionCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Archiver is nil unless archive.enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Verifier *crypto.TokenVerifier

	// HealthChecks feed GET /api/health.
	HealthChecks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Pinger)}

	// --- Store ---
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Store = postgres.NewUnitOfWork(pgClient.Pool(), cfg.Bidding.WalletLockTimeout.Duration)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.Warn("postgres disabled, using the in-memory store; data is lost on exit")
		deps.Store = memory.New(memory.WithAutoProvision())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		ttl := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
		deps.AuctionCache = redis.NewAuctionCache(redisClient, ttl)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- Archive ---
	if cfg.Archive.Enabled && cfg.S3.Enabled {
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
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewBidArchiver(s3blob.NewWriter(s3Client), deps.Store.Bids(), cfg.Archive.Prefix)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		discord, err := notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL)
		if err != nil {
			return fail("discord", err)
		}
		senders = append(senders, discord)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Auth ---
	verifier, err := crypto.NewTokenVerifier(cfg.Auth.Secret, cfg.Auth.Salt, cfg.Auth.Issuer, cfg.Auth.Leeway.Duration)
	if err != nil {
		return fail("auth", err)
	}
	deps.Verifier = verifier

	return deps, cleanup, nil
}
