package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkarlsen/updown/internal/archive"
	s3blob "github.com/mkarlsen/updown/internal/blob/s3"
	"github.com/mkarlsen/updown/internal/cache/redis"
	"github.com/mkarlsen/updown/internal/config"
	"github.com/mkarlsen/updown/internal/domain"
	"github.com/mkarlsen/updown/internal/feed"
	"github.com/mkarlsen/updown/internal/notify"
	"github.com/mkarlsen/updown/internal/platform/polymarket"
	"github.com/mkarlsen/updown/internal/service"
	"github.com/mkarlsen/updown/internal/store/postgres"
	"github.com/mkarlsen/updown/internal/tracker"
	"github.com/mkarlsen/updown/internal/window"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Clock        window.Clock
	Observations domain.ObservationStore

	// Optional; nil when redis is disabled.
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager

	// Optional; nil when s3 is disabled.
	Archiver *archive.Archiver

	Quotes     *service.Quotes
	Directory  *service.Directory
	Resolver   *service.Resolver
	Feed       *feed.Feed
	Controller *tracker.Controller
	Notifier   *notify.Notifier
}

// fanoutNotifier forwards a resolved window to several consumers.
type fanoutNotifier struct {
	targets []tracker.Notifier
}

func (f *fanoutNotifier) WindowResolved(ctx context.Context, rec domain.ObservationRecord) {
	for _, t := range f.targets {
		t.WindowResolved(ctx, rec)
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock: window.New(cfg.Tracker.PeriodSeconds, cfg.Tracker.SlugPrefix),
	}

	// --- PostgreSQL ---
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
	deps.Observations = postgres.NewObservationStore(pgClient.Pool())

	// --- Redis (optional) ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 (optional) ---
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
		deps.Archiver = archive.New(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Observations,
			logger,
		)
	}

	// --- Quote sources ---
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost)

	deps.Quotes = service.NewQuotes(clob, deps.QuoteCache, service.QuotesConfig{
		SumTolerance: cfg.Tracker.SumTolerance,
		PullTimeout:  cfg.Tracker.PullTimeout.Duration,
	}, logger)
	deps.Directory = service.NewDirectory(gamma, deps.Clock, logger)
	deps.Resolver = service.NewResolver(deps.Directory, deps.Quotes, service.SettlementConfig{
		Threshold:   cfg.Tracker.ConfidenceThreshold,
		MaxAttempts: cfg.Tracker.SettleMaxAttempts,
		Interval:    cfg.Tracker.SettleInterval.Duration,
	}, logger)
	deps.Feed = feed.New(cfg.Polymarket.WsHost, deps.Quotes, cfg.Tracker.ReconnectDelay.Duration, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.OnlyConfident, logger)

	// --- Lifecycle controller ---
	resolved := &fanoutNotifier{targets: []tracker.Notifier{deps.Notifier}}
	if deps.Archiver != nil {
		resolved.targets = append(resolved.targets, deps.Archiver)
	}
	deps.Controller = tracker.New(
		deps.Clock,
		deps.Directory,
		deps.Quotes,
		deps.Resolver,
		deps.Feed,
		deps.Observations,
		resolved,
		tracker.Config{
			SampleInterval: cfg.Tracker.SampleInterval.Duration,
		},
		logger,
	)

	return deps, cleanup, nil
}
