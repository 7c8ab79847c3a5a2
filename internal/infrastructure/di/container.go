package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/walletwatch/volume_watcher/internal/domain/repositories"
	"github.com/walletwatch/volume_watcher/internal/domain/services/cooldown"
	"github.com/walletwatch/volume_watcher/internal/domain/services/ingest"
	"github.com/walletwatch/volume_watcher/internal/domain/services/ledger"
	"github.com/walletwatch/volume_watcher/internal/domain/services/normalizer"
	"github.com/walletwatch/volume_watcher/internal/domain/services/window"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/adapters"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/cache"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/config"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/database"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/memory"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/postgres"
	"github.com/walletwatch/volume_watcher/internal/infrastructure/store/redisstore"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/security"
)

// Container holds the wired application graph
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Store   repositories.Store
	DB      *sqlx.DB
	Redis   cache.RedisClient
	Channel ingest.AlertChannel

	Normalizer *normalizer.Normalizer
	Ledger     *ledger.Service
	Aggregator *window.Aggregator
	Gate       *cooldown.Gate
	Ingest     *ingest.Service

	// HealthChecks are probed by GET /health
	HealthChecks map[string]func(ctx context.Context) error

	clock   func() time.Time
	closers []func() error
}

// Option customises container construction
type Option func(*Container)

// WithStore injects a prebuilt store, bypassing store.driver
func WithStore(store repositories.Store) Option {
	return func(c *Container) { c.Store = store }
}

// WithChannel injects a prebuilt alert channel, bypassing alerts.channel
func WithChannel(ch ingest.AlertChannel) Option {
	return func(c *Container) { c.Channel = ch }
}

// WithClock overrides the wall clock
func WithClock(clock func() time.Time) Option {
	return func(c *Container) { c.clock = clock }
}

// NewContainer builds the store, the pipeline services and the alert channel
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Container, error) {
	c := &Container{
		Config:       cfg,
		Logger:       log,
		HealthChecks: make(map[string]func(ctx context.Context) error),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.Store == nil {
		if err := c.initializeStore(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	if c.Channel == nil {
		if err := c.initializeChannel(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	if err := c.initializeDomainServices(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) initializeStore(ctx context.Context) error {
	zapLog := c.Logger.Zap()

	switch c.Config.Store.Driver {
	case "postgres":
		db, err := database.NewConnection(ctx, c.Config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(db, c.Config.Database.MigrationsPath); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		c.DB = db
		c.Store = postgres.NewStore(db, zapLog)
		c.HealthChecks["postgres"] = func(ctx context.Context) error { return database.HealthCheck(ctx, db) }
		c.closers = append(c.closers, db.Close)

	case "redis":
		client, err := cache.NewRedisClient(ctx, c.Config.Redis, zapLog)
		if err != nil {
			return err
		}
		c.Redis = client
		c.Store = redisstore.NewStore(client.Client(), c.Config.Redis.KeyPrefix, zapLog)
		c.HealthChecks["redis"] = client.Ping
		c.closers = append(c.closers, client.Close)

	default:
		c.Store = memory.NewStore()
		c.Logger.Warn("Using in-memory store; state is lost on restart")
	}

	c.Logger.Info("Store initialized", "driver", c.Config.Store.Driver)
	return nil
}

func (c *Container) initializeChannel(ctx context.Context) error {
	if !c.Config.Ingest.AlertsEnabled {
		c.Logger.Info("Alerts disabled; recording activity only")
		return nil
	}

	zapLog := c.Logger.Zap()
	alerts := c.Config.Alerts
	switch alerts.Channel {
	case "sns":
		publisher, err := adapters.NewSNSAlertPublisher(ctx, alerts.AWSRegion, alerts.SNSTopicARN, zapLog)
		if err != nil {
			return err
		}
		c.Channel = publisher
		c.Logger.Info("Alerts published to SNS", "topic_arn", alerts.SNSTopicARN)
	case "slack":
		c.Channel = adapters.NewSlackNotifier(alerts.SlackWebhookURL, c.Config.AppName, nil, zapLog)
		c.Logger.Info("Alerts posted to Slack", "webhook", security.MaskURL(alerts.SlackWebhookURL))
	case "log":
		c.Channel = adapters.NewLogAlertChannel(c.Config.AppName, zapLog)
	default:
		c.Logger.Info("No alert channel configured")
	}
	return nil
}

func (c *Container) initializeDomainServices() error {
	ingestCfg := c.Config.Ingest

	threshold, err := ingestCfg.Threshold()
	if err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}

	c.Normalizer = normalizer.New(normalizer.Config{
		TrackedAsset:     ingestCfg.TrackedAssetSymbol,
		RecognizedAssets: ingestCfg.RecognizedAssets,
		TrackedWallets:   ingestCfg.TrackedWallets,
	})
	c.Ledger = ledger.NewService(c.Store, ingestCfg.LedgerRetention(), c.Logger)
	c.Aggregator, err = window.NewAggregator(c.Store, window.Config{
		Window:          ingestCfg.Window(),
		BucketSize:      ingestCfg.BucketSize(),
		BucketRetention: ingestCfg.BucketRetention(),
	})
	if err != nil {
		return err
	}
	c.Gate = cooldown.NewGate(c.Store, ingestCfg.Cooldown(), ingestCfg.BucketRetention())

	deps := ingest.Deps{
		Normalizer: c.Normalizer,
		Ledger:     c.Ledger,
		Aggregator: c.Aggregator,
		Gate:       c.Gate,
		Channel:    c.Channel,
		Clock:      c.clock,
		Logger:     c.Logger,
	}

	c.Ingest, err = ingest.NewService(deps, ingest.Config{
		Threshold:       threshold,
		PairConcurrency: ingestCfg.PairConcurrency,
		AlertTimeout:    ingestCfg.AlertTimeout(),
	})
	if err != nil {
		return err
	}

	c.Logger.Info("Ingest pipeline ready",
		"threshold", threshold.String(),
		"window_seconds", ingestCfg.WindowSeconds,
		"cooldown_seconds", ingestCfg.CooldownSeconds,
		"bucket_size_seconds", ingestCfg.BucketSizeSeconds,
		"tracked_wallets", len(ingestCfg.TrackedWallets),
		"alerts_enabled", c.Channel != nil)
	return nil
}

// Close releases store connections in reverse order of creation
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("Close error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.closers = nil
	return firstErr
}

