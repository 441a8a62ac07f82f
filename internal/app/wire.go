package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/oscarmtz/pricebot/internal/blob/s3"
	"github.com/oscarmtz/pricebot/internal/cache/redis"
	"github.com/oscarmtz/pricebot/internal/config"
	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/notify"
	"github.com/oscarmtz/pricebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the modes
// operate on. Wire constructs them; the returned cleanup tears them down in
// reverse order.
type Dependencies struct {
	// Stores
	ProductStore    domain.ProductStore
	ListingStore    domain.ListingStore
	ProposalStore   domain.ProposalStore
	ExperimentStore domain.ExperimentStore
	AuditStore      domain.AuditStore

	// Redis
	ReferencePrices domain.ReferencePriceCache
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the
// configuration. The cleanup function must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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

	pool := pgClient.Pool()
	deps.ProductStore = postgres.NewProductStore(pool)
	deps.ListingStore = postgres.NewListingStore(pool)
	deps.ProposalStore = postgres.NewProposalStore(pool)
	deps.ExperimentStore = postgres.NewExperimentStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	deps.ReferencePrices = redis.NewReferencePriceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
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
	closers = append(closers, func() { _ = s3Client.Close() })

	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.BlobReader = s3blob.NewReader(s3Client)
	deps.Archiver = s3blob.NewArchiver(
		deps.BlobWriter,
		deps.ProposalStore,
		deps.ListingStore,
		deps.ExperimentStore,
		deps.AuditStore,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
