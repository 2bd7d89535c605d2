package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/recledger/internal/blob/s3"
	"github.com/alanyoungcy/recledger/internal/cache/redis"
	"github.com/alanyoungcy/recledger/internal/config"
	"github.com/alanyoungcy/recledger/internal/crypto"
	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/ledger"
	"github.com/alanyoungcy/recledger/internal/metrics"
	"github.com/alanyoungcy/recledger/internal/notify"
	"github.com/alanyoungcy/recledger/internal/registry"
	"github.com/alanyoungcy/recledger/internal/server/handler"
	"github.com/alanyoungcy/recledger/internal/store/memory"
	"github.com/alanyoungcy/recledger/internal/store/postgres"
)

// Dependencies bundles every collaborator the ledger modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence
	Store   domain.LedgerStore
	Journal domain.JournalStore

	// Chain
	Registry domain.TokenRegistry
	Minter   handler.Minter // set only for the development registry
	Heights  domain.HeightSource
	Operator *crypto.Signer // nil when no operator key is configured

	// Redis
	Locks     domain.LockManager
	Replay    domain.ReplayGuard
	Limiter   domain.RateLimiter
	SignalBus domain.SignalBus

	// Blob storage, nil unless s3.enabled
	Evidence domain.EvidenceStore
	Archiver *s3blob.SnapshotArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Checks   map[string]handler.HealthCheck
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
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.HealthCheck),
	}

	// --- Operator key ---
	var operatorKey string
	if cfg.Operator.PrivateKey != "" || cfg.Operator.EncryptedKeyPath != "" {
		k, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fail("operator key", err)
		}
		signer, err := crypto.NewSigner(k)
		if err != nil {
			return fail("operator key", err)
		}
		operatorKey = k
		deps.Operator = signer
		logger.InfoContext(ctx, "operator key loaded", slog.String("operator", signer.Address().Hex()))
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Replay = redis.NewReplayGuard(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
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
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health

		deps.Evidence = s3blob.NewEvidenceStore(s3Client, cfg.S3.EvidencePrefix)
		deps.Archiver = s3blob.NewSnapshotArchiver(s3Client, cfg.S3.SnapshotPrefix, cfg.Archive.Keep, logger)
	}

	// --- Ledger store ---
	switch cfg.Ledger.Store {
	case "postgres":
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
		deps.Checks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		store := postgres.NewLedgerStore(pgClient.Pool())
		deps.Store, deps.Journal = store, store
	default:
		store := memory.NewLedgerStore()
		if deps.Archiver != nil {
			if err := restoreLatest(ctx, deps.Archiver, store, logger); err != nil {
				return fail("restore snapshot", err)
			}
		}
		deps.Store, deps.Journal = store, store
	}

	// --- Token registry and heights ---
	switch cfg.Registry.Kind {
	case "erc721":
		reg, err := registry.DialERC721(ctx, registry.ERC721Config{
			RPCURL:      cfg.Registry.RPCURL,
			Contract:    cfg.Registry.Contract,
			ChainID:     cfg.Registry.ChainID,
			OperatorKey: operatorKey,
			ReceiptPoll: cfg.Registry.ReceiptPoll.Duration,
			ReceiptWarn: cfg.Registry.ReceiptWarn.Duration,
			Logger:      logger,
		})
		if err != nil {
			return fail("registry", err)
		}
		closers = append(closers, reg.Close)
		deps.Registry = reg
		if cfg.Ledger.HeightSource == "chain" {
			deps.Heights = reg.Heights()
		}
	default:
		reg := registry.NewMemory(cfg.OwnerPrincipal())
		deps.Registry, deps.Minter = reg, reg
	}

	if deps.Heights == nil {
		switch cfg.Ledger.HeightSource {
		case "chain":
			heights, err := registry.DialBlockHeights(ctx, cfg.Registry.RPCURL)
			if err != nil {
				return fail("heights", err)
			}
			closers = append(closers, heights.Close)
			deps.Heights = heights
		default:
			deps.Heights = ledger.IntervalClock{
				Genesis:  cfg.GenesisTime(),
				Interval: cfg.Ledger.BlockInterval.Duration,
			}
		}
	}

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

// restoreLatest seeds an in-memory store from the newest archived snapshot.
// An empty archive leaves the store empty.
func restoreLatest(ctx context.Context, archiver *s3blob.SnapshotArchiver, store *memory.LedgerStore, logger *slog.Logger) error {
	path, err := archiver.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	snap, err := archiver.Restore(ctx, path)
	if err != nil {
		return err
	}
	store.Restore(snap)
	logger.InfoContext(ctx, "ledger restored from snapshot",
		slog.String("path", path),
		slog.Uint64("height", snap.Counters.Height),
	)
	return nil
}
