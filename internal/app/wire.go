package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/predictfi/settlebot/internal/blob/s3"
	"github.com/predictfi/settlebot/internal/cache/redis"
	"github.com/predictfi/settlebot/internal/chain"
	"github.com/predictfi/settlebot/internal/config"
	"github.com/predictfi/settlebot/internal/crypto"
	"github.com/predictfi/settlebot/internal/domain"
	"github.com/predictfi/settlebot/internal/notify"
	"github.com/predictfi/settlebot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	SettlementStore domain.SettlementStore

	// Caches and coordination
	MarketCache  domain.MarketCache
	VerdictCache domain.VerdictCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Evidence archive; nil when s3 is disabled.
	Evidence *s3blob.EvidenceStore
	Archiver *s3blob.Archiver

	// Chain gateway. Read-only in syncer mode.
	Chain *chain.Client

	// Notifications
	Notifier *notify.Notifier
}

// dispatchesSettlements reports whether mode submits settlement transactions
// and therefore needs a signing key on the chain client.
func dispatchesSettlements(mode string) bool {
	switch mode {
	case "server", "full":
		return true
	default:
		return false
	}
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

	deps := &Dependencies{}

	// --- PostgreSQL mirror ---
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
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.SettlementStore = postgres.NewSettlementStore(pool)

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

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.VerdictCache = redis.NewVerdictCache(redisClient, cfg.Resolver.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 evidence archive (optional) ---
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Evidence = s3blob.NewEvidenceStore(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3Client, postgres.NewSettlementStore(pool))
	}

	// --- Chain gateway ---
	var keyHex string
	if dispatchesSettlements(cfg.Mode) {
		keyHex, err = crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
	}
	chainClient, err := chain.New(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		ChainID:         cfg.Chain.ChainID,
		PrivateKeyHex:   keyHex,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)

	deps.Chain = chainClient

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
