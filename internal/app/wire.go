package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/xomarket-expert/internal/blob/s3"
	"github.com/alanyoungcy/xomarket-expert/internal/cache/redis"
	"github.com/alanyoungcy/xomarket-expert/internal/config"
	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/market"
	"github.com/alanyoungcy/xomarket-expert/internal/metadata"
	"github.com/alanyoungcy/xomarket-expert/internal/notify"
	"github.com/alanyoungcy/xomarket-expert/internal/platform/ledger"
	"github.com/alanyoungcy/xomarket-expert/internal/store/postgres"
)

// Dependencies holds every wired component. Optional backends are nil when
// their section is disabled.
type Dependencies struct {
	Ledger *ledger.Reader
	Engine *market.QueryEngine

	ScanCache   domain.ScanCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	AuditStore  domain.AuditStore
	BlobReader  domain.BlobReader

	Notifier *notify.Notifier
}

// Wire connects to every configured backend and builds the query engine on
// top of them. The returned cleanup releases connections in reverse order and
// must be called even when Run fails.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Ledger ---
	reader, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:             cfg.Ledger.RPCURL,
		MarketContract:     cfg.Ledger.MarketContract,
		MetadataContract:   cfg.Ledger.MetadataContract,
		ABIPath:            cfg.Ledger.ABIPath,
		CallTimeout:        cfg.Ledger.CallTimeout.Duration,
		CounterTimeout:     cfg.Ledger.CounterTimeout.Duration,
		CollateralDecimals: int32(cfg.Ledger.CollateralDecimals),
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	closers = append(closers, reader.Close)
	deps.Ledger = reader

	// The engine degrades to empty results when the ledger is down, so a
	// missing contract is only worth a warning at startup.
	if deployed, err := reader.ContractDeployed(ctx); err != nil {
		logger.WarnContext(ctx, "ledger unreachable at startup", slog.String("error", err.Error()))
	} else if !deployed {
		logger.WarnContext(ctx, "no contract code at market address",
			slog.String("market_contract", cfg.Ledger.MarketContract),
		)
	}

	// --- Redis (optional) ---
	var metaCache domain.MetadataCache
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		// Keep scan records well past their freshness window so a stale
		// total is still available as a lower bound.
		deps.ScanCache = redis.NewScanCache(redisClient, 10*cfg.Discovery.ScanCacheTTL.Duration)
		// Wait admits batch groups at the batch rate; HTTP clients pass their
		// own limits to Allow.
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Batch.RateLimit, cfg.Batch.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		metaCache = redis.NewMetadataCache(redisClient, cfg.Metadata.CacheTTL.Duration)
	} else {
		deps.ScanCache = market.NewMemoryScanCache()
	}

	// --- Postgres audit log (optional) ---
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- S3 metadata documents (optional) ---
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket unavailable", slog.String("error", err.Error()))
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Engine ---
	engine, err := buildEngine(cfg, deps, metaCache, logger)
	if err != nil {
		return fail(err)
	}
	deps.Engine = engine

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "")
		if err != nil {
			return fail(fmt.Errorf("wire: telegram notifier: %w", err))
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildEngine assembles the metadata resolver, snapshot fetcher, range
// resolver, batch executor and query engine.
func buildEngine(cfg *config.Config, deps *Dependencies, metaCache domain.MetadataCache, logger *slog.Logger) (*market.QueryEngine, error) {
	policy, err := market.ParsePendingPolicy(cfg.Status.PendingPolicy)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	var metaOpts []metadata.Option
	if deps.BlobReader != nil {
		metaOpts = append(metaOpts, metadata.WithBlobReader(deps.BlobReader))
	}
	if metaCache != nil {
		metaOpts = append(metaOpts, metadata.WithCache(metaCache))
	}
	resolver := metadata.NewResolver(deps.Ledger, metadata.Config{
		Timeout:     cfg.Metadata.Timeout.Duration,
		IPFSGateway: cfg.Metadata.IPFSGateway,
		MaxBytes:    cfg.Metadata.MaxBytes,
	}, logger, metaOpts...)

	fetcher := market.NewFetcher(deps.Ledger, resolver, policy, logger)

	rangeOpts := []market.RangeOption{market.WithCounter(deps.Ledger)}
	if deps.LockManager != nil {
		rangeOpts = append(rangeOpts, market.WithLockManager(deps.LockManager))
	}
	totals := market.NewRangeResolver(deps.Ledger, deps.ScanCache, market.DiscoveryConfig{
		TTL:          cfg.Discovery.ScanCacheTTL.Duration,
		HardCap:      cfg.Discovery.HardCap,
		LinearExtend: cfg.Discovery.LinearExtend,
		LockTTL:      cfg.Discovery.LockTTL.Duration,
	}, logger, rangeOpts...)

	var batchOpts []market.BatchOption
	if deps.RateLimiter != nil {
		batchOpts = append(batchOpts, market.WithRateLimiter(deps.RateLimiter))
	}
	batch := market.NewBatchExecutor(fetcher, market.BatchConfig{
		Size:      cfg.Batch.Size,
		Pause:     cfg.Batch.Pause.Duration,
		RateLimit: cfg.Batch.RateLimit,
	}, logger, batchOpts...)

	var queryOpts []market.QueryOption
	if deps.AuditStore != nil {
		queryOpts = append(queryOpts, market.WithAudit(deps.AuditStore))
	}
	return market.NewQueryEngine(totals, batch, fetcher, deps.Ledger, market.SearchConfig{
		Cutoff: cfg.Search.Cutoff,
		TopK:   cfg.Search.TopK,
	}, logger, queryOpts...), nil
}
