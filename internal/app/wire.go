package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	s3blob "github.com/blockclass/marketview/internal/blob/s3"
	"github.com/blockclass/marketview/internal/cache/redis"
	"github.com/blockclass/marketview/internal/config"
	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/fetch"
	"github.com/blockclass/marketview/internal/platform/coingecko"
	"github.com/blockclass/marketview/internal/snapshot"
	"github.com/blockclass/marketview/internal/store/postgres"
	"github.com/blockclass/marketview/internal/store/sqlite"
)

// upstreamLimitKey names the shared CoinGecko request budget in Redis.
const upstreamLimitKey = "upstream:coingecko"

// Dependencies bundles every concrete dependency the commands need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Snapshots
	Backend string
	Cache   *snapshot.Cache

	// Upstream
	CoinGecko *coingecko.Client

	// Redis extras; nil unless Redis is in use.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless archiving is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
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

	deps := &Dependencies{Backend: strings.ToLower(cfg.Snapshot.Backend)}

	// --- Redis (snapshot backend and/or coordination extras) ---
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- Snapshot store ---
	var store domain.SnapshotStore
	switch deps.Backend {
	case config.BackendMemory:
		store = snapshot.NewMemoryStore()

	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = s.Close() })
		store = s

	case config.BackendRedis:
		store = redis.NewSnapshotStore(redisClient, cfg.Redis.SnapshotTTL.Duration)

	case config.BackendPostgres:
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
		store = postgres.NewSnapshotStore(pgClient.Pool())

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
	deps.Cache = snapshot.New(store, logger)

	// --- Upstream ---
	opts := []fetch.Option{
		fetch.WithUserAgent(cfg.CoinGecko.UserAgent),
		fetch.WithLogger(logger.With(slog.String("component", "fetcher"))),
	}
	if rpm := cfg.Fetch.RequestsPerMinute; rpm > 0 {
		opts = append(opts, fetch.WithLimiter(rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, cfg.Fetch.Burst))))
		if redisClient != nil {
			// The per-minute budget is shared by every instance on this Redis.
			opts = append(opts, fetch.WithSharedLimiter(redis.NewRateLimiter(redisClient, rpm, time.Minute), upstreamLimitKey))
		}
	}
	fetcher := fetch.New(fetch.Policy{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Timeout:     cfg.Fetch.Timeout.Duration,
		BackoffBase: cfg.Fetch.BackoffBase.Duration,
		Jitter:      cfg.Fetch.Jitter,
	}, opts...)
	if err := fetcher.Policy().Validate(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.CoinGecko = coingecko.NewClient(cfg.CoinGecko.BaseURL, cfg.CoinGecko.APIKey, fetcher)

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
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
	}

	return deps, cleanup, nil
}
