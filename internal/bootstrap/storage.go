package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/platform/database"
	"storybook-server/internal/storage"
)

const (
	connectRetries    = 20
	connectRetryDelay = 3 * time.Second
)

// Storage - выбранное хранилище и построенные поверх него кэши.
type Storage struct {
	Store      storage.Store
	Characters *storage.CharacterCache
	Stories    *storage.StoryCache
	closers    []func()
}

// Close освобождает соединения хранилища.
func (s *Storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// SetupStorage подключает бэкенд STORAGE_BACKEND и создает кэши персонажей и историй.
func SetupStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Storage, error) {
	st := &Storage{}

	switch cfg.Backend {
	case "redis":
		client, err := setupRedis(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = client.Close() })
		st.Store = storage.NewRedisStore(client, cfg.RedisPrefix, cfg.CapacityBytes, logger)
	case "postgres":
		pool, err := setupPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if err := storage.ApplyMigrations(pool, logger); err != nil {
			st.Close()
			return nil, err
		}
		st.Store = storage.NewPostgresStore(pool, cfg.CapacityBytes, logger)
	default:
		st.Store = storage.NewMemoryStore(cfg.CapacityBytes)
	}
	logger.Info("Storage backend ready", zap.String("backend", cfg.Backend), zap.Int64("capacityBytes", cfg.CapacityBytes))

	st.Characters = storage.NewCharacterCache(st.Store, storage.CharacterCacheConfig{
		MaxCharacters: cfg.MaxCharacters,
		CleanupCap:    cfg.CharacterCleanupCap,
	}, logger)
	st.Stories = storage.NewStoryCache(st.Store, storage.StoryCacheConfig{
		MaxStories:    cfg.MaxStories,
		Budget:        cfg.StoryBudgetBytes,
		EvictionRatio: cfg.EvictionRatio,
	}, logger)
	return st, nil
}

// setupPostgres создает пул соединений, повторяя попытки до готовности базы.
func setupPostgres(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := database.PoolConfig(cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, err
	}

	logger.Info("Attempting to connect to PostgreSQL",
		zap.String("dsn", cfg.MaskedPostgresDSN()),
		zap.Int("max_retries", connectRetries),
	)

	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		var (
			pool *pgxpool.Pool
			err  error
		)
		if cfg.PostgresAutoCreate {
			err = database.EnsureDatabase(connectCtx, cfg.PostgresDSN, logger)
		}
		if err == nil {
			pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
		}
		if err == nil {
			err = pool.Ping(connectCtx)
			if err != nil {
				pool.Close()
			}
		}
		cancel()
		if err == nil {
			logger.Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
			return pool, nil
		}

		lastErr = err
		logger.Warn("Postgres connection failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		if err := sleepCtx(ctx, connectRetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", connectRetries, lastErr)
}

// setupRedis создает клиент Redis и ждет успешного PING.
func setupRedis(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	logger.Info("Attempting to connect to Redis", zap.String("address", opts.Addr), zap.Int("db", opts.DB))

	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}

		_ = client.Close()
		lastErr = err
		logger.Warn("Redis ping failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		if err := sleepCtx(ctx, connectRetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", connectRetries, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
