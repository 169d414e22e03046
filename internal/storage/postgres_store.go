package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Ключ advisory-блокировки, сериализующей запись при проверке квоты.
const kvAdvisoryLockKey int64 = 0x53544f5259

var _ Store = (*PostgresStore)(nil)

// PostgresStore хранит записи в таблице storybook_kv.
type PostgresStore struct {
	pool     *pgxpool.Pool
	capacity int64
	logger   *zap.Logger
}

// NewPostgresStore создает хранилище поверх пула pgx. Схема создается ApplyMigrations.
func NewPostgresStore(pool *pgxpool.Pool, capacity int64, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		capacity: capacity,
		logger:   logger.Named("PostgresStore"),
	}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM storybook_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("Failed to get value from postgres", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get %s from postgres: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	newSize := entrySize(key, value)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, kvAdvisoryLockKey); err != nil {
		return fmt.Errorf("failed to acquire storage lock: %w", err)
	}

	var usage, oldSize int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(size), 0), COALESCE(SUM(size) FILTER (WHERE key = $1), 0) FROM storybook_kv`,
		key,
	).Scan(&usage, &oldSize)
	if err != nil {
		return fmt.Errorf("failed to read storage usage: %w", err)
	}
	if s.capacity > 0 && usage-oldSize+newSize > s.capacity {
		return fmt.Errorf("%w: key %s needs %d bytes, %d of %d used",
			models.ErrStorageQuotaExceeded, key, newSize, usage, s.capacity)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO storybook_kv (key, value, size, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, size = EXCLUDED.size, updated_at = NOW()`,
		key, value, newSize,
	)
	if err != nil {
		s.logger.Error("Failed to upsert value in postgres", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set %s in postgres: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM storybook_kv WHERE key = $1`, key); err != nil {
		s.logger.Error("Failed to delete value from postgres", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete %s from postgres: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM storybook_kv WHERE left(key, length($1)) = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from postgres: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from postgres: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) Usage(ctx context.Context) (int64, error) {
	var usage int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(size), 0) FROM storybook_kv`).Scan(&usage); err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}
	return usage, nil
}

func (s *PostgresStore) Capacity() int64 {
	return s.capacity
}
