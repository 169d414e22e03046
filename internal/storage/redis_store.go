package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const redisMaxCASAttempts = 5

var _ Store = (*RedisStore)(nil)

// RedisStore хранит значения в Redis под общим префиксом.
// Размеры записей ведутся в отдельном хеше, запись выполняется через WATCH/MULTI,
// поэтому проверка квоты и обновление учета атомарны.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	capacity int64
	logger   *zap.Logger
}

// NewRedisStore создает хранилище поверх Redis-клиента.
func NewRedisStore(client *redis.Client, prefix string, capacity int64, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "storybook:"
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		logger:   logger.Named("RedisStore"),
	}
}

func (s *RedisStore) dataKey(key string) string {
	return s.prefix + "data:" + key
}

func (s *RedisStore) sizesKey() string {
	return s.prefix + "sizes"
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("Failed to get value from redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	sizesKey := s.sizesKey()
	newSize := entrySize(key, value)

	txf := func(tx *redis.Tx) error {
		sizes, err := tx.HGetAll(ctx, sizesKey).Result()
		if err != nil {
			return err
		}
		usage, oldSize := sumSizes(sizes, key)
		if s.capacity > 0 && usage-oldSize+newSize > s.capacity {
			return fmt.Errorf("%w: key %s needs %d bytes, %d of %d used",
				models.ErrStorageQuotaExceeded, key, newSize, usage, s.capacity)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.dataKey(key), value, 0)
			pipe.HSet(ctx, sizesKey, key, newSize)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= redisMaxCASAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, sizesKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Concurrent write detected, retrying", zap.String("key", key), zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, models.ErrStorageQuotaExceeded) {
			return err
		}
		s.logger.Error("Failed to set value in redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return fmt.Errorf("failed to set %s in redis: too many concurrent writers", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(key))
	pipe.HDel(ctx, s.sizesKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to delete value from redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

// Keys берет ключи из хеша размеров.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	fields, err := s.client.HKeys(ctx, s.sizesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from redis: %w", err)
	}
	keys := fields[:0]
	for _, field := range fields {
		if strings.HasPrefix(field, prefix) {
			keys = append(keys, field)
		}
	}
	return keys, nil
}

func (s *RedisStore) Usage(ctx context.Context) (int64, error) {
	sizes, err := s.client.HGetAll(ctx, s.sizesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage from redis: %w", err)
	}
	usage, _ := sumSizes(sizes, "")
	return usage, nil
}

func (s *RedisStore) Capacity() int64 {
	return s.capacity
}

// sumSizes суммирует размеры из хеша и отдельно возвращает размер key.
func sumSizes(sizes map[string]string, key string) (total int64, keySize int64) {
	for field, raw := range sizes {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		total += size
		if field == key {
			keySize = size
		}
	}
	return total, keySize
}
