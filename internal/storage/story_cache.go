package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Значения по умолчанию для кэша историй.
const (
	DefaultMaxStories    = 10
	DefaultStoryBudget   = 50 * 1024 * 1024
	DefaultEvictionRatio = 0.8
)

// StoryCacheConfig - лимиты кэша историй.
type StoryCacheConfig struct {
	MaxStories int
	// Budget - бюджет хранилища в байтах для проактивной очистки.
	Budget int64
	// EvictionRatio - доля бюджета, при превышении которой удаляются старые истории.
	EvictionRatio float64
}

// StoryCacheStats - сводка по кэшу историй.
type StoryCacheStats struct {
	Count        int   `json:"count"`
	StoriesBytes int64 `json:"storiesBytes"`
	StoreUsage   int64 `json:"storeUsage"`
	Budget       int64 `json:"budget"`
}

// StoryCache хранит тела историй под отдельными ключами и индекс метаданных.
// Тело пишется первым, индекс вторым; оба шага выполняются под одной блокировкой.
type StoryCache struct {
	store  Store
	cfg    StoryCacheConfig
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStoryCache создает кэш историй.
func NewStoryCache(store Store, cfg StoryCacheConfig, logger *zap.Logger) *StoryCache {
	if cfg.MaxStories <= 0 {
		cfg.MaxStories = DefaultMaxStories
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultStoryBudget
	}
	if cfg.EvictionRatio <= 0 || cfg.EvictionRatio > 1 {
		cfg.EvictionRatio = DefaultEvictionRatio
	}
	return &StoryCache{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("StoryCache"),
	}
}

// Save сохраняет историю. При нехватке места выполняется одна очистка и одна повторная попытка;
// если и она не удалась, возвращается ошибка с models.ErrStorageQuotaExceeded.
func (c *StoryCache) Save(ctx context.Context, story *models.GeneratedStory) error {
	if story == nil || story.ID == "" {
		return fmt.Errorf("%w: story without id", models.ErrInvalidInput)
	}

	body, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize story %s: %v", models.ErrInvalidInput, story.ID, err)
	}
	size := int64(len(body))
	log := c.logger.With(zap.String("storyID", story.ID), zap.Int64("size", size))

	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.readIndex(ctx)

	usage, err := c.store.Usage(ctx)
	if err != nil {
		log.Warn("Failed to read storage usage", zap.Error(err))
	} else if float64(usage) > c.cfg.EvictionRatio*float64(c.cfg.Budget) {
		log.Info("Storage usage above threshold, evicting old stories",
			zap.Int64("usage", usage), zap.Int64("budget", c.cfg.Budget))
		index = c.evict(ctx, index, story.ID, c.cfg.MaxStories-1, "budget")
	}

	record := models.NewStoredStoryRecord(story, size)
	err = c.writeStory(ctx, story.ID, body, record, index)
	if err != nil && errors.Is(err, models.ErrStorageQuotaExceeded) {
		log.Warn("Storage quota exceeded, evicting and retrying once", zap.Error(err))
		index = c.evict(ctx, c.readIndex(ctx), story.ID, len(index)/2, "quota")
		err = c.writeStory(ctx, story.ID, body, record, index)
	}
	if err != nil {
		cacheWriteFailuresTotal.WithLabelValues("stories").Inc()
		log.Error("Failed to save story", zap.Error(err))
		return err
	}

	log.Info("Story saved")
	return nil
}

// writeStory пишет тело, затем индекс. Сохраняемая история всегда остается в индексе,
// сверх MaxStories вытесняются самые старые из остальных.
func (c *StoryCache) writeStory(ctx context.Context, id string, body []byte, record models.StoredStoryRecord, index []models.StoredStoryRecord) error {
	if err := c.store.Set(ctx, StoryKey(id), body); err != nil {
		return fmt.Errorf("failed to write story body: %w", err)
	}

	others := make([]models.StoredStoryRecord, 0, len(index))
	for _, rec := range index {
		if rec.ID != id {
			others = append(others, rec)
		}
	}
	sortNewestFirst(others)

	var dropped []models.StoredStoryRecord
	if limit := c.cfg.MaxStories - 1; len(others) > limit {
		dropped = others[limit:]
		others = others[:limit]
	}
	updated := make([]models.StoredStoryRecord, 0, len(others)+1)
	updated = append(updated, others...)
	updated = append(updated, record)
	sortNewestFirst(updated)

	if err := c.writeIndex(ctx, updated); err != nil {
		return fmt.Errorf("failed to write story index: %w", err)
	}

	if len(dropped) > 0 {
		cacheEvictionsTotal.WithLabelValues("stories", "cap").Add(float64(len(dropped)))
		c.sweepOrphans(ctx, updated, id)
	}
	return nil
}

// evict оставляет keep самых новых историй (не считая keepID) и удаляет остальные,
// затем удаляет тела, на которые не ссылается индекс.
func (c *StoryCache) evict(ctx context.Context, index []models.StoredStoryRecord, keepID string, keep int, reason string) []models.StoredStoryRecord {
	sortNewestFirst(index)

	kept := make([]models.StoredStoryRecord, 0, len(index))
	var evicted []models.StoredStoryRecord
	others := 0
	for _, rec := range index {
		if rec.ID == keepID {
			kept = append(kept, rec)
			continue
		}
		if others < keep {
			kept = append(kept, rec)
			others++
			continue
		}
		evicted = append(evicted, rec)
	}

	if len(evicted) > 0 {
		for _, rec := range evicted {
			if err := c.store.Delete(ctx, StoryKey(rec.ID)); err != nil {
				c.logger.Warn("Failed to evict story", zap.String("storyID", rec.ID), zap.Error(err))
			}
		}
		if err := c.writeIndex(ctx, kept); err != nil {
			c.logger.Warn("Failed to write index after eviction", zap.Error(err))
		}
		cacheEvictionsTotal.WithLabelValues("stories", reason).Add(float64(len(evicted)))
		c.logger.Info("Old stories evicted", zap.Int("evicted", len(evicted)), zap.Int("kept", len(kept)), zap.String("reason", reason))
	}
	c.sweepOrphans(ctx, kept, keepID)
	return kept
}

// sweepOrphans удаляет тела историй, которых нет в index (кроме keepID).
func (c *StoryCache) sweepOrphans(ctx context.Context, index []models.StoredStoryRecord, keepID string) {
	keys, err := c.store.Keys(ctx, StoryKeyPrefix)
	if err != nil {
		c.logger.Warn("Failed to list story bodies", zap.Error(err))
		return
	}

	live := make(map[string]struct{}, len(index)+1)
	live[StoryKey(keepID)] = struct{}{}
	for _, rec := range index {
		live[StoryKey(rec.ID)] = struct{}{}
	}
	for _, key := range keys {
		if _, ok := live[key]; ok {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to delete story body", zap.String("key", key), zap.Error(err))
			continue
		}
		c.logger.Debug("Story body without index entry removed", zap.String("key", key))
	}
}

// Load возвращает историю по id. Отсутствующая и поврежденная история - models.ErrNotFound.
func (c *StoryCache) Load(ctx context.Context, id string) (*models.GeneratedStory, error) {
	raw, err := c.store.Get(ctx, StoryKey(id))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: story %s", models.ErrNotFound, id)
		}
		c.logger.Error("Failed to read story", zap.String("storyID", id), zap.Error(err))
		return nil, fmt.Errorf("%w: story %s is unreadable", models.ErrNotFound, id)
	}

	var story models.GeneratedStory
	if err := json.Unmarshal(raw, &story); err != nil {
		c.logger.Error("Stored story is corrupted", zap.String("storyID", id), zap.Error(err))
		return nil, fmt.Errorf("%w: story %s is corrupted", models.ErrNotFound, id)
	}
	return &story, nil
}

// ListAll возвращает индекс историй, новые первыми.
func (c *StoryCache) ListAll(ctx context.Context) []models.StoredStoryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.readIndex(ctx)
	sortNewestFirst(index)
	if index == nil {
		return []models.StoredStoryRecord{}
	}
	return index
}

// Delete удаляет тело истории и ее запись в индексе.
func (c *StoryCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, StoryKey(id)); err != nil {
		return fmt.Errorf("failed to delete story %s: %w", id, err)
	}

	index := c.readIndex(ctx)
	updated := index[:0]
	for _, rec := range index {
		if rec.ID != id {
			updated = append(updated, rec)
		}
	}
	if err := c.writeIndex(ctx, updated); err != nil {
		return fmt.Errorf("failed to update story index: %w", err)
	}
	c.logger.Info("Story deleted", zap.String("storyID", id))
	return nil
}

// UsageStats возвращает сводку по кэшу историй.
func (c *StoryCache) UsageStats(ctx context.Context) StoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := StoryCacheStats{Budget: c.cfg.Budget}
	index := c.readIndex(ctx)
	stats.Count = len(index)
	for _, rec := range index {
		stats.StoriesBytes += rec.StorageSize
	}
	if usage, err := c.store.Usage(ctx); err == nil {
		stats.StoreUsage = usage
	}
	return stats
}

func (c *StoryCache) readIndex(ctx context.Context) []models.StoredStoryRecord {
	raw, err := c.store.Get(ctx, StoriesIndexKey)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			c.logger.Warn("Failed to read story index", zap.Error(err))
		}
		return nil
	}
	var index []models.StoredStoryRecord
	if err := json.Unmarshal(raw, &index); err != nil {
		c.logger.Warn("Story index is corrupted, treating as empty", zap.Error(err))
		return nil
	}
	return index
}

func (c *StoryCache) writeIndex(ctx context.Context, index []models.StoredStoryRecord) error {
	if index == nil {
		index = []models.StoredStoryRecord{}
	}
	raw, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, StoriesIndexKey, raw)
}

func sortNewestFirst(index []models.StoredStoryRecord) {
	sort.SliceStable(index, func(i, j int) bool {
		return index[i].CreatedAt.After(index[j].CreatedAt)
	})
}
