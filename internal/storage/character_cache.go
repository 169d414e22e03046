package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Значения по умолчанию для кэша персонажей.
const (
	DefaultMaxCachedCharacters = 50
	DefaultCharacterCleanupCap = 30
)

// CharacterCacheConfig - лимиты кэша персонажей.
type CharacterCacheConfig struct {
	MaxCharacters int
	// CleanupCap - лимит, половина которого остается после аварийной очистки.
	CleanupCap int
}

// CharacterCacheStats - сводка по кэшу персонажей.
type CharacterCacheStats struct {
	Count        int    `json:"count"`
	StorageBytes int64  `json:"storageBytes"`
	TotalUsage   int    `json:"totalUsage"`
	MostUsed     string `json:"mostUsed,omitempty"`
}

// CharacterCache - best-effort кэш персонажей с дизайнами.
// Ошибки хранилища не доходят до вызывающего: запись либо удается, либо тихо пропускается.
type CharacterCache struct {
	store  Store
	cfg    CharacterCacheConfig
	now    func() time.Time
	logger *zap.Logger
	mu     sync.Mutex
}

// NewCharacterCache создает кэш персонажей.
func NewCharacterCache(store Store, cfg CharacterCacheConfig, logger *zap.Logger, opts ...Option) *CharacterCache {
	if cfg.MaxCharacters <= 0 {
		cfg.MaxCharacters = DefaultMaxCachedCharacters
	}
	if cfg.CleanupCap <= 0 {
		cfg.CleanupCap = DefaultCharacterCleanupCap
	}
	o := buildOptions(opts)
	return &CharacterCache{
		store:  store,
		cfg:    cfg,
		now:    o.now,
		logger: logger.Named("CharacterCache"),
	}
}

// Save добавляет или обновляет персонажей. Персонажи без дизайна и без фото пропускаются.
func (c *CharacterCache) Save(ctx context.Context, characters []models.Character) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.readAll(ctx)
	now := c.now().UTC()
	saved := 0

	for _, character := range characters {
		if !character.HasVisualReference() {
			c.logger.Debug("Skipping character without design or image", zap.String("name", character.Name))
			continue
		}
		idx := indexOfRecord(records, character)
		if idx >= 0 {
			rec := &records[idx]
			rec.Character = mergeCachedCharacter(rec.Character, character)
			rec.UsageCount++
			rec.LastUsed = now
		} else {
			records = append(records, models.StoredCharacterRecord{
				Character:  character,
				CreatedAt:  now,
				LastUsed:   now,
				UsageCount: 1,
			})
		}
		saved++
	}
	if saved == 0 {
		return
	}

	sortByUsage(records)
	if len(records) > c.cfg.MaxCharacters {
		cacheEvictionsTotal.WithLabelValues("characters", "cap").Add(float64(len(records) - c.cfg.MaxCharacters))
		records = records[:c.cfg.MaxCharacters]
	}

	if err := c.writeAll(ctx, records); err != nil {
		c.logger.Warn("Failed to write character cache, running cleanup", zap.Int("records", len(records)), zap.Error(err))
		c.cleanupAndWrite(ctx, records)
		return
	}
	c.logger.Debug("Characters cached", zap.Int("saved", saved), zap.Int("total", len(records)))
}

// cleanupAndWrite оставляет половину CleanupCap самых свежих записей и пробует записать еще раз.
func (c *CharacterCache) cleanupAndWrite(ctx context.Context, records []models.StoredCharacterRecord) {
	keep := c.cfg.CleanupCap / 2
	sortByRecency(records)
	if len(records) > keep {
		cacheEvictionsTotal.WithLabelValues("characters", "quota").Add(float64(len(records) - keep))
		records = records[:keep]
	}
	sortByUsage(records)
	if err := c.writeAll(ctx, records); err != nil {
		cacheWriteFailuresTotal.WithLabelValues("characters").Inc()
		c.logger.Warn("Character cache cleanup did not free enough space, giving up", zap.Error(err))
	}
}

// LoadForNames возвращает персонажа для каждого имени: из кэша либо пустую заготовку с новым id.
func (c *CharacterCache) LoadForNames(ctx context.Context, names []string) []models.Character {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.readAll(ctx)
	now := c.now().UTC()
	result := make([]models.Character, 0, len(names))
	touched := false

	for _, name := range names {
		idx := indexOfName(records, name)
		if idx < 0 {
			result = append(result, models.Character{ID: uuid.NewString(), Name: strings.TrimSpace(name)})
			continue
		}
		records[idx].LastUsed = now
		touched = true
		result = append(result, records[idx].Character)
	}

	if touched {
		if err := c.writeAll(ctx, records); err != nil {
			c.logger.Debug("Failed to update lastUsed for cached characters", zap.Error(err))
		}
	}
	return result
}

// ByName ищет запись по имени без учета регистра.
func (c *CharacterCache) ByName(ctx context.Context, name string) (models.StoredCharacterRecord, bool) {
	records := c.snapshot(ctx)
	idx := indexOfName(records, name)
	if idx < 0 {
		return models.StoredCharacterRecord{}, false
	}
	return records[idx], true
}

// MostUsed возвращает n самых используемых персонажей.
func (c *CharacterCache) MostUsed(ctx context.Context, n int) []models.StoredCharacterRecord {
	records := c.snapshot(ctx)
	sortByUsage(records)
	return firstN(records, n)
}

// MostRecent возвращает n последних использованных персонажей.
func (c *CharacterCache) MostRecent(ctx context.Context, n int) []models.StoredCharacterRecord {
	records := c.snapshot(ctx)
	sortByRecency(records)
	return firstN(records, n)
}

// ClearAll удаляет все закэшированные персонажи.
func (c *CharacterCache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, CharactersKey)
}

// UsageStats возвращает сводку по кэшу.
func (c *CharacterCache) UsageStats(ctx context.Context) CharacterCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CharacterCacheStats{}
	raw, err := c.store.Get(ctx, CharactersKey)
	if err != nil {
		return stats
	}
	stats.StorageBytes = entrySize(CharactersKey, raw)

	var records []models.StoredCharacterRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return stats
	}
	stats.Count = len(records)
	sortByUsage(records)
	for _, rec := range records {
		stats.TotalUsage += rec.UsageCount
	}
	if len(records) > 0 {
		stats.MostUsed = records[0].Name
	}
	return stats
}

func (c *CharacterCache) snapshot(ctx context.Context) []models.StoredCharacterRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readAll(ctx)
}

// readAll читает все записи. Отсутствие и повреждение данных трактуются как пустой кэш.
func (c *CharacterCache) readAll(ctx context.Context) []models.StoredCharacterRecord {
	raw, err := c.store.Get(ctx, CharactersKey)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			c.logger.Warn("Failed to read character cache", zap.Error(err))
		}
		return nil
	}
	var records []models.StoredCharacterRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		c.logger.Warn("Character cache is corrupted, treating as empty", zap.Error(err))
		return nil
	}
	return records
}

func (c *CharacterCache) writeAll(ctx context.Context, records []models.StoredCharacterRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, CharactersKey, raw)
}

// mergeCachedCharacter обновляет запись новыми данными, не теряя уже сохраненные изображения.
func mergeCachedCharacter(existing, incoming models.Character) models.Character {
	merged := incoming
	if merged.ID == "" {
		merged.ID = existing.ID
	}
	if !merged.HasDesign() {
		merged.GeneratedDesignImage = existing.GeneratedDesignImage
	}
	if !merged.HasUploadedImage() {
		merged.ImageData = existing.ImageData
		merged.ImageMimeType = existing.ImageMimeType
	}
	if merged.Description == "" {
		merged.Description = existing.Description
	}
	if merged.Personality == "" {
		merged.Personality = existing.Personality
	}
	if merged.Appearance == "" {
		merged.Appearance = existing.Appearance
	}
	if merged.Role == "" {
		merged.Role = existing.Role
	}
	merged.Approved = merged.Approved || existing.Approved
	return merged
}

func indexOfRecord(records []models.StoredCharacterRecord, character models.Character) int {
	if idx := indexOfName(records, character.Name); idx >= 0 {
		return idx
	}
	if character.ID == "" {
		return -1
	}
	for i := range records {
		if records[i].ID == character.ID {
			return i
		}
	}
	return -1
}

func indexOfName(records []models.StoredCharacterRecord, name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}
	for i := range records {
		if records[i].SameName(name) {
			return i
		}
	}
	return -1
}

// sortByUsage упорядочивает по (usageCount desc, lastUsed desc), имя - для детерминизма.
func sortByUsage(records []models.StoredCharacterRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

func sortByRecency(records []models.StoredCharacterRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		return a.UsageCount > b.UsageCount
	})
}

func firstN[T any](items []T, n int) []T {
	if n < 0 || n >= len(items) {
		return items
	}
	return items[:n]
}
