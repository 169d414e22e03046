package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

var baseTime = time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

func sampleStory(id string, createdAt time.Time) *models.GeneratedStory {
	return &models.GeneratedStory{
		ID: id,
		Config: models.StoryConfig{
			Prompt:         "A trip to the moon",
			Theme:          models.ThemeAdventurous,
			Style:          models.StyleComic,
			AgeGroup:       models.AgeGroupChild,
			CharacterCount: 1,
			PageCount:      2,
			Setting:        "space",
		},
		Characters: []models.Character{
			{ID: "c1", Name: "Leo", Description: "curious kid", ImageData: []byte{1, 2, 3}, ImageMimeType: "image/png"},
		},
		Pages: []models.StoryPage{
			{PageNumber: 1, Panels: []models.Panel{
				{ID: "p1", Description: "Leo builds a rocket", Characters: []string{"Leo"}, Narration: "Once upon a time"},
				{ID: "p2", Description: "Liftoff", Characters: []string{"Leo"}, Dialogue: []models.DialogueLine{{Character: "Leo", Text: "Go!"}}},
			}},
			{PageNumber: 2, Panels: []models.Panel{
				{ID: "p3", Description: "The moon", Characters: []string{}, ImageURL: "data:image/png;base64,AQID"},
			}},
		},
		Title:     "Leo on the Moon " + id,
		CreatedAt: createdAt,
	}
}

func TestStoryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewStoryCache(NewMemoryStore(0), StoryCacheConfig{}, zap.NewNop())

	story := sampleStory("s1", baseTime)
	story.CoverImage = "data:image/png;base64,AAAA"
	require.NoError(t, cache.Save(ctx, story))

	loaded, err := cache.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, story.CreatedAt.UnixMilli(), loaded.CreatedAt.UnixMilli())
	assert.Equal(t, story, loaded)
}

func TestStoryCache_IndexMetadata(t *testing.T) {
	ctx := context.Background()
	cache := NewStoryCache(NewMemoryStore(0), StoryCacheConfig{}, zap.NewNop())

	story := sampleStory("s1", baseTime)
	require.NoError(t, cache.Save(ctx, story))

	index := cache.ListAll(ctx)
	require.Len(t, index, 1)
	rec := index[0]
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, story.Title, rec.Title)
	assert.Equal(t, 2, rec.PageCount)
	assert.Equal(t, 3, rec.PanelCount)
	assert.Equal(t, 1, rec.CharacterCount)
	assert.Equal(t, "data:image/png;base64,AQID", rec.Thumbnail)
	assert.Positive(t, rec.StorageSize)
	assert.False(t, rec.HasCoverVideo)
}

func TestStoryCache_ResaveUpdatesSingleIndexEntry(t *testing.T) {
	ctx := context.Background()
	cache := NewStoryCache(NewMemoryStore(0), StoryCacheConfig{}, zap.NewNop())

	story := sampleStory("s1", baseTime)
	require.NoError(t, cache.Save(ctx, story))
	story.CoverVideoURL = "https://video.example/s1.mp4"
	story.CoverVideoRequestID = "req-1"
	require.NoError(t, cache.Save(ctx, story))

	index := cache.ListAll(ctx)
	require.Len(t, index, 1)
	assert.True(t, index[0].HasCoverVideo)
}

func TestStoryCache_ListAllNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	cache := NewStoryCache(store, StoryCacheConfig{MaxStories: 3}, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, cache.Save(ctx, sampleStory(fmt.Sprintf("s%d", i), baseTime.Add(time.Duration(i)*time.Hour))))
	}

	index := cache.ListAll(ctx)
	require.Len(t, index, 3)
	assert.Equal(t, "s4", index[0].ID)
	assert.Equal(t, "s3", index[1].ID)
	assert.Equal(t, "s2", index[2].ID)

	_, err := cache.Load(ctx, "s0")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.Get(ctx, StoryKey("s1"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStoryCache_QuotaEvictsOnceAndRetries(t *testing.T) {
	ctx := context.Background()

	bigStory := func(id string, offset int) *models.GeneratedStory {
		s := sampleStory(id, baseTime.Add(time.Duration(offset)*time.Minute))
		s.CoverImage = models.EncodeDataURI("image/png", bytes.Repeat([]byte{7}, 3000))
		return s
	}
	body, err := json.Marshal(bigStory("probe", 0))
	require.NoError(t, err)
	storySize := int64(len(body))

	store := NewMemoryStore(3*storySize + 2000)
	cache := NewStoryCache(store, StoryCacheConfig{}, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Save(ctx, bigStory(fmt.Sprintf("s%d", i), i)))
	}
	require.Len(t, cache.ListAll(ctx), 3)

	require.NoError(t, cache.Save(ctx, bigStory("s3", 3)))
	index := cache.ListAll(ctx)
	require.Len(t, index, 2)
	assert.Equal(t, "s3", index[0].ID)
	assert.Equal(t, "s2", index[1].ID)
}

func TestStoryCache_QuotaFailureIsReported(t *testing.T) {
	ctx := context.Background()
	cache := NewStoryCache(NewMemoryStore(200), StoryCacheConfig{}, zap.NewNop())

	err := cache.Save(ctx, sampleStory("huge", baseTime))
	assert.ErrorIs(t, err, models.ErrStorageQuotaExceeded)
	assert.Empty(t, cache.ListAll(ctx))
}

func TestStoryCache_LoadMissingOrCorrupt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	cache := NewStoryCache(store, StoryCacheConfig{}, zap.NewNop())

	_, err := cache.Load(ctx, "absent")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.Set(ctx, StoryKey("broken"), []byte("{")))
	_, err = cache.Load(ctx, "broken")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.Set(ctx, StoriesIndexKey, []byte("nope")))
	assert.Empty(t, cache.ListAll(ctx))
}

func TestStoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	cache := NewStoryCache(store, StoryCacheConfig{}, zap.NewNop())

	require.NoError(t, cache.Save(ctx, sampleStory("s1", baseTime)))
	require.NoError(t, cache.Save(ctx, sampleStory("s2", baseTime.Add(time.Hour))))
	require.NoError(t, cache.Delete(ctx, "s1"))

	index := cache.ListAll(ctx)
	require.Len(t, index, 1)
	assert.Equal(t, "s2", index[0].ID)
	_, err := store.Get(ctx, StoryKey("s1"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	stats := cache.UsageStats(ctx)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, index[0].StorageSize, stats.StoriesBytes)
}

func TestStoryCache_ConcurrentSavesKeepEveryIndexEntry(t *testing.T) {
	ctx := context.Background()
	cache := NewStoryCache(NewMemoryStore(0), StoryCacheConfig{MaxStories: 50}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, cache.Save(ctx, sampleStory(fmt.Sprintf("s%02d", i), baseTime.Add(time.Duration(i)*time.Second))))
		}(i)
	}
	wg.Wait()

	assert.Len(t, cache.ListAll(ctx), 20)
}

func TestStoryCache_RejectsStoryWithoutID(t *testing.T) {
	cache := NewStoryCache(NewMemoryStore(0), StoryCacheConfig{}, zap.NewNop())
	err := cache.Save(context.Background(), &models.GeneratedStory{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestStoryCache_ResavedOldStoryStaysIndexedAndIsEvictedLater(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	cache := NewStoryCache(store, StoryCacheConfig{MaxStories: 2}, zap.NewNop())

	old := sampleStory("old", baseTime)
	require.NoError(t, cache.Save(ctx, old))
	require.NoError(t, cache.Save(ctx, sampleStory("s1", baseTime.Add(time.Hour))))
	require.NoError(t, cache.Save(ctx, sampleStory("s2", baseTime.Add(2*time.Hour))))

	old.CoverVideoURL = "https://cdn.example.com/old.mp4"
	require.NoError(t, cache.Save(ctx, old))

	index := cache.ListAll(ctx)
	require.Len(t, index, 2)
	assert.Equal(t, "s2", index[0].ID)
	assert.Equal(t, "old", index[1].ID)
	_, err := store.Get(ctx, StoryKey("s1"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	for i := 3; i <= 7; i++ {
		require.NoError(t, cache.Save(ctx, sampleStory(fmt.Sprintf("s%d", i), baseTime.Add(time.Duration(i)*time.Hour))))
	}

	index = cache.ListAll(ctx)
	require.Len(t, index, 2)
	assert.Equal(t, "s7", index[0].ID)
	assert.Equal(t, "s6", index[1].ID)

	keys, err := store.Keys(ctx, StoryKeyPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{StoryKey("s7"), StoryKey("s6")}, keys)
}

func TestStoryCache_EvictionRemovesBodiesWithoutIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	cache := NewStoryCache(store, StoryCacheConfig{MaxStories: 2}, zap.NewNop())

	require.NoError(t, store.Set(ctx, StoryKey("stray"), []byte(`{"id":"stray"}`)))
	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Save(ctx, sampleStory(fmt.Sprintf("s%d", i), baseTime.Add(time.Duration(i)*time.Hour))))
	}

	_, err := store.Get(ctx, StoryKey("stray"))
	assert.ErrorIs(t, err, models.ErrNotFound)
	keys, err := store.Keys(ctx, StoryKeyPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{StoryKey("s2"), StoryKey("s1")}, keys)
}

// opRecordingStore запоминает порядок записей и удалений.
type opRecordingStore struct {
	*MemoryStore
	mu  sync.Mutex
	ops []string
}

func (s *opRecordingStore) Set(ctx context.Context, key string, value []byte) error {
	s.record("set " + key)
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *opRecordingStore) Delete(ctx context.Context, key string) error {
	s.record("delete " + key)
	return s.MemoryStore.Delete(ctx, key)
}

func (s *opRecordingStore) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *opRecordingStore) indexOf(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func TestStoryCache_BudgetEvictionRunsBeforeWrite(t *testing.T) {
	ctx := context.Background()
	body, err := json.Marshal(sampleStory("s0", baseTime))
	require.NoError(t, err)
	storySize := int64(len(body))

	store := &opRecordingStore{MemoryStore: NewMemoryStore(0)}
	cache := NewStoryCache(store, StoryCacheConfig{
		MaxStories:    3,
		Budget:        2 * storySize,
		EvictionRatio: 0.8,
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Save(ctx, sampleStory(fmt.Sprintf("s%d", i), baseTime.Add(time.Duration(i)*time.Hour))))
	}
	require.Len(t, cache.ListAll(ctx), 3)
	usage, err := store.Usage(ctx)
	require.NoError(t, err)
	require.Greater(t, float64(usage), 0.8*float64(2*storySize))

	require.NoError(t, cache.Save(ctx, sampleStory("s3", baseTime.Add(3*time.Hour))))

	evictedAt := store.indexOf("delete " + StoryKey("s0"))
	writtenAt := store.indexOf("set " + StoryKey("s3"))
	require.NotEqual(t, -1, evictedAt)
	require.NotEqual(t, -1, writtenAt)
	assert.Less(t, evictedAt, writtenAt)

	index := cache.ListAll(ctx)
	require.Len(t, index, 3)
	assert.Equal(t, []string{"s3", "s2", "s1"}, []string{index[0].ID, index[1].ID, index[2].ID})
	_, err = store.Get(ctx, StoryKey("s0"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}
