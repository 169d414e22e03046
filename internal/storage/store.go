package storage

import (
	"context"
)

// Ключи логических пространств хранилища.
const (
	CharactersKey   = "storybook_characters"
	StoryKeyPrefix  = "storybook_story_"
	StoriesIndexKey = "storybook_stories_index"
)

// Store - байтовое KV-хранилище с конечной емкостью.
// Set возвращает models.ErrStorageQuotaExceeded, если запись не помещается в емкость,
// Get возвращает models.ErrNotFound для отсутствующего ключа.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys возвращает все ключи с префиксом prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Usage - текущее занятое место в байтах (ключи + значения).
	Usage(ctx context.Context) (int64, error)
	// Capacity - емкость в байтах; 0 означает отсутствие ограничения.
	Capacity() int64
}

// StoryKey возвращает ключ тела истории.
func StoryKey(id string) string {
	return StoryKeyPrefix + id
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
