package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"storybook-server/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore - хранилище в памяти процесса с ограничением по размеру.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	usage    int64
	capacity int64
}

// NewMemoryStore создает хранилище в памяти. capacity <= 0 - без ограничения.
func NewMemoryStore(capacity int64) *MemoryStore {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryStore{
		data:     make(map[string][]byte),
		capacity: capacity,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSize := entrySize(key, value)
	var oldSize int64
	if old, ok := s.data[key]; ok {
		oldSize = entrySize(key, old)
	}
	if s.capacity > 0 && s.usage-oldSize+newSize > s.capacity {
		return fmt.Errorf("%w: key %s needs %d bytes, %d of %d used",
			models.ErrStorageQuotaExceeded, key, newSize, s.usage, s.capacity)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	s.usage += newSize - oldSize
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.usage -= entrySize(key, old)
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Usage(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage, nil
}

func (s *MemoryStore) Capacity() int64 {
	return s.capacity
}
