package kvstore

import (
	"context"
	"slices"
	"sync"
)

type memoryStore struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *memoryStore {
	return &memoryStore{
		mutex:   sync.RWMutex{},
		entries: make(map[string][]byte),
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(value), true, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[key] = slices.Clone(value)
	return nil
}
