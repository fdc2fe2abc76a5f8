package geocode

import (
	"context"
	"sync"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

// MemoryStore is a process-local Store. It does not survive restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.Coordinate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]models.Coordinate)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (models.Coordinate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[key]
	return c, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, c models.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = c
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
