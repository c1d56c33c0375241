package storage

import (
	"context"
	"sync"

	"github.com/rewired-gh/marketalert/internal/models"
)

// MemoryStore keeps dedupe state in process memory. State is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]models.DedupeState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.DedupeState)}
}

func (m *MemoryStore) LoadState(_ context.Context, symbol string) (*models.DedupeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[symbol]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) UpdateState(_ context.Context, symbol string, fn func(*models.DedupeState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[symbol]
	if !ok {
		st = models.DedupeState{PreviousLevel: models.NoAlert}
	}
	if err := fn(&st); err != nil {
		return err
	}
	m.states[symbol] = st
	return nil
}
