package storage

import (
	"context"
	"sync"

	"github.com/example/resq-relay/internal/models"
)

// EventStore defines append/read operations for the rescue audit log. The
// relay appends on every lifecycle transition; the authority sync snapshot
// and the archiver read it back.
type EventStore interface {
	Append(ctx context.Context, ev models.RescueEvent) error
	Recent(ctx context.Context, limit int) ([]models.RescueEvent, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	events []models.RescueEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, ev models.RescueEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Recent returns up to limit events, oldest first.
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]models.RescueEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.RescueEvent, n)
	copy(out, m.events[len(m.events)-n:])
	return out, nil
}
