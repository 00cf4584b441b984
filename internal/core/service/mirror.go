package service

import (
	"sync"

	"github.com/ptduy/livecount/internal/core/domain"
)

// Mirror is the process-local copy of the remote entity set. It is a pure
// store: the sync engine is its only writer, readers get value copies and
// must tolerate a value that is about to change.
type Mirror struct {
	mu       sync.RWMutex
	entities map[string]domain.Entity
}

func NewMirror() *Mirror {
	return &Mirror{entities: make(map[string]domain.Entity)}
}

func (m *Mirror) Get(id string) (domain.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return e.Clone(), true
}

func (m *Mirror) Upsert(e domain.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e.Clone()
}

func (m *Mirror) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
}

func (m *Mirror) All() []domain.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e.Clone())
	}
	return out
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}
