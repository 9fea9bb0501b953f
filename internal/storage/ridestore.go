package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore persists terminal ride outcomes for the external history
// collaborators. The dispatch engine only ever writes; reads belong to the
// CRUD surface outside this repo.
type RideStore interface {
	SaveRide(ctx context.Context, r models.RideRequest) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]models.RideRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.RideRequest)}
}

func (m *MemoryStore) SaveRide(ctx context.Context, r models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.RideID] = r
	return nil
}

func (m *MemoryStore) Get(id string) (models.RideRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
