package storage

import (
	"context"
	"sync"

	"github.com/example/roadside-assist/internal/models"
)

// RequestStore journals service requests as the client observes them. The
// backend stays authoritative; the journal only keeps a local history.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.ServiceRequest) error
	UpdateRequest(ctx context.Context, r *models.ServiceRequest) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[int]*models.ServiceRequest
	history  map[int][]models.Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[int]*models.ServiceRequest), history: make(map[int][]models.Status)}
}

func (m *MemoryStore) SaveRequest(ctx context.Context, r *models.ServiceRequest) error {
	return m.put(r)
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, r *models.ServiceRequest) error {
	return m.put(r)
}

func (m *MemoryStore) put(r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[r.ID]
	if len(h) == 0 || h[len(h)-1] != r.Status {
		m.history[r.ID] = append(h, r.Status)
	}
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(id int) (*models.ServiceRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r.Clone(), ok
}

// History lists the distinct statuses recorded for id, oldest first.
func (m *MemoryStore) History(id int) []models.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Status(nil), m.history[id]...)
}
