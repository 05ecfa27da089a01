package storage

import (
	"context"
	"sync"

	"postbot/internal/jobs"
)

// memoryStore backs the "none" driver and tests.
type memoryStore struct {
	ids *ids

	mu         sync.Mutex
	table      jobs.Table
	deliveries []Delivery
}

func newMemory() *memoryStore {
	return &memoryStore{ids: newIDs(), table: jobs.NewTable()}
}

// NewMemory returns a Store that keeps everything in process memory.
func NewMemory() Store { return newMemory() }

func (m *memoryStore) Load(context.Context) (jobs.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, t jobs.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = t.Clone()
	return nil
}

func (m *memoryStore) AppendDelivery(_ context.Context, d Delivery) error {
	m.ids.stamp(&d)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *memoryStore) RecentDeliveries(_ context.Context, limit int) ([]Delivery, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, 0, min(limit, len(m.deliveries)))
	for i := len(m.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.deliveries[i])
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }
