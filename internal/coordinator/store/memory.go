package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

// Memory keeps orders in a map. Callers always receive clones.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*domain.Order)}
}

var _ Repository = (*Memory)(nil)

func (m *Memory) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, o.ID)
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return o.Clone(), nil
}

func (m *Memory) Update(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, o.ID)
	}
	if cur.Version != o.Version {
		return fmt.Errorf("%w: %s at version %d, have %d", ErrConcurrencyConflict, o.ID, cur.Version, o.Version)
	}
	o.Version++
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *Memory) ListByClient(_ context.Context, clientID string) ([]*domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.ClientID == clientID }), nil
}

func (m *Memory) ListActive(_ context.Context) ([]*domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.Status == domain.StageSubmitted || o.Status.Pending() }), nil
}

func (m *Memory) filter(keep func(*domain.Order) bool) []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
