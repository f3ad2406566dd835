package sagalog

import (
	"context"
	"sync"
)

// Repository is the port the coordinator writes its audit trail through.
type Repository interface {
	// Save appends an entry. The log is append-only.
	Save(ctx context.Context, entry *SagaLog) error
	// ListBySaga returns every entry of one saga in write order.
	ListBySaga(ctx context.Context, sagaID string) ([]*SagaLog, error)
}

// Memory is a Repository for tests and the all-in-one binary.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]*SagaLog
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]*SagaLog)}
}

func (m *Memory) Save(_ context.Context, entry *SagaLog) error {
	cp := *entry
	m.mu.Lock()
	m.entries[entry.SagaID] = append(m.entries[entry.SagaID], &cp)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListBySaga(_ context.Context, sagaID string) ([]*SagaLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.entries[sagaID]
	out := make([]*SagaLog, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
