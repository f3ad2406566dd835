package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// Memory is a process-local Cache for single-binary deployments and tests.
type Memory struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	serviceName string
	now         func() time.Time
}

func NewMemory(serviceName string) *Memory {
	return &Memory{entries: make(map[string]memoryEntry), serviceName: serviceName, now: time.Now}
}

func (m *Memory) liveLocked(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return e, false
	}
	return e, true
}

func (m *Memory) entry(value interface{}, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: fmt.Sprint(value)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	return e
}

func (m *Memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.entry(value, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.entries[key] = m.entry(value, ttl)
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return "", nil
	}
	return e.value, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", m.serviceName, operation, key)
}
