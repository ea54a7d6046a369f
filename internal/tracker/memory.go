package tracker

import (
	"context"
	"sync"
)

// MemoryKV is an in-memory KV used by tests. SetFailErr makes writes fail.
type MemoryKV struct {
	mu         sync.Mutex
	data       map[string]string
	getErr     error
	setErr     error
	setCalls   int
	lastStored string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.lastStored = value
	return nil
}

// Seed stores a value directly, bypassing error injection.
func (m *MemoryKV) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *MemoryKV) FailGets(err error) { m.mu.Lock(); m.getErr = err; m.mu.Unlock() }
func (m *MemoryKV) FailSets(err error) { m.mu.Lock(); m.setErr = err; m.mu.Unlock() }

func (m *MemoryKV) SetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

func (m *MemoryKV) LastStored() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStored
}
