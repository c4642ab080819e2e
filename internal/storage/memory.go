package storage

import (
	"context"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store. It is the default per-process driver and
// the fake used by tests; several engine instances may share one MemStore to
// act as concurrent writers against the same state.
type MemStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	subs    map[string]map[int]func(string)
	nextSub int
}

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
		subs: make(map[string]map[int]func(string)),
	}
}

func (m *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNoKey
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemStore) Set(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[key] = cp
	m.mu.Unlock()
	m.notify(key)
	return nil
}

func (m *MemStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	_, ok := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	if ok {
		m.notify(key)
	}
	return nil
}

func (m *MemStore) Subscribe(key string, h func(key string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]func(string))
	}
	id := m.nextSub
	m.nextSub++
	m.subs[key][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[key], id)
			m.mu.Unlock()
		})
	}
}

// notify runs handlers outside the lock so they may call back into the store.
func (m *MemStore) notify(key string) {
	m.mu.RLock()
	hs := make([]func(string), 0, len(m.subs[key]))
	for _, h := range m.subs[key] {
		hs = append(hs, h)
	}
	m.mu.RUnlock()
	for _, h := range hs {
		h(key)
	}
}
