package slot

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	slots map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, slots: make(map[string]entry)}
}

func (m *MemoryStore) Get(ctx context.Context, uid, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(slotKey(uid, key))
}

func (m *MemoryStore) getLocked(k string) (string, error) {
	e, ok := m.slots[k]
	if !ok {
		return "", ErrEmpty
	}
	if m.ttl > 0 && !m.now().Before(e.expiresAt) {
		delete(m.slots, k)
		return "", ErrEmpty
	}
	return e.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, uid, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slotKey(uid, key)] = entry{value: value, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, uid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slotKey(uid, key))
	return nil
}

func (m *MemoryStore) Take(ctx context.Context, uid, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey(uid, key)
	v, err := m.getLocked(k)
	if err != nil {
		return "", err
	}
	delete(m.slots, k)
	return v, nil
}
