package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStore keeps uploads in process memory for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("failed to read upload %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = buf.Bytes()
	m.types[name] = contentType
	return publicURL(m.baseURL, name), nil
}

// Object returns the stored bytes and content type of name.
func (m *MemoryStore) Object(name string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[name]
	return b, m.types[name], ok
}
