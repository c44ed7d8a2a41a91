package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// MemoryStore keeps objects in memory. Failure hooks let tests simulate an
// unavailable backend.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// FailPut, when set, is consulted before every Put.
	FailPut func(key string) error
	// FailPresign, when set, is consulted before every Presign.
	FailPresign func(key string) error
	// Now stamps presigned URLs; defaults to time.Now.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return unavailable("put", key, err)
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return unavailable("put", key, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, missing(key, nil)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	if m.FailPresign != nil {
		if err := m.FailPresign(key); err != nil {
			return "", unavailable("presign", key, err)
		}
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	m.mu.Lock()
	_, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return "", apperr.New(apperr.CodeNotFound, "object "+key)
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, now().Add(ttl).Unix()), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

// Keys lists stored keys with the given prefix, sorted.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Object returns a stored object and its content type.
func (m *MemoryStore) Object(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, m.types[key], ok
}
