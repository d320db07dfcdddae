package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"lockss-go/internal/lockss"
)

// MemoryStore is an in-memory implementation of the BlobStore interface.
// It is useful for testing and is safe for concurrent use.
type MemoryStore struct {
	name     string
	capacity int64 // 0 means unbounded
	blobs    map[string][]byte
	used     int64
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store with the given name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:  name,
		blobs: make(map[string][]byte),
	}
}

// SetCapacity bounds the store so DiskUsage reports a percentage.
// Writes are not refused when the capacity is exceeded.
func (m *MemoryStore) SetCapacity(capacity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *MemoryStore) Name() string { return m.name }

// Put stores the blob under id.
func (m *MemoryStore) Put(id string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.used += int64(len(data)) - int64(len(m.blobs[id]))
	m.blobs[id] = data
	return nil
}

// Open returns a reader over a copy-free view of the blob.
func (m *MemoryStore) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, lockss.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= int64(len(m.blobs[id]))
	delete(m.blobs, id)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *MemoryStore) DiskUsage() (lockss.DiskUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.capacity <= 0 {
		return lockss.DiskUsage{Used: m.used, Avail: -1}, nil
	}
	avail := m.capacity - m.used
	if avail < 0 {
		avail = 0
	}
	return lockss.DiskUsage{
		Used:        m.used,
		Avail:       avail,
		PercentUsed: float64(m.used) / float64(m.capacity) * 100.0,
	}, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup() error {
	return nil
}

var _ lockss.BlobStore = (*MemoryStore)(nil)
