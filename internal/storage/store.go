package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrBlockNotFound is returned by Get for a block the store does not hold.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNoSpace is returned by Put when the block would exceed capacity.
	ErrNoSpace = errors.New("insufficient capacity")
)

// Store holds block data on a storage node, keyed by block id.
//
// Implementations must be safe for concurrent use: the node serves block
// reads and writes from HTTP handlers while the heartbeat loop lists and
// deletes blocks.
type Store interface {
	// Get returns a copy of the block's data, or ErrBlockNotFound.
	Get(blockID string) ([]byte, error)

	// Put stores data under blockID, replacing any previous contents.
	// Returns ErrNoSpace if the store's capacity would be exceeded.
	Put(blockID string, data []byte) error

	// Delete removes a block. Deleting an absent block is not an error.
	Delete(blockID string) error

	// List returns every stored block id, sorted. This is the node's
	// heartbeat manifest.
	List() []string

	// Stats reports block count and byte usage.
	Stats() StoreStats
}

// StoreStats describes a store's usage.
type StoreStats struct {
	Blocks    int   `json:"blocks"`
	Bytes     int64 `json:"bytes"`
	Capacity  int64 `json:"capacity"`
	Available int64 `json:"available"`
}

// MemoryStore is an in-memory Store with a fixed byte capacity.
//
// Data is copied on the way in and out, so callers may reuse their buffers.
// Contents are lost on restart; the coordinator re-replicates them once the
// node heartbeats with an empty manifest.
type MemoryStore struct {
	data     map[string][]byte
	used     int64
	capacity int64
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty store that accepts up to capacity bytes.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		capacity: capacity,
	}
}

func (m *MemoryStore) Get(blockID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[blockID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (m *MemoryStore) Put(blockID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used - int64(len(m.data[blockID])) + int64(len(data))
	if used > m.capacity {
		return fmt.Errorf("%w: %d bytes requested, %d available", ErrNoSpace, len(data), m.capacity-m.used)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[blockID] = stored
	m.used = used
	return nil
}

func (m *MemoryStore) Delete(blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= int64(len(m.data[blockID]))
	delete(m.data, blockID)
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{
		Blocks:    len(m.data),
		Bytes:     m.used,
		Capacity:  m.capacity,
		Available: m.capacity - m.used,
	}
}
