package pkg

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStorage implements the Storage interface using an in-memory map.
// All operations are safe for concurrent use.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed atomic.Bool

	// Metrics for monitoring
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

// checkUsable reports a canceled context or a closed store.
func (ms *MemoryStorage) checkUsable(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrContextCanceled
	default:
	}
	if ms.closed.Load() {
		return ErrStorageUnavailable
	}
	return nil
}

// Get retrieves the value associated with the given key.
// Returns ErrKeyNotFound if the key doesn't exist.
func (ms *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ms.checkUsable(ctx); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	value, exists := ms.data[key]
	ms.mu.RUnlock()

	if !exists {
		ms.misses.Add(1)
		return nil, ErrKeyNotFound
	}
	ms.hits.Add(1)

	// Return a copy of the value to prevent external modification
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value with the given key, overwriting any existing value.
func (ms *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := ms.checkUsable(ctx); err != nil {
		return err
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	ms.mu.Lock()
	ms.data[key] = valueCopy
	ms.mu.Unlock()

	ms.sets.Add(1)
	return nil
}

// Delete removes the key and its associated value from storage.
func (ms *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ms.checkUsable(ctx); err != nil {
		return err
	}

	ms.mu.Lock()
	_, exists := ms.data[key]
	delete(ms.data, key)
	ms.mu.Unlock()

	if !exists {
		return ErrKeyNotFound
	}
	ms.deletes.Add(1)
	return nil
}

// Keys returns all keys currently stored.
func (ms *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ms.checkUsable(ctx); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	keys := make([]string, 0, len(ms.data))
	for k := range ms.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// GetAll returns a copy of every key-value pair in storage.
func (ms *MemoryStorage) GetAll(ctx context.Context) (map[string][]byte, error) {
	if err := ms.checkUsable(ctx); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make(map[string][]byte, len(ms.data))
	for key, value := range ms.data {
		v := make([]byte, len(value))
		copy(v, value)
		result[key] = v
	}
	return result, nil
}

// Clear removes all entries from storage but keeps it operational.
func (ms *MemoryStorage) Clear() error {
	if ms.closed.Load() {
		return ErrStorageUnavailable
	}

	ms.mu.Lock()
	ms.data = make(map[string][]byte)
	ms.mu.Unlock()
	return nil
}

// GetStats returns current storage statistics.
func (ms *MemoryStorage) GetStats() Stats {
	ms.mu.RLock()
	entries := len(ms.data)
	ms.mu.RUnlock()

	return Stats{
		Entries: entries,
		Hits:    ms.hits.Load(),
		Misses:  ms.misses.Load(),
		Sets:    ms.sets.Load(),
		Deletes: ms.deletes.Load(),
	}
}

// Close gracefully shuts down the storage and releases resources.
func (ms *MemoryStorage) Close() error {
	if !ms.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	ms.mu.Lock()
	ms.data = nil
	ms.mu.Unlock()
	return nil
}
