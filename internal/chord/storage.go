package chord

import (
	"context"
	"fmt"
	"math/big"

	"github.com/zde37/chordfs/pkg"
)

// ChordStorage provides a Chord-specific wrapper around a generic blob store.
// Keys are ring identifiers, stored as decimal strings.
type ChordStorage struct {
	storage pkg.Storage
}

// NewChordStorage creates a new ChordStorage instance wrapping the provided store.
func NewChordStorage(storage pkg.Storage) *ChordStorage {
	return &ChordStorage{
		storage: storage,
	}
}

// NewDefaultChordStorage creates a ChordStorage backed by a MemoryStorage.
func NewDefaultChordStorage() *ChordStorage {
	return NewChordStorage(pkg.NewMemoryStorage())
}

func storageKey(key *big.Int) (string, error) {
	if key == nil || key.Sign() < 0 {
		return "", fmt.Errorf("%w: key must be a non-negative identifier", ErrInvalidArgument)
	}
	return key.String(), nil
}

// Get returns the blob stored under key, or pkg.ErrKeyNotFound.
func (cs *ChordStorage) Get(ctx context.Context, key *big.Int) ([]byte, error) {
	k, err := storageKey(key)
	if err != nil {
		return nil, err
	}
	return cs.storage.Get(ctx, k)
}

// Put stores data under key, overwriting any existing value.
func (cs *ChordStorage) Put(ctx context.Context, key *big.Int, data []byte) error {
	k, err := storageKey(key)
	if err != nil {
		return err
	}
	return cs.storage.Set(ctx, k, data)
}

// Delete removes key, or returns pkg.ErrKeyNotFound.
func (cs *ChordStorage) Delete(ctx context.Context, key *big.Int) error {
	k, err := storageKey(key)
	if err != nil {
		return err
	}
	return cs.storage.Delete(ctx, k)
}

// Keys returns every stored identifier. Entries whose names are not decimal
// identifiers are skipped.
func (cs *ChordStorage) Keys(ctx context.Context) ([]*big.Int, error) {
	raw, err := cs.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]*big.Int, 0, len(raw))
	for _, k := range raw {
		id, ok := new(big.Int).SetString(k, 10)
		if !ok || id.Sign() < 0 {
			continue
		}
		keys = append(keys, id)
	}
	return keys, nil
}

// Count returns the number of stored identifiers.
func (cs *ChordStorage) Count(ctx context.Context) (int, error) {
	keys, err := cs.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close closes the underlying store.
func (cs *ChordStorage) Close() error {
	return cs.storage.Close()
}
