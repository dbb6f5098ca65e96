package pkg

import "context"

// Storage is a keyed blob store. Keys are opaque strings; the ring layer uses
// decimal identifiers.
type Storage interface {
	// Get returns a copy of the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value. A concurrent Get
	// sees either the old or the new value, never a partial one.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key, or returns ErrKeyNotFound if it is absent.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the store. Further calls return ErrStorageUnavailable.
	Close() error
}

// Stats reports store activity.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}
