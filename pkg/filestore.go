package pkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
)

// objectName matches the file names FileStorage owns. Anything else found in
// the directory (editor swap files, .DS_Store, zero-padded names) is ignored.
var objectName = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// FileStorage keeps one file per key under a single directory.
type FileStorage struct {
	dir    string
	mu     sync.RWMutex
	closed atomic.Bool

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage opens (creating if needed) a file store rooted at dir.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

// Dir returns the directory blobs live in.
func (s *FileStorage) Dir() string {
	return s.dir
}

func (s *FileStorage) path(key string) (string, error) {
	if !objectName.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *FileStorage) checkUsable(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrContextCanceled
	default:
	}
	if s.closed.Load() {
		return ErrStorageUnavailable
	}
	return nil
}

// Get reads the blob stored under key.
func (s *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkUsable(ctx); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(p)
	s.mu.RUnlock()

	if errors.Is(err, os.ErrNotExist) {
		s.misses.Add(1)
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	s.hits.Add(1)
	return data, nil
}

// Set writes value to a temporary file and renames it over the key's file.
func (s *FileStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.checkUsable(ctx); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", key, err)
	}

	s.mu.Lock()
	err = os.Rename(tmpName, p)
	s.mu.Unlock()
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	s.sets.Add(1)
	return nil
}

// Delete removes the key's file.
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	if err := s.checkUsable(ctx); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	err = os.Remove(p)
	s.mu.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	s.deletes.Add(1)
	return nil
}

// Keys lists the decimal object names in the directory.
func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkUsable(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !objectName.MatchString(e.Name()) {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

// GetStats returns current storage statistics.
func (s *FileStorage) GetStats() Stats {
	keys, _ := s.Keys(context.Background())
	return Stats{
		Entries: len(keys),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
	}
}

// Close marks the store closed. Files stay on disk.
func (s *FileStorage) Close() error {
	s.closed.Store(true)
	return nil
}
