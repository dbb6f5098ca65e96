package pkg

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

// runStorageContract exercises behaviour every Storage backend must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, err := s.Get(ctx, "1")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "42", []byte("hello")))
		got, err := s.Get(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "7", []byte("first")))
		require.NoError(t, s.Set(ctx, "7", []byte("second")))
		got, err := s.Get(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("empty value", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "3", []byte{}))
		got, err := s.Get(ctx, "3")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete then get is not found", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "9", []byte("data")))
		require.NoError(t, s.Delete(ctx, "9"))
		_, err := s.Get(ctx, "9")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("delete missing key", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		assert.ErrorIs(t, s.Delete(ctx, "11"), ErrKeyNotFound)
	})

	t.Run("keys", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for _, k := range []string{"1", "20", "300"} {
			require.NoError(t, s.Set(ctx, k, []byte(k)))
		}
		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"1", "20", "300"}, keys)
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		value := []byte("abc")
		require.NoError(t, s.Set(ctx, "5", value))
		value[0] = 'z'

		got, err := s.Get(ctx, "5")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
		got[1] = 'z'

		again, err := s.Get(ctx, "5")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.Get(cctx, "1")
		assert.ErrorIs(t, err, ErrContextCanceled)
		assert.ErrorIs(t, s.Set(cctx, "1", nil), ErrContextCanceled)
		assert.ErrorIs(t, s.Delete(cctx, "1"), ErrContextCanceled)
		_, err = s.Keys(cctx)
		assert.ErrorIs(t, err, ErrContextCanceled)
	})

	t.Run("closed store", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, err := s.Get(ctx, "1")
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.ErrorIs(t, s.Set(ctx, "1", nil), ErrStorageUnavailable)
	})

	t.Run("concurrent access", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("%d", i%5)
				_ = s.Set(ctx, key, []byte(fmt.Sprintf("value-%d", i)))
				if v, err := s.Get(ctx, key); err == nil {
					assert.Contains(t, string(v), "value-")
				}
			}(i)
		}
		wg.Wait()

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 5)
	})
}

func TestMemoryStorage_Stats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))
	_, _ = s.Get(ctx, "a")
	_, _ = s.Get(ctx, "missing")
	require.NoError(t, s.Delete(ctx, "b"))

	stats := s.GetStats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, int64(1), stats.Deletes)
}

func TestMemoryStorage_GetAllAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, all)

	require.NoError(t, s.Clear())
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Clear(), ErrStorageUnavailable)
}
