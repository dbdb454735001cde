package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	s := New()

	_, ok := s.Get("missing")
	require.False(t, ok)

	s.Put("a", "1")
	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	s.Put("a", "2")
	v, ok = s.Get("a")
	require.True(t, ok)
	require.Equal(t, "2", v, "Put must overwrite the previous value")
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Put("a", "1")

	snap := s.Snapshot()
	require.Equal(t, map[string]string{"a": "1"}, snap)

	snap["a"] = "mutated"
	v, _ := s.Get("a")
	require.Equal(t, "1", v, "mutating a snapshot must not affect the store")
}

func TestStoreSize(t *testing.T) {
	s := New()
	require.Equal(t, 0, s.Size())

	s.Put("a", "1")
	s.Put("b", "2")
	require.Equal(t, 2, s.Size())

	s.Put("a", "overwritten")
	require.Equal(t, 2, s.Size(), "overwriting an existing key must not change size")
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put("k", "v")
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Snapshot()
			s.Size()
		}()
	}
	wg.Wait()

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
