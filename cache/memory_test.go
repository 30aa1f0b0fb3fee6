package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	_, ok := m.Get("k")
	assert.False(t, ok)

	payload := []byte("payload")
	require.NoError(t, m.Put("k", payload))

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, 1, m.Len())

	// Repeated hits hand out the same value.
	again, _ := m.Get("k")
	assert.Same(t, &payload[0], &again.([]byte)[0])
}

func TestMemoryLastWriteWins(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithShards(1))
	require.NoError(t, m.Put("k", "a"))
	require.NoError(t, m.Put("k", "b"))

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "b", got)
}

func TestMemoryDeleteClear(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithShards(0))
	for i := range 10 {
		require.NoError(t, m.Put(fmt.Sprintf("k%d", i), i))
	}
	require.NoError(t, m.Delete("k3"))
	require.NoError(t, m.Delete("missing"))
	_, ok := m.Get("k3")
	assert.False(t, ok)
	assert.Equal(t, 9, m.Len())

	require.NoError(t, m.Clear())
	assert.Zero(t, m.Len())
}

func TestMemoryConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("g%d-%d", g, i)
				assert.NoError(t, m.Put(key, i))
				v, ok := m.Get(key)
				assert.True(t, ok)
				assert.Equal(t, i, v)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1600, m.Len())
}

func TestNop(t *testing.T) {
	t.Parallel()

	var s Store = Nop{}
	require.NoError(t, s.Put("k", 1))
	_, ok := s.Get("k")
	assert.False(t, ok)
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Clear())
}
