package table

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(k uint32) uint32 { return k }

func TestMapUpdateFlags(t *testing.T) {
	m := New[uint32, string](8, ident)

	require.NoError(t, m.Update(1, "a", UpdateNoExist))
	assert.ErrorIs(t, m.Update(1, "b", UpdateNoExist), ErrKeyExist)

	v, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	assert.ErrorIs(t, m.Update(2, "c", UpdateExist), ErrKeyNotExist)
	require.NoError(t, m.Update(1, "d", UpdateExist))

	require.NoError(t, m.Update(1, "e", UpdateAny))
	v, ok = m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "e", v)
}

func TestMapCapacity(t *testing.T) {
	m := New[uint32, int](3, ident)
	for i := uint32(0); i < 3; i++ {
		require.NoError(t, m.Update(i, int(i), UpdateAny))
	}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 3, m.Cap())

	// A fourth key does not fit.
	assert.ErrorIs(t, m.Update(9, 9, UpdateAny), ErrTableFull)
	assert.Equal(t, 3, m.Len())

	// Overwriting an existing key is not an insert.
	require.NoError(t, m.Update(2, 20, UpdateAny))
	v, ok := m.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, 20, v)

	// Deleting frees a slot for a new key.
	require.True(t, m.Delete(0))
	require.NoError(t, m.Update(9, 9, UpdateAny))
	assert.Equal(t, 3, m.Len())
}

func TestMapDeleteAbsent(t *testing.T) {
	m := New[uint32, int](4, ident)
	assert.False(t, m.Delete(42))
	require.NoError(t, m.Update(42, 1, UpdateAny))
	assert.True(t, m.Delete(42))
	assert.False(t, m.Delete(42))
	assert.Equal(t, 0, m.Len())
}

func TestMapRange(t *testing.T) {
	m := New[uint32, int](16, ident)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, m.Update(i, int(i*2), UpdateAny))
	}

	seen := make(map[uint32]int)
	m.Range(func(k uint32, v int) bool {
		seen[k] = v
		return true
	})
	assert.Len(t, seen, 10)
	for k, v := range seen {
		assert.Equal(t, int(k*2), v)
	}

	// Early stop.
	visited := 0
	m.Range(func(uint32, int) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

func TestMapRangeDelete(t *testing.T) {
	m := New[uint32, int](16, ident)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, m.Update(i, 1, UpdateAny))
	}

	// Clearing the table from inside Range must not deadlock.
	m.Range(func(k uint32, _ int) bool {
		m.Delete(k)
		return true
	})
	assert.Equal(t, 0, m.Len())
}

func TestMapConcurrentInserts(t *testing.T) {
	const capacity = 128
	m := New[uint32, int](capacity, ident)

	var wg sync.WaitGroup
	var full atomic.Int64
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base uint32) {
			defer wg.Done()
			for i := uint32(0); i < 32; i++ {
				if err := m.Update(base*32+i, 1, UpdateAny); err != nil {
					full.Add(1)
				}
			}
		}(uint32(g))
	}
	wg.Wait()

	// 256 distinct keys raced for 128 slots; the table holds exactly
	// its capacity and every loser saw ErrTableFull.
	assert.Equal(t, capacity, m.Len())
	assert.Equal(t, int64(128), full.Load())
}

func TestMapSharedCounterValue(t *testing.T) {
	m := New[uint32, *atomic.Uint64](8, ident)
	require.NoError(t, m.Update(7, new(atomic.Uint64), UpdateAny))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c, ok := m.Lookup(7)
				if ok {
					c.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	c, ok := m.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, uint64(4000), c.Load())
}

func TestArrayBounds(t *testing.T) {
	a := NewArray(4)
	assert.Equal(t, 4, a.Len())

	assert.True(t, a.Inc(0))
	assert.True(t, a.Add(3, 5))
	assert.False(t, a.Inc(4))
	assert.False(t, a.Inc(-1))
	assert.False(t, a.Add(10, 2))

	assert.Equal(t, uint64(1), a.Load(0))
	assert.Equal(t, uint64(5), a.Load(3))
	assert.Equal(t, uint64(0), a.Load(99))

	assert.Equal(t, []uint64{1, 0, 0, 5}, a.Snapshot())
}

func TestArrayConcurrent(t *testing.T) {
	a := NewArray(2)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				a.Inc(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(4000), a.Load(1))
	assert.Equal(t, uint64(0), a.Load(0))
}
