// Package table provides fixed-capacity concurrent maps modeled on
// kernel hash tables. A table never grows past the capacity given at
// construction; inserts into a full table fail with ErrTableFull.
package table

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrTableFull is returned when an insert would exceed the table's
	// fixed capacity.
	ErrTableFull = errors.New("table: full")

	// ErrKeyExist is returned by Update with UpdateNoExist when the key
	// is already present.
	ErrKeyExist = errors.New("table: key exists")

	// ErrKeyNotExist is returned by Update with UpdateExist when the key
	// is absent.
	ErrKeyNotExist = errors.New("table: key does not exist")
)

// UpdateFlag selects how Update treats an existing entry.
type UpdateFlag uint8

const (
	// UpdateAny creates the entry or overwrites an existing one.
	UpdateAny UpdateFlag = iota
	// UpdateNoExist creates the entry only if the key is absent.
	UpdateNoExist
	// UpdateExist replaces the entry only if the key is present.
	UpdateExist
)

const shardCount = 64

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
}

// Map is a fixed-capacity concurrent hash table. Operations on a single
// key are atomic with respect to each other.
type Map[K comparable, V any] struct {
	capacity int
	size     atomic.Int64
	hash     func(K) uint32
	shards   [shardCount]shard[K, V]
}

// New builds a Map bounded to capacity entries. hash spreads keys across
// internal shards; it does not need to be cryptographic.
func New[K comparable, V any](capacity int, hash func(K) uint32) *Map[K, V] {
	m := &Map[K, V]{capacity: capacity, hash: hash}
	for i := range m.shards {
		m.shards[i].entries = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[m.hash(key)%shardCount]
}

// Lookup returns the value stored under key.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	v, ok := s.entries[key]
	s.mu.Unlock()
	return v, ok
}

// Update inserts or replaces the value under key according to flag.
// An insert that would grow the table past its capacity fails with
// ErrTableFull; the table is never left over capacity.
func (m *Map[K, V]) Update(key K, value V, flag UpdateFlag) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.entries[key]
	switch flag {
	case UpdateNoExist:
		if exists {
			return ErrKeyExist
		}
	case UpdateExist:
		if !exists {
			return ErrKeyNotExist
		}
	}
	if !exists {
		if m.size.Add(1) > int64(m.capacity) {
			m.size.Add(-1)
			return ErrTableFull
		}
	}
	s.entries[key] = value
	return nil
}

// Delete removes key and reports whether it was present. Deleting an
// absent key is a no-op.
func (m *Map[K, V]) Delete(key K) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	m.size.Add(-1)
	return true
}

// Len returns the number of entries currently stored.
func (m *Map[K, V]) Len() int {
	return int(m.size.Load())
}

// Cap returns the fixed capacity the table was built with.
func (m *Map[K, V]) Cap() int {
	return m.capacity
}

// Range calls fn for each entry until fn returns false. Each shard is
// snapshotted before its entries are visited, so fn may update or
// delete entries of the same table.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		keys := make([]K, 0, len(s.entries))
		vals := make([]V, 0, len(s.entries))
		for k, v := range s.entries {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		s.mu.Unlock()
		for j := range keys {
			if !fn(keys[j], vals[j]) {
				return
			}
		}
	}
}
