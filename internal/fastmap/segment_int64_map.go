package fastmap

import (
	"sync"
	"sync/atomic"
)

// SegmentInt64Map is a thread-safe map for int64 keys that shards entries
// across independently locked Int64Map segments to keep write contention
// local to a key's shard.
type SegmentInt64Map[V any] struct {
	segments []*mapSegment[V]
	mask     uint64
	count    atomic.Int64
}

type mapSegment[V any] struct {
	mu   sync.RWMutex
	data *Int64Map[V]
}

// NewSegmentInt64Map creates a sharded map with 2^segmentPower segments
// (clamped to [16, 256]) and roughly initialCapacity total capacity.
func NewSegmentInt64Map[V any](segmentPower uint8, initialCapacity int) *SegmentInt64Map[V] {
	if segmentPower < 4 {
		segmentPower = 4
	} else if segmentPower > 8 {
		segmentPower = 8
	}

	n := 1 << segmentPower
	perSegment := initialCapacity / n
	if perSegment < 8 {
		perSegment = 8
	}

	segments := make([]*mapSegment[V], n)
	for i := range segments {
		segments[i] = &mapSegment[V]{data: NewInt64Map[V](perSegment)}
	}
	return &SegmentInt64Map[V]{
		segments: segments,
		mask:     uint64(n - 1),
	}
}

// segmentFor routes a key to its shard using the high hash bits so
// sequential row ids spread across segments.
func (m *SegmentInt64Map[V]) segmentFor(key int64) *mapSegment[V] {
	return m.segments[(mix64(key)>>16)&m.mask]
}

// Has reports whether key is present.
func (m *SegmentInt64Map[V]) Has(key int64) bool {
	s := m.segmentFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Has(key)
}

// Get retrieves the value stored under key.
func (m *SegmentInt64Map[V]) Get(key int64) (V, bool) {
	s := m.segmentFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Get(key)
}

// Set adds or replaces the value stored under key.
func (m *SegmentInt64Map[V]) Set(key int64, value V) {
	s := m.segmentFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	exists := s.data.Has(key)
	s.data.Put(key, value)
	if !exists {
		m.count.Add(1)
	}
}

// PutIfNotExists stores value only when key is absent. It returns the value
// now associated with key and whether an insert happened.
func (m *SegmentInt64Map[V]) PutIfNotExists(key int64, value V) (V, bool) {
	s := m.segmentFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	result, inserted := s.data.PutIfNotExists(key, value)
	if inserted {
		m.count.Add(1)
	}
	return result, inserted
}

// Del removes key, returning true when it was present.
func (m *SegmentInt64Map[V]) Del(key int64) bool {
	s := m.segmentFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := s.data.Del(key)
	if deleted {
		m.count.Add(-1)
	}
	return deleted
}

// Len returns the number of entries across all segments.
func (m *SegmentInt64Map[V]) Len() int64 {
	return m.count.Load()
}

// ForEach calls f for every entry until f returns false. Segments are
// visited one at a time under their read lock; entries written concurrently
// may or may not be observed.
func (m *SegmentInt64Map[V]) ForEach(f func(int64, V) bool) {
	for _, s := range m.segments {
		s.mu.RLock()
		keepGoing := true
		s.data.ForEach(func(key int64, value V) bool {
			keepGoing = f(key, value)
			return keepGoing
		})
		s.mu.RUnlock()
		if !keepGoing {
			return
		}
	}
}

// Keys returns a snapshot of all keys.
func (m *SegmentInt64Map[V]) Keys() []int64 {
	keys := make([]int64, 0, m.count.Load())
	m.ForEach(func(key int64, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Clear removes all entries.
func (m *SegmentInt64Map[V]) Clear() {
	for _, s := range m.segments {
		s.mu.Lock()
		s.data.Clear()
		s.mu.Unlock()
	}
	m.count.Store(0)
}
