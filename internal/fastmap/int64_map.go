// Package fastmap provides int64-keyed hash maps tuned for the hot paths
// of the engine: partition lookups, lock tables and page indexes.
//
// The open-addressing layout follows the intintmap design
// (Copyright (c) 2016, Brent Pedersen - Bioinformatics).
package fastmap

import (
	"math"
	"math/bits"
)

const fillFactor = 0.75

type entry[V any] struct {
	Key   int64
	Value V
}

// Int64Map is a linear-probing hash map with int64 keys. The zero key is
// handled out of band so slot emptiness can be tested against zero.
// It is not safe for concurrent use; see SegmentInt64Map for that.
// Has, Get, Len and ForEach are valid on a nil Int64Map.
type Int64Map[V any] struct {
	slots []entry[V]
	size  int

	zeroVal    V
	hasZeroKey bool
}

// NewInt64Map returns a map pre-sized to hold capacity entries without
// rehashing.
func NewInt64Map[V any](capacity int) *Int64Map[V] {
	return &Int64Map[V]{
		slots: make([]entry[V], tableSizeFor(capacity, fillFactor)),
	}
}

// mix64 spreads the bits of an int64 key; multiplicative hashing with a
// rotate-xor avalanche.
func mix64(x int64) uint64 {
	k := uint64(x)
	k = k * 0xd6e8feb86659fd93
	return bits.RotateLeft64(k, 32) ^ k
}

// Has reports whether key is present.
func (m *Int64Map[V]) Has(key int64) bool {
	if m == nil {
		return false
	}
	if key == 0 {
		return m.hasZeroKey
	}

	idx := m.slotIndex(key)
	for {
		e := m.slots[idx]
		if e.Key == 0 {
			return false
		}
		if e.Key == key {
			return true
		}
		idx = m.nextSlot(idx)
	}
}

// Get returns the value stored under key.
func (m *Int64Map[V]) Get(key int64) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	if key == 0 {
		if m.hasZeroKey {
			return m.zeroVal, true
		}
		return zero, false
	}

	idx := m.slotIndex(key)
	for {
		e := m.slots[idx]
		if e.Key == 0 {
			return zero, false
		}
		if e.Key == key {
			return e.Value, true
		}
		idx = m.nextSlot(idx)
	}
}

// Put adds or replaces the value stored under key.
func (m *Int64Map[V]) Put(key int64, val V) {
	if key == 0 {
		if !m.hasZeroKey {
			m.size++
		}
		m.zeroVal = val
		m.hasZeroKey = true
		return
	}

	idx := m.slotIndex(key)
	for {
		e := &m.slots[idx]
		if e.Key == 0 {
			e.Key = key
			e.Value = val
			if m.size >= m.growThreshold() {
				m.grow()
			} else {
				m.size++
			}
			return
		}
		if e.Key == key {
			e.Value = val
			return
		}
		idx = m.nextSlot(idx)
	}
}

// PutIfNotExists stores val only when key is absent. It returns the value
// now associated with key and whether an insert happened.
func (m *Int64Map[V]) PutIfNotExists(key int64, val V) (V, bool) {
	if key == 0 {
		if m.hasZeroKey {
			return m.zeroVal, false
		}
		m.zeroVal = val
		m.hasZeroKey = true
		m.size++
		return val, true
	}

	idx := m.slotIndex(key)
	for {
		e := &m.slots[idx]
		if e.Key == 0 {
			e.Key = key
			e.Value = val
			m.size++
			if m.size >= m.growThreshold() {
				m.grow()
			}
			return val, true
		}
		if e.Key == key {
			return e.Value, false
		}
		idx = m.nextSlot(idx)
	}
}

// Del removes key, returning true when it was present.
func (m *Int64Map[V]) Del(key int64) bool {
	if key == 0 {
		if m.hasZeroKey {
			m.hasZeroKey = false
			var zero V
			m.zeroVal = zero
			m.size--
			return true
		}
		return false
	}

	idx := m.slotIndex(key)
	for {
		e := m.slots[idx]
		if e.Key == key {
			m.closeGap(idx)
			m.size--
			return true
		}
		if e.Key == 0 {
			return false
		}
		idx = m.nextSlot(idx)
	}
}

// ForEach calls f for every entry until f returns false. Iteration order is
// unspecified.
func (m *Int64Map[V]) ForEach(f func(int64, V) bool) {
	if m == nil {
		return
	}
	if m.hasZeroKey && !f(0, m.zeroVal) {
		return
	}
	for _, e := range m.slots {
		if e.Key != 0 && !f(e.Key, e.Value) {
			return
		}
	}
}

// Len returns the number of entries.
func (m *Int64Map[V]) Len() int {
	if m == nil {
		return 0
	}
	return m.size
}

// Clear drops every entry but keeps the slot array for reuse.
func (m *Int64Map[V]) Clear() {
	var zero V
	m.hasZeroKey = false
	m.zeroVal = zero
	for i := range m.slots {
		m.slots[i] = entry[V]{}
	}
	m.size = 0
}

func (m *Int64Map[V]) grow() {
	old := m.slots
	m.slots = make([]entry[V], 2*len(old))
	if m.hasZeroKey {
		m.size = 1
	} else {
		m.size = 0
	}
	for _, e := range old {
		if e.Key != 0 {
			m.Put(e.Key, e.Value)
		}
	}
}

// closeGap re-packs the probe chain after a deletion at idx so no lookup
// terminates early on the freed slot.
func (m *Int64Map[V]) closeGap(idx int) {
	for {
		free := idx
		idx = m.nextSlot(idx)
		for {
			e := m.slots[idx]
			if e.Key == 0 {
				m.slots[free] = entry[V]{}
				return
			}
			home := m.slotIndex(e.Key)
			if free <= idx {
				if free >= home || home > idx {
					break
				}
			} else {
				if free >= home && home > idx {
					break
				}
			}
			idx = m.nextSlot(idx)
		}
		m.slots[free] = m.slots[idx]
	}
}

func (m *Int64Map[V]) growThreshold() int {
	return int(math.Floor(float64(len(m.slots)) * fillFactor))
}

func (m *Int64Map[V]) slotIndex(key int64) int {
	return int(mix64(key)) & (len(m.slots) - 1)
}

func (m *Int64Map[V]) nextSlot(idx int) int {
	return (idx + 1) & (len(m.slots) - 1)
}

func tableSizeFor(capacity int, fill float64) int {
	n := uint64(math.Ceil(float64(capacity) / fill))
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return int(n + 1)
}
