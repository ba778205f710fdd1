/* Copyright 2025 Tempus Contributors

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License. */

package fastmap

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestInt64MapBasicOperations(t *testing.T) {
	m := NewInt64Map[string](4)

	m.Put(1, "one")
	m.Put(2, "two")
	m.Put(0, "zero") // zero key is special-cased

	if val, ok := m.Get(1); !ok || val != "one" {
		t.Errorf("Get(1) = %q, %v; want \"one\", true", val, ok)
	}
	if val, ok := m.Get(0); !ok || val != "zero" {
		t.Errorf("Get(0) = %q, %v; want \"zero\", true", val, ok)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}

	m.Put(1, "ONE")
	if val, _ := m.Get(1); val != "ONE" {
		t.Errorf("Get(1) after update = %q, want \"ONE\"", val)
	}

	if val, inserted := m.PutIfNotExists(2, "TWO"); inserted || val != "two" {
		t.Errorf("PutIfNotExists(2) = %q, %v; want \"two\", false", val, inserted)
	}
	if _, inserted := m.PutIfNotExists(5, "five"); !inserted {
		t.Errorf("PutIfNotExists(5) did not insert")
	}

	if !m.Del(1) {
		t.Errorf("Del(1) = false, want true")
	}
	if m.Has(1) {
		t.Errorf("Has(1) = true after delete")
	}
	if m.Del(99) {
		t.Errorf("Del(99) = true for absent key")
	}
	if !m.Del(0) {
		t.Errorf("Del(0) = false, want true")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

// Deleting from the middle of a probe chain must not break lookups for keys
// that were displaced past the freed slot.
func TestInt64MapDeleteProbeChain(t *testing.T) {
	m := NewInt64Map[int](8)

	// Enough keys to force collisions in a small table.
	const n = 200
	for i := int64(1); i <= n; i++ {
		m.Put(i, int(i)*10)
	}
	for i := int64(1); i <= n; i += 3 {
		if !m.Del(i) {
			t.Fatalf("Del(%d) = false, want true", i)
		}
	}
	for i := int64(1); i <= n; i++ {
		val, ok := m.Get(i)
		if i%3 == 1 {
			if ok {
				t.Errorf("Get(%d) found deleted key", i)
			}
			continue
		}
		if !ok || val != int(i)*10 {
			t.Errorf("Get(%d) = %d, %v; want %d, true", i, val, ok, i*10)
		}
	}
}

func TestInt64MapGrowth(t *testing.T) {
	m := NewInt64Map[int64](2)
	const n = 10000
	for i := int64(1); i <= n; i++ {
		m.Put(i, i)
	}
	if m.Len() != n {
		t.Fatalf("Len() = %d, want %d", m.Len(), n)
	}
	for i := int64(1); i <= n; i++ {
		if val, ok := m.Get(i); !ok || val != i {
			t.Fatalf("Get(%d) = %d, %v after growth", i, val, ok)
		}
	}
}

func TestSegmentInt64MapBasicOperations(t *testing.T) {
	m := NewSegmentInt64Map[string](4, 100)

	m.Set(1, "one")
	m.Set(2, "two")
	m.Set(3, "three")

	if val, ok := m.Get(2); !ok || val != "two" {
		t.Errorf("Get(2) = %q, %v; want \"two\", true", val, ok)
	}
	if m.Has(4) {
		t.Errorf("Has(4) = true for absent key")
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}

	if _, inserted := m.PutIfNotExists(3, "THREE"); inserted {
		t.Errorf("PutIfNotExists(3) inserted over existing key")
	}
	if _, inserted := m.PutIfNotExists(4, "four"); !inserted {
		t.Errorf("PutIfNotExists(4) did not insert")
	}

	if !m.Del(1) {
		t.Errorf("Del(1) = false, want true")
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d after delete, want 3", m.Len())
	}

	seen := make(map[int64]string)
	m.ForEach(func(key int64, value string) bool {
		seen[key] = value
		return true
	})
	if len(seen) != 3 || seen[2] != "two" || seen[4] != "four" {
		t.Errorf("ForEach saw %v", seen)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", m.Len())
	}
}

func TestSegmentInt64MapConcurrency(t *testing.T) {
	m := NewSegmentInt64Map[int](6, 10000)
	const numOps = 100000
	const numGoroutines = 16

	var wg sync.WaitGroup
	var setCount, getCount, delCount atomic.Int64
	opsPerGoroutine := numOps / numGoroutines

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			keyOffset := id * (opsPerGoroutine / 2)
			for i := 0; i < opsPerGoroutine; i++ {
				key := int64(keyOffset + (i % (opsPerGoroutine / 2)))
				switch {
				case i%10 < 5:
					m.Set(key, id*1000+i)
					setCount.Add(1)
				case i%10 < 9:
					if _, ok := m.Get(key); ok {
						getCount.Add(1)
					}
				default:
					if m.Del(key) {
						delCount.Add(1)
					}
				}
			}
		}(g)
	}
	wg.Wait()

	if m.Len() == 0 {
		t.Errorf("expected non-empty map after concurrent operations")
	}
	if setCount.Load() == 0 || getCount.Load() == 0 || delCount.Load() == 0 {
		t.Errorf("expected all operation kinds to run: set=%d get=%d del=%d",
			setCount.Load(), getCount.Load(), delCount.Load())
	}
}

func TestSegmentInt64MapConcurrentIteration(t *testing.T) {
	m := NewSegmentInt64Map[int](4, 1000)
	for i := 0; i < 1000; i++ {
		m.Set(int64(i), i)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				switch j % 3 {
				case 0:
					m.Set(int64(j), j*10)
				case 1:
					_, _ = m.Get(int64(j))
				case 2:
					if j%10 == 0 {
						m.Del(int64(j))
					}
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := 0; iter < 5; iter++ {
				count := 0
				m.ForEach(func(int64, int) bool {
					count++
					return true
				})
				if count == 0 {
					t.Errorf("iteration found no entries")
				}
			}
		}()
	}
	wg.Wait()
}
