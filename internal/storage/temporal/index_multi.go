package temporal

import (
	"sync"
	"sync/atomic"

	"github.com/tempusdb/tempus/internal/btree"
	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/internal/storage"
)

// multiColumnKey orders composite keys column by column, NULLs first
// within each column. A shorter key sorts before any extension of it,
// which is what makes prefix seeks a contiguous tree range.
type multiColumnKey struct {
	values []storage.ColumnValue
}

func (k multiColumnKey) Compare(other multiColumnKey) int {
	n := len(k.values)
	if len(other.values) < n {
		n = len(other.values)
	}
	for i := 0; i < n; i++ {
		if c := compareKeyValues(k.values[i], other.values[i]); c != 0 {
			return c
		}
	}
	return len(k.values) - len(other.values)
}

// hasPrefix reports whether k starts with the given key columns.
func (k multiColumnKey) hasPrefix(prefix multiColumnKey) bool {
	if len(prefix.values) > len(k.values) {
		return false
	}
	for i, v := range prefix.values {
		if compareKeyValues(k.values[i], v) != 0 {
			return false
		}
	}
	return true
}

// compositeIndex is the multi-column full index: a B-tree from the
// column tuple to the sorted ids of current rows holding it. NULLs are
// indexed like any other value, sorting first.
type compositeIndex struct {
	spec      storage.IndexSpec
	columnIDs []int

	mu      sync.RWMutex
	tree    *btree.BTree[multiColumnKey, []int64]
	entries atomic.Int64
}

func newCompositeIndex(spec storage.IndexSpec, columnIDs []int) *compositeIndex {
	return &compositeIndex{
		spec:      spec,
		columnIDs: columnIDs,
		tree:      btree.NewBTree[multiColumnKey, []int64](),
	}
}

func (idx *compositeIndex) Name() string            { return idx.spec.Name }
func (idx *compositeIndex) Spec() storage.IndexSpec { return idx.spec }

func (idx *compositeIndex) Meta() storage.IndexMeta {
	return storage.IndexMeta{
		Name:    idx.spec.Name,
		Columns: idx.spec.Columns,
		Entries: idx.entries.Load(),
	}
}

func (idx *compositeIndex) keyFor(row storage.Row) multiColumnKey {
	values := make([]storage.ColumnValue, len(idx.columnIDs))
	for i, pos := range idx.columnIDs {
		values[i] = columnAt(row, pos)
	}
	return multiColumnKey{values: values}
}

func (idx *compositeIndex) Insert(v *rowVersion) error {
	key := idx.keyFor(v.data)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids, _ := idx.tree.Search(key)
	idx.tree.Insert(key, insertSortedID(ids, v.rowID))
	idx.entries.Add(1)
	return nil
}

func (idx *compositeIndex) Remove(v *rowVersion) {
	key := idx.keyFor(v.data)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids, found := idx.tree.Search(key)
	if !found {
		return
	}
	trimmed := removeSortedID(ids, v.rowID)
	if len(trimmed) == len(ids) {
		return
	}
	idx.entries.Add(-1)
	if len(trimmed) == 0 {
		idx.tree.Delete(key)
	} else {
		idx.tree.Insert(key, trimmed)
	}
}

func (idx *compositeIndex) Seek(key storage.Row) []int64 {
	if len(key) == 0 || len(key) > len(idx.columnIDs) {
		return nil
	}
	probe := multiColumnKey{values: key}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(key) == len(idx.columnIDs) {
		ids, found := idx.tree.Search(probe)
		if !found {
			return nil
		}
		return dedupeIDs(copyIDs(ids))
	}

	// Prefix seek: walk the contiguous range of keys extending probe.
	out := common.GetIDSlice(16)
	for it := idx.tree.SeekGE(probe); it.Valid(); it.Next() {
		k, ids := it.Get()
		if !k.hasPrefix(probe) {
			break
		}
		out = append(out, ids...)
	}
	sortInt64s(out)
	result := dedupeIDs(copyIDs(out))
	common.PutIDSlice(out)
	return result
}

func (idx *compositeIndex) Range(lo, hi storage.ColumnValue) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var it *btree.Iterator[multiColumnKey, []int64]
	if lo != nil {
		it = idx.tree.SeekGE(multiColumnKey{values: []storage.ColumnValue{lo}})
	} else {
		it = idx.tree.Iterate()
	}
	out := common.GetIDSlice(16)
	for ; it.Valid(); it.Next() {
		k, ids := it.Get()
		if hi != nil && len(k.values) > 0 && compareKeyValues(k.values[0], hi) > 0 {
			break
		}
		out = append(out, ids...)
	}
	sortInt64s(out)
	result := dedupeIDs(copyIDs(out))
	common.PutIDSlice(out)
	return result
}
