package temporal

import (
	"sync"
	"sync/atomic"

	"github.com/tempusdb/tempus/internal/btree"
	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/internal/storage"
)

// uniqueClaim records which row currently holds a key and which
// version of that row established the claim. The validFrom stamp lets
// Remove distinguish a stale claim (already superseded by the row's
// newer version under the same key) from a live one. While an update
// that keeps the key is in flight, prevFrom remembers the superseded
// version's stamp so an unwound commit reinstates the old claim
// instead of releasing a key its row still holds.
type uniqueClaim struct {
	holder    int64
	validFrom int64
	prevFrom  int64
	refreshed bool
}

// uniqueIndex enforces at most one current row per key tuple. Rows
// with a NULL in any key column are exempt from the constraint and
// are not indexed, matching SQL UNIQUE semantics.
type uniqueIndex struct {
	spec      storage.IndexSpec
	columnIDs []int

	mu      sync.RWMutex
	tree    *btree.BTree[multiColumnKey, uniqueClaim]
	entries atomic.Int64
}

func newUniqueIndex(spec storage.IndexSpec, columnIDs []int) *uniqueIndex {
	return &uniqueIndex{
		spec:      spec,
		columnIDs: columnIDs,
		tree:      btree.NewBTree[multiColumnKey, uniqueClaim](),
	}
}

func (idx *uniqueIndex) Name() string            { return idx.spec.Name }
func (idx *uniqueIndex) Spec() storage.IndexSpec { return idx.spec }

func (idx *uniqueIndex) Meta() storage.IndexMeta {
	return storage.IndexMeta{
		Name:    idx.spec.Name,
		Columns: idx.spec.Columns,
		Unique:  true,
		Entries: idx.entries.Load(),
	}
}

// keyFor builds the key tuple, reporting ok=false when any column is
// NULL and the row therefore escapes the constraint.
func (idx *uniqueIndex) keyFor(row storage.Row) (multiColumnKey, bool) {
	values := make([]storage.ColumnValue, len(idx.columnIDs))
	for i, pos := range idx.columnIDs {
		v := columnAt(row, pos)
		if v == nil || v.IsNull() {
			return multiColumnKey{}, false
		}
		values[i] = v
	}
	return multiColumnKey{values: values}, true
}

// Insert claims the key for the version's row. A key held by another
// row fails with ErrDuplicateKey; a key already held by the same row
// has its claim refreshed to the new version, so the pending removal
// of the superseded version will leave the refreshed claim in place.
func (idx *uniqueIndex) Insert(v *rowVersion) error {
	key, ok := idx.keyFor(v.data)
	if !ok {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if claim, found := idx.tree.Search(key); found {
		if claim.holder != v.rowID {
			return storage.NewDuplicateKeyError(idx.spec.Name, idx.spec.Columns[0], key.values[0])
		}
		idx.tree.Insert(key, uniqueClaim{
			holder:    v.rowID,
			validFrom: v.validFrom,
			prevFrom:  claim.validFrom,
			refreshed: true,
		})
		return nil
	}
	idx.tree.Insert(key, uniqueClaim{holder: v.rowID, validFrom: v.validFrom})
	idx.entries.Add(1)
	return nil
}

// Remove releases the key only when this exact version still holds the
// claim. Two in-flight-refresh cases never release the key: removing
// the refreshing version (an unwound commit) reinstates the superseded
// claim, and removing the superseded version (a completed commit)
// makes the refresh permanent.
func (idx *uniqueIndex) Remove(v *rowVersion) {
	key, ok := idx.keyFor(v.data)
	if !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	claim, found := idx.tree.Search(key)
	if !found || claim.holder != v.rowID {
		return
	}
	if claim.validFrom == v.validFrom {
		if claim.refreshed {
			idx.tree.Insert(key, uniqueClaim{holder: v.rowID, validFrom: claim.prevFrom})
			return
		}
		idx.tree.Delete(key)
		idx.entries.Add(-1)
		return
	}
	if claim.refreshed && claim.prevFrom == v.validFrom {
		idx.tree.Insert(key, uniqueClaim{holder: v.rowID, validFrom: claim.validFrom})
	}
}

func (idx *uniqueIndex) Seek(key storage.Row) []int64 {
	if len(key) == 0 || len(key) > len(idx.columnIDs) {
		return nil
	}
	probe := multiColumnKey{values: key}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(key) == len(idx.columnIDs) {
		claim, found := idx.tree.Search(probe)
		if !found {
			return nil
		}
		return []int64{claim.holder}
	}

	out := common.GetIDSlice(8)
	for it := idx.tree.SeekGE(probe); it.Valid(); it.Next() {
		k, claim := it.Get()
		if !k.hasPrefix(probe) {
			break
		}
		out = append(out, claim.holder)
	}
	sortInt64s(out)
	result := dedupeIDs(copyIDs(out))
	common.PutIDSlice(out)
	return result
}

func (idx *uniqueIndex) Range(lo, hi storage.ColumnValue) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var it *btree.Iterator[multiColumnKey, uniqueClaim]
	if lo != nil {
		it = idx.tree.SeekGE(multiColumnKey{values: []storage.ColumnValue{lo}})
	} else {
		it = idx.tree.Iterate()
	}
	out := common.GetIDSlice(8)
	for ; it.Valid(); it.Next() {
		k, claim := it.Get()
		if hi != nil && len(k.values) > 0 && compareKeyValues(k.values[0], hi) > 0 {
			break
		}
		out = append(out, claim.holder)
	}
	sortInt64s(out)
	result := dedupeIDs(copyIDs(out))
	common.PutIDSlice(out)
	return result
}
