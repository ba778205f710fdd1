package temporal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/internal/storage"
)

// secondaryIndex is the contract every index variant implements. An
// index covers only the current partition: maintenance happens
// synchronously inside a row transition (new entry added before the old
// one is removed, so a concurrent lookup never misses the row), and
// historical queries resolve through the current/history union scan,
// not through per-version index entries.
type secondaryIndex interface {
	Name() string
	Spec() storage.IndexSpec
	Meta() storage.IndexMeta

	// Insert indexes a row's new current version. For unique indexes a
	// key already held by a different row fails with ErrDuplicateKey,
	// before any partition has been mutated.
	Insert(v *rowVersion) error

	// Remove drops the entry the superseded or deleted version carried.
	// Matching is by version identity, so removing the old version of a
	// row never disturbs the entry its successor just added.
	Remove(v *rowVersion)

	// Seek returns the ids of current rows whose indexed columns equal
	// key, ascending. A prefix of the index columns is allowed for
	// composite indexes.
	Seek(key storage.Row) []int64

	// Range returns the ids of current rows whose first indexed column
	// lies in [lo, hi], ascending and finite. A nil bound is open.
	Range(lo, hi storage.ColumnValue) []int64
}

// coveredSource is implemented by indexes that can answer a current
// read from their own leaves, without touching the current partition.
type coveredSource interface {
	// Covered returns the leaf payloads for key as materialized
	// current versions, and whether this index can serve them.
	Covered(key storage.Row) ([]storage.VersionedRow, bool)
}

// payloadPublisher is implemented by indexes carrying leaf payloads.
// Payloads are published only after the version is visible in the
// current partition, so a covered read never returns a version whose
// commit could still fail.
type payloadPublisher interface {
	publishPayload(v *rowVersion)
}

// buildIndex constructs the variant an IndexSpec implies: a unique or
// full base wrapped by covering and filtered decorators as requested.
func buildIndex(spec storage.IndexSpec, schema *storage.Schema) (secondaryIndex, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("index: %w: empty name", storage.ErrInvalidValue)
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("index %s: %w: no columns", spec.Name, storage.ErrIndexColumnNotFound)
	}
	columnIDs := make([]int, len(spec.Columns))
	for i, name := range spec.Columns {
		pos := schema.ColumnIndex(name)
		if pos < 0 {
			return nil, fmt.Errorf("index %s: column %s: %w", spec.Name, name, storage.ErrIndexColumnNotFound)
		}
		columnIDs[i] = pos
	}

	var idx secondaryIndex
	switch {
	case spec.Unique:
		idx = newUniqueIndex(spec, columnIDs)
	case len(spec.Columns) == 1:
		idx = newSortedIndex(spec, columnIDs[0])
	default:
		idx = newCompositeIndex(spec, columnIDs)
	}

	if len(spec.Included) > 0 {
		covering, err := newCoveringIndex(idx, spec, schema, columnIDs)
		if err != nil {
			return nil, err
		}
		idx = covering
	}
	if spec.Where != nil {
		if err := spec.Where.Bind(schema); err != nil {
			return nil, fmt.Errorf("index %s: %w", spec.Name, err)
		}
		idx = newFilteredIndex(idx, spec.Where)
	}
	return idx, nil
}

// compareKeyValues orders two key values with NULL before every
// non-NULL value, giving indexes a total order.
func compareKeyValues(a, b storage.ColumnValue) int {
	aNull := a == nil || a.IsNull()
	bNull := b == nil || b.IsNull()
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	if c, err := a.Compare(b); err == nil {
		return c
	}
	// Incomparable types only appear on malformed manual keys; fall
	// back to the type tag to keep the order total.
	return int(a.Type()) - int(b.Type())
}

// insertSortedID inserts id into a sorted slice, allowing duplicates.
func insertSortedID(ids []int64, id int64) []int64 {
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if ids[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	ids = append(ids, 0)
	copy(ids[lo+1:], ids[lo:])
	ids[lo] = id
	return ids
}

// removeSortedID removes one occurrence of id.
func removeSortedID(ids []int64, id int64) []int64 {
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if ids[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ids) && ids[lo] == id {
		return append(ids[:lo], ids[lo+1:]...)
	}
	return ids
}

// sortedIndex is the single-column full index: distinct non-null
// values in one sorted slice with parallel row id lists, plus a null
// row list. Lookups binary-search the value slice. During an update's
// add-before-remove overlap a row id appears twice under its old and
// new value (or twice under an unchanged value); removal by id takes
// out exactly one occurrence.
type sortedIndex struct {
	spec     storage.IndexSpec
	columnID int

	mu       sync.RWMutex
	values   []storage.ColumnValue
	rows     [][]int64
	nullRows []int64
	entries  atomic.Int64
}

func newSortedIndex(spec storage.IndexSpec, columnID int) *sortedIndex {
	return &sortedIndex{
		spec:     spec,
		columnID: columnID,
		values:   make([]storage.ColumnValue, 0, 16),
		rows:     make([][]int64, 0, 16),
	}
}

func (idx *sortedIndex) Name() string            { return idx.spec.Name }
func (idx *sortedIndex) Spec() storage.IndexSpec { return idx.spec }

func (idx *sortedIndex) Meta() storage.IndexMeta {
	return storage.IndexMeta{
		Name:    idx.spec.Name,
		Columns: idx.spec.Columns,
		Entries: idx.entries.Load(),
	}
}

// search returns the position of value in the sorted slice, or the
// insertion point when absent. Caller holds the lock.
func (idx *sortedIndex) search(value storage.ColumnValue) (int, bool) {
	lo, hi := 0, len(idx.values)
	for lo < hi {
		mid := (lo + hi) / 2
		c := compareKeyValues(idx.values[mid], value)
		if c < 0 {
			lo = mid + 1
		} else if c > 0 {
			hi = mid
		} else {
			return mid, true
		}
	}
	return lo, false
}

func (idx *sortedIndex) Insert(v *rowVersion) error {
	value := columnAt(v.data, idx.columnID)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if value == nil || value.IsNull() {
		idx.nullRows = insertSortedID(idx.nullRows, v.rowID)
		idx.entries.Add(1)
		return nil
	}
	pos, found := idx.search(value)
	if found {
		idx.rows[pos] = insertSortedID(idx.rows[pos], v.rowID)
	} else {
		idx.values = append(idx.values, nil)
		copy(idx.values[pos+1:], idx.values[pos:])
		idx.values[pos] = value
		idx.rows = append(idx.rows, nil)
		copy(idx.rows[pos+1:], idx.rows[pos:])
		idx.rows[pos] = []int64{v.rowID}
	}
	idx.entries.Add(1)
	return nil
}

func (idx *sortedIndex) Remove(v *rowVersion) {
	value := columnAt(v.data, idx.columnID)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if value == nil || value.IsNull() {
		before := len(idx.nullRows)
		idx.nullRows = removeSortedID(idx.nullRows, v.rowID)
		if len(idx.nullRows) < before {
			idx.entries.Add(-1)
		}
		return
	}
	pos, found := idx.search(value)
	if !found {
		return
	}
	before := len(idx.rows[pos])
	idx.rows[pos] = removeSortedID(idx.rows[pos], v.rowID)
	if len(idx.rows[pos]) < before {
		idx.entries.Add(-1)
	}
	if len(idx.rows[pos]) == 0 {
		idx.values = append(idx.values[:pos], idx.values[pos+1:]...)
		idx.rows = append(idx.rows[:pos], idx.rows[pos+1:]...)
	}
}

func (idx *sortedIndex) Seek(key storage.Row) []int64 {
	if len(key) != 1 {
		return nil
	}
	value := key[0]
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if value == nil || value.IsNull() {
		return dedupeIDs(copyIDs(idx.nullRows))
	}
	pos, found := idx.search(value)
	if !found {
		return nil
	}
	return dedupeIDs(copyIDs(idx.rows[pos]))
}

func (idx *sortedIndex) Range(lo, hi storage.ColumnValue) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := 0
	if lo != nil {
		start, _ = idx.search(lo)
	}
	out := common.GetIDSlice(16)
	for pos := start; pos < len(idx.values); pos++ {
		if hi != nil && compareKeyValues(idx.values[pos], hi) > 0 {
			break
		}
		out = append(out, idx.rows[pos]...)
	}
	sortInt64s(out)
	result := dedupeIDs(copyIDs(out))
	common.PutIDSlice(out)
	return result
}

func columnAt(row storage.Row, pos int) storage.ColumnValue {
	if pos < 0 || pos >= len(row) {
		return nil
	}
	return row[pos]
}

func copyIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// dedupeIDs collapses adjacent duplicates in a sorted id slice; the
// same row can appear under two values mid-transition.
func dedupeIDs(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
