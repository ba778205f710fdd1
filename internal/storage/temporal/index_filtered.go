package temporal

import (
	"fmt"

	"github.com/tempusdb/tempus/internal/storage"
)

// filteredIndex gates a base index behind a bound predicate: only
// current versions matching the predicate carry entries. Because both
// Insert and Remove evaluate against the version they are handed, an
// update whose new image stops matching simply skips the insert while
// the remove of the old image still fires, and vice versa, so rows
// move in and out of the index as their data crosses the predicate.
type filteredIndex struct {
	base secondaryIndex
	pred storage.Predicate
}

func newFilteredIndex(base secondaryIndex, pred storage.Predicate) *filteredIndex {
	return &filteredIndex{base: base, pred: pred}
}

func (idx *filteredIndex) Name() string            { return idx.base.Name() }
func (idx *filteredIndex) Spec() storage.IndexSpec { return idx.base.Spec() }

func (idx *filteredIndex) Meta() storage.IndexMeta {
	meta := idx.base.Meta()
	meta.Filtered = true
	return meta
}

func (idx *filteredIndex) Insert(v *rowVersion) error {
	ok, err := idx.pred.Evaluate(v.data)
	if err != nil {
		return fmt.Errorf("index %s: evaluating %s: %w", idx.base.Name(), idx.pred, err)
	}
	if !ok {
		return nil
	}
	return idx.base.Insert(v)
}

func (idx *filteredIndex) Remove(v *rowVersion) {
	ok, err := idx.pred.Evaluate(v.data)
	if err == nil && !ok {
		return
	}
	// On evaluation errors fall through: base removal of an entry that
	// was never inserted is a no-op, while skipping a real entry would
	// leave it dangling.
	idx.base.Remove(v)
}

func (idx *filteredIndex) Seek(key storage.Row) []int64 {
	return idx.base.Seek(key)
}

func (idx *filteredIndex) Range(lo, hi storage.ColumnValue) []int64 {
	return idx.base.Range(lo, hi)
}

// Covered passes through when the base can serve covered reads.
func (idx *filteredIndex) Covered(key storage.Row) ([]storage.VersionedRow, bool) {
	if src, ok := idx.base.(coveredSource); ok {
		return src.Covered(key)
	}
	return nil, false
}

// publishPayload forwards to the base with the same predicate gate as
// Insert, so payloads exist exactly for the entries the base holds.
func (idx *filteredIndex) publishPayload(v *rowVersion) {
	pub, isPub := idx.base.(payloadPublisher)
	if !isPub {
		return
	}
	if ok, err := idx.pred.Evaluate(v.data); err != nil || !ok {
		return
	}
	pub.publishPayload(v)
}
