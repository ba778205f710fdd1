package temporal

import (
	"fmt"

	"github.com/tempusdb/tempus/internal/fastmap"
	"github.com/tempusdb/tempus/internal/storage"
)

// coveredEntry is the leaf payload a covering index keeps per current
// row: the key and included columns projected into a schema-width row,
// stamped with the version that wrote it.
type coveredEntry struct {
	data      storage.Row
	validFrom int64
}

// coveringIndex extends a base index with per-row leaf payloads so
// that a current read touching only key and included columns is
// answered from the index alone, without a partition lookup. Payloads
// exist only for current versions; historical reads always go through
// the partitions.
type coveringIndex struct {
	base        secondaryIndex
	keyIDs      []int
	includedIDs []int
	width       int

	payload *fastmap.SegmentInt64Map[coveredEntry]
}

func newCoveringIndex(base secondaryIndex, spec storage.IndexSpec, schema *storage.Schema, keyIDs []int) (*coveringIndex, error) {
	includedIDs := make([]int, len(spec.Included))
	for i, name := range spec.Included {
		pos := schema.ColumnIndex(name)
		if pos < 0 {
			return nil, fmt.Errorf("index %s: included column %s: %w", spec.Name, name, storage.ErrIndexColumnNotFound)
		}
		includedIDs[i] = pos
	}
	return &coveringIndex{
		base:        base,
		keyIDs:      keyIDs,
		includedIDs: includedIDs,
		width:       len(schema.Columns),
		payload:     fastmap.NewSegmentInt64Map[coveredEntry](4, 1024),
	}, nil
}

func (idx *coveringIndex) Name() string            { return idx.base.Name() }
func (idx *coveringIndex) Spec() storage.IndexSpec { return idx.base.Spec() }

func (idx *coveringIndex) Meta() storage.IndexMeta {
	meta := idx.base.Meta()
	meta.Covering = true
	return meta
}

// project builds the sparse payload row: key and included positions
// populated, everything else nil.
func (idx *coveringIndex) project(row storage.Row) storage.Row {
	out := make(storage.Row, idx.width)
	for _, pos := range idx.keyIDs {
		if pos < len(row) {
			out[pos] = row[pos]
		}
	}
	for _, pos := range idx.includedIDs {
		if pos < len(row) {
			out[pos] = row[pos]
		}
	}
	return out
}

func (idx *coveringIndex) Insert(v *rowVersion) error {
	return idx.base.Insert(v)
}

// publishPayload installs the leaf payload for a version that just
// became current. Until it runs, Covered falls back for fresh inserts
// and serves the predecessor's payload for updates; both states are
// ones a reader racing the commit could legitimately observe.
func (idx *coveringIndex) publishPayload(v *rowVersion) {
	idx.payload.Set(v.rowID, coveredEntry{data: idx.project(v.data), validFrom: v.validFrom})
}

// Remove drops the base entry and the payload, unless a newer version
// of the same row already replaced the payload during its Insert.
func (idx *coveringIndex) Remove(v *rowVersion) {
	idx.base.Remove(v)
	if entry, ok := idx.payload.Get(v.rowID); ok && entry.validFrom == v.validFrom {
		idx.payload.Del(v.rowID)
	}
}

func (idx *coveringIndex) Seek(key storage.Row) []int64 {
	return idx.base.Seek(key)
}

func (idx *coveringIndex) Range(lo, hi storage.ColumnValue) []int64 {
	return idx.base.Range(lo, hi)
}

// Covered serves an equality lookup from leaf payloads. It reports
// false when any matched row's payload is missing, in which case the
// caller falls back to the partition scan.
func (idx *coveringIndex) Covered(key storage.Row) ([]storage.VersionedRow, bool) {
	ids := idx.base.Seek(key)
	out := make([]storage.VersionedRow, 0, len(ids))
	for _, id := range ids {
		entry, ok := idx.payload.Get(id)
		if !ok {
			return nil, false
		}
		out = append(out, storage.VersionedRow{
			RowID:     id,
			Data:      entry.data,
			ValidFrom: entry.validFrom,
			ValidTo:   storage.MaxTimestamp,
		})
	}
	return out, true
}
