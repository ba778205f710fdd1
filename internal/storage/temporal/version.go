package temporal

import (
	"sync/atomic"

	"github.com/tempusdb/tempus/internal/storage"
)

// rowVersion is one published version of a logical row. Data and
// interval are immutable once the version is visible to readers; prev
// links to the next older closed version of the same row and is the
// only mutable field (atomically, for lock-free chain walks during
// retention unlinking).
type rowVersion struct {
	rowID     int64
	data      storage.Row
	validFrom int64
	validTo   int64
	prev      atomic.Pointer[rowVersion]
	ref       pageRef
}

func newRowVersion(rowID int64, data storage.Row, validFrom, validTo int64) *rowVersion {
	return &rowVersion{
		rowID:     rowID,
		data:      data,
		validFrom: validFrom,
		validTo:   validTo,
	}
}

func (v *rowVersion) isCurrent() bool {
	return v.validTo == storage.MaxTimestamp
}

// clampedValidTo returns the version's end timestamp as observed by a
// scan pinned at readTS: a close that happened after the pin is not yet
// visible, so the interval reads as still open.
func (v *rowVersion) clampedValidTo(readTS int64) int64 {
	if v.validTo > readTS {
		return storage.MaxTimestamp
	}
	return v.validTo
}

// visibleAt reports whether the version exists at all for a scan pinned
// at readTS. Versions born after the pin are invisible.
func (v *rowVersion) visibleAt(readTS int64) bool {
	return v.validFrom <= readTS
}

// asVersionedRow materializes the version for a scanner under the
// scan's pinned read timestamp.
func (v *rowVersion) asVersionedRow(readTS int64) storage.VersionedRow {
	return storage.VersionedRow{
		RowID:     v.rowID,
		Data:      v.data,
		ValidFrom: v.validFrom,
		ValidTo:   v.clampedValidTo(readTS),
	}
}
