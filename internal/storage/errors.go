package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTableNotFound is returned when a table is not found
	ErrTableNotFound = errors.New("table not found")
	// ErrTableAlreadyExists is returned when a table already exists
	ErrTableAlreadyExists = errors.New("table already exists")
	// ErrColumnNotFound is returned when a column is not found
	ErrColumnNotFound = errors.New("column not found")
	// ErrInvalidColumnType is returned when a column type is invalid
	ErrInvalidColumnType = errors.New("invalid column type")
	// ErrInvalidValue is returned when a value is invalid for its column
	ErrInvalidValue = errors.New("invalid value")
	// ErrNotSupported is returned when an operation is not supported
	ErrNotSupported = errors.New("operation not supported")

	ErrTableClosed     = errors.New("table closed")
	ErrEngineClosed    = errors.New("engine closed")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrRowNotFound     = errors.New("row not found")
	ErrWriteAborted    = errors.New("write already aborted or committed")

	// ErrSnapshotNotFound is returned when no complete snapshot exists
	// under the configured snapshot location.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrEngineNotEmpty is returned when a restore is attempted on an
	// engine that already has tables.
	ErrEngineNotEmpty = errors.New("engine not empty")

	// Index-related errors
	// ErrIndexNotFound is returned when an index is not found
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexAlreadyExists is returned when an index already exists
	ErrIndexAlreadyExists = errors.New("index already exists")
	// ErrIndexColumnNotFound is returned when a column specified for an index is not found
	ErrIndexColumnNotFound = errors.New("index column not found")

	// Value comparison errors
	// ErrNullComparison is returned when trying to compare NULL with non-NULL
	ErrNullComparison = errors.New("cannot compare NULL with non-NULL value")
	// ErrIncomparableTypes is returned when trying to compare incompatible types
	ErrIncomparableTypes = errors.New("cannot compare incompatible types")
)

// ErrDuplicateKey is returned when a unique index insert would duplicate an
// existing key. The write is aborted before any partition is mutated.
type ErrDuplicateKey struct {
	Index  string
	Column string
	Value  ColumnValue
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("duplicate key for unique index %s on column %s with value %v",
		e.Index, e.Column, e.Value.AsInterface())
}

// NewDuplicateKeyError creates a new duplicate key error
func NewDuplicateKeyError(indexName, column string, value ColumnValue) error {
	return &ErrDuplicateKey{
		Index:  indexName,
		Column: column,
		Value:  value,
	}
}

// ErrWriteTimeout is returned when the per-row intent lock cannot be
// acquired within the configured bound. The write is aborted; retrying is
// the caller's decision.
type ErrWriteTimeout struct {
	RowID   int64
	Timeout time.Duration
}

func (e *ErrWriteTimeout) Error() string {
	return fmt.Sprintf("write lock on row %d not acquired within %v", e.RowID, e.Timeout)
}

// NewWriteTimeoutError creates a new write timeout error
func NewWriteTimeoutError(rowID int64, timeout time.Duration) error {
	return &ErrWriteTimeout{
		RowID:   rowID,
		Timeout: timeout,
	}
}

// ErrStorageFull is returned when the store has no room for another
// version. Fatal for the write, not for the engine.
type ErrStorageFull struct {
	Quota     int64
	Used      int64
	Requested int64
}

func (e *ErrStorageFull) Error() string {
	return fmt.Sprintf("storage full: %d of %d bytes used, %d more requested",
		e.Used, e.Quota, e.Requested)
}

// NewStorageFullError creates a new storage full error
func NewStorageFullError(quota, used, requested int64) error {
	return &ErrStorageFull{
		Quota:     quota,
		Used:      used,
		Requested: requested,
	}
}

// ErrCorruption is returned when a stored record fails its checksum on
// read. It is always surfaced to the caller, never skipped or repaired.
type ErrCorruption struct {
	Segment  int64
	Offset   int64
	Expected uint64
	Actual   uint64
}

func (e *ErrCorruption) Error() string {
	return fmt.Sprintf("checksum mismatch in segment %d at offset %d: stored %x, computed %x",
		e.Segment, e.Offset, e.Expected, e.Actual)
}

// NewCorruptionError creates a new corruption error
func NewCorruptionError(segment, offset int64, expected, actual uint64) error {
	return &ErrCorruption{
		Segment:  segment,
		Offset:   offset,
		Expected: expected,
		Actual:   actual,
	}
}

// ErrInvalidInterval is returned for a temporal query whose interval has
// t1 >= t2 or a malformed boundary combination. Rejected before any scan.
type ErrInvalidInterval struct {
	Mode  string
	Start int64
	End   int64
}

func (e *ErrInvalidInterval) Error() string {
	return fmt.Sprintf("invalid %s interval: start %d must be below end %d", e.Mode, e.Start, e.End)
}

// NewInvalidIntervalError creates a new invalid interval error
func NewInvalidIntervalError(mode string, start, end int64) error {
	return &ErrInvalidInterval{
		Mode:  mode,
		Start: start,
		End:   end,
	}
}

// ErrTimestampOrder is returned when a commit timestamp does not advance
// past the current version's valid_from; accepting it would break the
// valid_from < valid_to invariant.
type ErrTimestampOrder struct {
	RowID int64
	Given int64
	Min   int64
}

func (e *ErrTimestampOrder) Error() string {
	return fmt.Sprintf("commit timestamp %d for row %d must be above %d", e.Given, e.RowID, e.Min)
}

// NewTimestampOrderError creates a new timestamp order error
func NewTimestampOrderError(rowID, given, min int64) error {
	return &ErrTimestampOrder{
		RowID: rowID,
		Given: given,
		Min:   min,
	}
}

// ErrColumnCountMismatch is returned when a row's arity does not match the
// table schema
type ErrColumnCountMismatch struct {
	Expected int
	Got      int
}

func (e *ErrColumnCountMismatch) Error() string {
	return fmt.Sprintf("column count mismatch, expected %d, got %d", e.Expected, e.Got)
}

// ErrNotNullConstraint is returned when a NULL is written to a non-nullable
// column
type ErrNotNullConstraint struct {
	Column string
}

func (e *ErrNotNullConstraint) Error() string {
	return fmt.Sprintf("not null constraint failed for column %s", e.Column)
}

// ErrPrimaryKeyConstraint is returned when inserting a row id that already
// has a current version
type ErrPrimaryKeyConstraint struct {
	RowID int64
}

func (e *ErrPrimaryKeyConstraint) Error() string {
	return fmt.Sprintf("primary key constraint failed: row %d already exists", e.RowID)
}

// NewPrimaryKeyConstraintError creates a new primary key error
func NewPrimaryKeyConstraintError(rowID int64) error {
	return &ErrPrimaryKeyConstraint{
		RowID: rowID,
	}
}
