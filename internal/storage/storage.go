// Package storage defines the engine-facing contracts of the temporal
// table store: column values, schemas, temporal queries, index
// specifications and the Engine/Table interfaces implemented by the
// engines registered through the factory registry.
package storage

import (
	"context"
	"math"
	"time"
)

// MaxTimestamp marks an open-ended validity interval. A row version
// whose ValidTo equals MaxTimestamp is the current version of its
// logical row.
const MaxTimestamp int64 = math.MaxInt64

// VersionedRow is a row version surfaced by a scan: the column values
// together with the half-open validity interval [ValidFrom, ValidTo)
// assigned by the engine.
type VersionedRow struct {
	RowID     int64
	Data      Row
	ValidFrom int64
	ValidTo   int64
}

// IsCurrent reports whether the version's interval is still open.
func (v VersionedRow) IsCurrent() bool {
	return v.ValidTo == MaxTimestamp
}

// Overlaps reports whether the version's interval intersects [start, end).
func (v VersionedRow) Overlaps(start, end int64) bool {
	return v.ValidFrom < end && v.ValidTo > start
}

// ContainedIn reports whether the version's interval lies fully inside
// [start, end].
func (v VersionedRow) ContainedIn(start, end int64) bool {
	return v.ValidFrom >= start && v.ValidTo <= end
}

// Scanner iterates over row versions produced by a temporal scan.
// Scanners are single-use and not safe for concurrent use; Close
// releases pooled resources and is safe to call more than once.
type Scanner interface {
	// Next advances to the next version, returning false when the scan
	// is exhausted or failed. Err distinguishes the two.
	Next() bool

	// Version returns the version at the current position. Only valid
	// after Next returned true.
	Version() VersionedRow

	// Err returns the first error encountered by the scan, if any.
	Err() error

	// Close releases scan resources.
	Close() error
}

// WriteHandle is an open write intent on a single logical row. The
// holder either commits exactly one transition or aborts. A handle is
// single-use: after CommitUpdate, CommitDelete or Abort it is spent.
type WriteHandle interface {
	// RowID identifies the locked logical row.
	RowID() int64

	// Current returns the version the write was opened against.
	Current() VersionedRow

	// CommitUpdate closes the current version at ts and installs a new
	// current version with the given values. A ts of zero uses the
	// engine clock.
	CommitUpdate(values Row, ts int64) error

	// CommitDelete closes the current version at ts without installing
	// a successor. The logical row disappears from the current
	// partition but its history remains queryable.
	CommitDelete(ts int64) error

	// Abort releases the intent without changing the row.
	Abort() error
}

// CommitKind labels the transition carried by a CommitEvent.
type CommitKind int8

const (
	CommitInsert CommitKind = iota
	CommitUpdate
	CommitDelete
)

func (k CommitKind) String() string {
	switch k {
	case CommitInsert:
		return "INSERT"
	case CommitUpdate:
		return "UPDATE"
	case CommitDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// CommitEvent describes one committed row transition. Events are
// delivered to hooks registered with Table.OnCommit after the
// transition is visible to readers. Before is unset for inserts and
// After is unset for deletes.
type CommitEvent struct {
	Table  string
	Kind   CommitKind
	RowID  int64
	At     int64
	Before Row
	After  Row
}

// CommitHook observes committed transitions. Hooks run synchronously on
// the committing goroutine and must not write back into the table.
type CommitHook func(CommitEvent)

// IndexSpec describes a secondary index over one or more columns. The
// variant is implied by the fields: more than one column makes a
// composite index, a non-nil Where makes a filtered index, a non-empty
// Included list makes a covering index, and Unique enforces at most one
// current version per key.
type IndexSpec struct {
	Name     string
	Columns  []string
	Unique   bool
	Included []string
	Where    Predicate
}

// IndexMeta is the externally visible description of a built index.
type IndexMeta struct {
	Name     string
	Columns  []string
	Unique   bool
	Filtered bool
	Covering bool
	Entries  int64
}

// CompactStats summarizes one retention sweep over a table's history
// partition.
type CompactStats struct {
	Horizon  int64
	Examined int64
	Purged   int64
	Archived int64
	Chunks   int64
	Failed   int64
}

// TableStats is a point-in-time summary of a table's partitions.
type TableStats struct {
	Name            string
	CurrentRows     int64
	HistoryVersions int64
	Indexes         int
	StorageBytes    int64
}

// SnapshotInfo describes a snapshot written by Engine.CreateSnapshot.
type SnapshotInfo struct {
	ID        string
	URL       string
	CreatedAt time.Time
	Tables    int
	Versions  int64
}

// Table is a system-versioned table: every logical row carries a chain
// of versions with contiguous validity intervals, of which at most one
// is current. All methods are safe for concurrent use.
type Table interface {
	Name() string
	Schema() *Schema

	// Insert creates the first version of a logical row valid from ts.
	// A ts of zero uses the engine clock. Inserting a row whose current
	// version exists fails with ErrPrimaryKeyConstraint; re-inserting a
	// previously deleted row starts a new current version.
	Insert(rowID int64, values Row, ts int64) error

	// BeginWrite acquires the row's write intent and returns a handle
	// for exactly one commit or abort. Concurrent writers on the same
	// row block up to the configured lock timeout and then fail with
	// ErrWriteTimeout. Writers on distinct rows do not contend.
	BeginWrite(rowID int64) (WriteHandle, error)

	// Update is BeginWrite followed by CommitUpdate.
	Update(rowID int64, values Row, ts int64) error

	// Delete is BeginWrite followed by CommitDelete.
	Delete(rowID int64, ts int64) error

	// GetCurrent returns the current version of a logical row, if one
	// exists.
	GetCurrent(rowID int64) (VersionedRow, bool)

	// Scan plans and executes a temporal query over the table. The
	// query is validated before any row is visited.
	Scan(q TemporalQuery) (Scanner, error)

	// ScanIndex runs a temporal query through a secondary index,
	// restricted to rows whose indexed columns match key (a prefix of
	// the index columns is allowed for composite indexes).
	ScanIndex(indexName string, key Row, q TemporalQuery) (Scanner, error)

	CreateIndex(spec IndexSpec) error
	DropIndex(name string) error
	ListIndexes() []IndexMeta

	// OnCommit registers a hook observing committed transitions and
	// returns an unregister function.
	OnCommit(hook CommitHook) (remove func())

	// CompactHistory purges closed versions whose ValidTo is strictly
	// below horizon. It runs out of band in bounded chunks, skips rows
	// it cannot lock, logs and continues on per-chunk failures, and is
	// idempotent.
	CompactHistory(ctx context.Context, horizon int64) (CompactStats, error)

	Stats() TableStats
	Close() error
}

// SchemaAdmin is implemented by tables that support online schema
// administration. The operations exclude all readers and writers for
// their duration and rewrite every affected version, current and
// historical, so the table's versions always match its schema.
type SchemaAdmin interface {
	// AddColumn appends a nullable column; existing versions read NULL
	// for it.
	AddColumn(col Column) error

	// DropColumn removes a column and its values from every version.
	// Fails while any index references the column.
	DropColumn(name string) error

	// EnableVersioning resumes recording closed versions.
	EnableVersioning() error

	// DisableVersioning stops recording closed versions and purges the
	// history partition. Current rows are unaffected.
	DisableVersioning() error

	// Versioned reports whether transitions are recorded to history.
	Versioned() bool
}

// Engine owns a set of temporal tables plus their durability and
// snapshot machinery.
type Engine interface {
	// Open prepares the engine, replaying any persisted state.
	Open() error

	// Path returns the storage location, empty for memory-only engines.
	Path() string

	CreateTable(schema *Schema) (Table, error)
	GetTable(name string) (Table, error)
	DropTable(name string) error
	ListTables() []string

	// Now returns the engine clock's current timestamp. Timestamps are
	// strictly monotonic across calls.
	Now() int64

	// CreateSnapshot writes a consistent snapshot of every table to the
	// configured snapshot location.
	CreateSnapshot(ctx context.Context) (SnapshotInfo, error)

	// RestoreSnapshot replaces the engine's state with the snapshot at
	// url. Only valid on an engine with no open tables.
	RestoreSnapshot(ctx context.Context, url string) error

	Close() error
}
