package pkg

import (
	"context"
	"errors"
	"net/url"

	"github.com/tempusdb/tempus/internal/storage"

	// Import the temporal storage engine
	_ "github.com/tempusdb/tempus/internal/storage/temporal"
)

// DB represents a tempus database
type DB struct {
	engine storage.Engine
}

// Open opens a database at the location dsn describes. Supported forms
// are memory:// for a volatile engine and file:///path for a durable
// one; a bare path is treated as file://. An empty dsn opens a
// memory-only database.
func Open(dsn string) (*DB, error) {
	uri, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	scheme := uri.Scheme
	if scheme == "" {
		if uri.Path == "" {
			scheme = "memory"
			dsn = "memory://"
		} else {
			scheme = "file"
			dsn = "file://" + uri.Path
			if uri.RawQuery != "" {
				dsn += "?" + uri.RawQuery
			}
		}
	}

	factory := storage.GetEngineFactory(scheme)
	if factory == nil {
		return nil, errors.New("unsupported storage scheme: " + scheme + " (use memory:// or file://)")
	}

	engine, err := factory.Create(dsn)
	if err != nil {
		return nil, err
	}

	if err := engine.Open(); err != nil {
		return nil, err
	}

	return &DB{engine: engine}, nil
}

// Close closes the database and releases its storage
func (db *DB) Close() error {
	return db.engine.Close()
}

// Engine returns the underlying storage engine
func (db *DB) Engine() storage.Engine {
	return db.engine
}

// Path returns the storage location, empty for memory-only databases
func (db *DB) Path() string {
	return db.engine.Path()
}

// Now returns the database clock's current timestamp
func (db *DB) Now() int64 {
	return db.engine.Now()
}

// CreateTable creates a new system-versioned table
func (db *DB) CreateTable(schema *Schema) (Table, error) {
	return db.engine.CreateTable(schema)
}

// Table returns an open table by name
func (db *DB) Table(name string) (Table, error) {
	return db.engine.GetTable(name)
}

// DropTable removes a table and its persisted state
func (db *DB) DropTable(name string) error {
	return db.engine.DropTable(name)
}

// ListTables returns the names of all tables, sorted
func (db *DB) ListTables() []string {
	return db.engine.ListTables()
}

// CreateSnapshot writes a consistent snapshot of every table to the
// configured snapshot location
func (db *DB) CreateSnapshot(ctx context.Context) (SnapshotInfo, error) {
	return db.engine.CreateSnapshot(ctx)
}

// RestoreSnapshot loads the snapshot at url into an empty database.
// An empty url restores the latest snapshot at the configured location.
func (db *DB) RestoreSnapshot(ctx context.Context, url string) error {
	return db.engine.RestoreSnapshot(ctx, url)
}

// Storage contracts, re-exported so callers never import internal
// packages directly.
type (
	Engine      = storage.Engine
	Table       = storage.Table
	SchemaAdmin = storage.SchemaAdmin
	Scanner     = storage.Scanner
	WriteHandle = storage.WriteHandle

	Schema      = storage.Schema
	Column      = storage.Column
	Row         = storage.Row
	ColumnValue = storage.ColumnValue
	DataType    = storage.DataType

	Predicate = storage.Predicate
	Operator  = storage.Operator

	TemporalQuery = storage.TemporalQuery
	QueryMode     = storage.QueryMode
	VersionedRow  = storage.VersionedRow

	IndexSpec    = storage.IndexSpec
	IndexMeta    = storage.IndexMeta
	SnapshotInfo = storage.SnapshotInfo
	TableStats   = storage.TableStats
	CompactStats = storage.CompactStats

	CommitEvent = storage.CommitEvent
	CommitHook  = storage.CommitHook
	CommitKind  = storage.CommitKind
)

// Structured errors callers match with errors.As.
type (
	ErrPrimaryKeyConstraint = storage.ErrPrimaryKeyConstraint
	ErrNotNullConstraint    = storage.ErrNotNullConstraint
	ErrColumnCountMismatch  = storage.ErrColumnCountMismatch
	ErrDuplicateKey         = storage.ErrDuplicateKey
	ErrWriteTimeout         = storage.ErrWriteTimeout
	ErrTimestampOrder       = storage.ErrTimestampOrder
	ErrInvalidInterval      = storage.ErrInvalidInterval
	ErrStorageFull          = storage.ErrStorageFull
	ErrCorruption           = storage.ErrCorruption
)

// MaxTimestamp marks an open-ended validity interval: a version whose
// ValidTo equals it is the current version of its row.
const MaxTimestamp = storage.MaxTimestamp

// Column data types.
const (
	INTEGER   = storage.INTEGER
	FLOAT     = storage.FLOAT
	TEXT      = storage.TEXT
	BOOLEAN   = storage.BOOLEAN
	TIMESTAMP = storage.TIMESTAMP
	JSON      = storage.JSON
)

// Comparison operators for predicates.
const (
	EQ        = storage.EQ
	NE        = storage.NE
	GT        = storage.GT
	GTE       = storage.GTE
	LT        = storage.LT
	LTE       = storage.LTE
	ISNULL    = storage.ISNULL
	ISNOTNULL = storage.ISNOTNULL
)

// Committed transition kinds.
const (
	CommitInsert = storage.CommitInsert
	CommitUpdate = storage.CommitUpdate
	CommitDelete = storage.CommitDelete
)

// Temporal query modes.
const (
	QueryCurrent     = storage.QueryCurrent
	QueryAsOf        = storage.QueryAsOf
	QueryFromTo      = storage.QueryFromTo
	QueryBetween     = storage.QueryBetween
	QueryContainedIn = storage.QueryContainedIn
	QueryAll         = storage.QueryAll
)

// Value constructors.
var (
	NewIntegerValue   = storage.NewIntegerValue
	NewFloatValue     = storage.NewFloatValue
	NewStringValue    = storage.NewStringValue
	NewBooleanValue   = storage.NewBooleanValue
	NewTimestampValue = storage.NewTimestampValue
	NewJSONValue      = storage.NewJSONValue
	NewNullValue      = storage.NewNullValue
)

// Temporal query constructors.
var (
	Current     = storage.Current
	AsOf        = storage.AsOf
	FromTo      = storage.FromTo
	Between     = storage.Between
	ContainedIn = storage.ContainedIn
	AllVersions = storage.AllVersions
)

// Predicate constructors.
var (
	Compare = storage.Compare
	And     = storage.And
	Or      = storage.Or
	Not     = storage.Not
)

// Sentinel errors callers match with errors.Is.
var (
	ErrTableNotFound      = storage.ErrTableNotFound
	ErrTableAlreadyExists = storage.ErrTableAlreadyExists
	ErrColumnNotFound     = storage.ErrColumnNotFound
	ErrRowNotFound        = storage.ErrRowNotFound
	ErrIndexNotFound      = storage.ErrIndexNotFound
	ErrIndexAlreadyExists = storage.ErrIndexAlreadyExists
	ErrWriteAborted       = storage.ErrWriteAborted
	ErrTableClosed        = storage.ErrTableClosed
	ErrEngineClosed       = storage.ErrEngineClosed
	ErrSnapshotNotFound   = storage.ErrSnapshotNotFound
	ErrEngineNotEmpty     = storage.ErrEngineNotEmpty
)
