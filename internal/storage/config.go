package storage

import "time"

// SyncMode controls how aggressively the page store flushes committed
// writes to stable storage.
type SyncMode int

const (
	// SyncNone leaves flushing to the operating system.
	SyncNone SyncMode = iota

	// SyncNormal syncs on commit boundaries in batches.
	SyncNormal

	// SyncFull syncs after every committed write.
	SyncFull
)

func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncNormal:
		return "normal"
	case SyncFull:
		return "full"
	}
	return "unknown"
}

// PersistenceConfig controls the page store backing a table.
type PersistenceConfig struct {
	// Enabled turns on disk persistence. When false the engine is
	// memory-only and Path is ignored.
	Enabled bool

	// SyncMode selects the flush policy for committed writes.
	SyncMode SyncMode

	// QuotaBytes caps the bytes the page store may occupy. Writes that
	// would exceed the quota fail with ErrStorageFull. Zero means
	// unlimited.
	QuotaBytes int64

	// SnapshotInterval is how often the engine writes a full snapshot.
	// Zero disables automatic snapshots.
	SnapshotInterval time.Duration

	// KeepSnapshots bounds how many snapshots are retained per table.
	KeepSnapshots int
}

// RetentionConfig controls the background purge of closed row versions.
type RetentionConfig struct {
	// Enabled turns on the periodic retention sweep.
	Enabled bool

	// Horizon is the age past which a closed version becomes eligible
	// for purge: versions with ValidTo <= now-Horizon are removed.
	Horizon time.Duration

	// Interval is how often the sweep runs.
	Interval time.Duration

	// ChunkSize bounds how many versions one chunk examines, keeping
	// each lock window short.
	ChunkSize int

	// ArchiveURL, when set, receives purged versions before they are
	// deleted. Any URL scheme supported by the file service works.
	ArchiveURL string
}

// Config carries everything an engine instance needs at construction.
// There is no process-global configuration; two engines with different
// Configs coexist in one process.
type Config struct {
	// Path is the data directory for persisted engines.
	Path string

	Persistence PersistenceConfig
	Retention   RetentionConfig

	// WriteLockTimeout bounds how long BeginWrite waits for a row's
	// write intent before failing with ErrWriteTimeout.
	WriteLockTimeout time.Duration

	// SnapshotURL overrides where snapshots are written. Empty means a
	// snapshots directory under Path.
	SnapshotURL string
}

// DefaultPersistenceConfig returns the persistence settings used when a
// DSN enables persistence without tuning it.
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Enabled:          true,
		SyncMode:         SyncNormal,
		SnapshotInterval: 5 * time.Minute,
		KeepSnapshots:    3,
	}
}

// DefaultRetentionConfig returns a disabled retention policy with sane
// sweep parameters for when it is switched on.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Interval:  time.Minute,
		ChunkSize: 1024,
	}
}

// DefaultConfig returns the configuration of a memory-only engine.
func DefaultConfig() Config {
	return Config{
		Retention:        DefaultRetentionConfig(),
		WriteLockTimeout: 5 * time.Second,
	}
}
