/*
Copyright 2025 Tempus Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package temporal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tempusdb/tempus/internal/storage"
	"github.com/viant/afs/url"
)

var errEngineNotOpened = errors.New("engine not opened")

// engine owns the tables of one temporal store: their catalog, their
// page stores, the shared commit clock and the background retention and
// snapshot loops. The clock is engine-wide so validity intervals are
// comparable across tables, which is also what makes one pinned read
// timestamp a consistent snapshot of all of them.
type engine struct {
	cfg     storage.Config
	clock   *clock
	archive *archiveSink

	mu      sync.RWMutex
	tables  map[string]*table
	catalog *pageStore
	lock    *fileLock
	comp    *compactor
	snaps   *snapshotter
	opened  bool
	closed  bool

	snapCancel context.CancelFunc
	snapDone   chan struct{}
}

var (
	_ storage.Engine      = (*engine)(nil)
	_ storage.Table       = (*table)(nil)
	_ storage.SchemaAdmin = (*table)(nil)
)

// NewEngine returns an unopened engine for cfg. Open must be called
// before any table operation.
func NewEngine(cfg storage.Config) storage.Engine {
	return &engine{
		cfg:    cfg,
		clock:  newClock(),
		tables: make(map[string]*table),
	}
}

func (e *engine) persistent() bool {
	return e.cfg.Persistence.Enabled && e.cfg.Path != ""
}

func (e *engine) name() string {
	if e.cfg.Path != "" {
		return e.cfg.Path
	}
	return "memory"
}

// Open acquires the directory lock, replays the catalog and every
// table's store, and starts the background loops. Opening an already
// open engine is a no-op.
func (e *engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrEngineClosed
	}
	if e.opened {
		return nil
	}
	if e.cfg.Persistence.Enabled && e.cfg.Path == "" {
		return fmt.Errorf("persistence enabled without a path: %w", storage.ErrInvalidValue)
	}

	if e.cfg.Retention.ArchiveURL != "" {
		e.archive = newArchiveSink(e.cfg.Retention.ArchiveURL)
	}

	if e.persistent() {
		lock, err := acquireFileLock(e.cfg.Path)
		if err != nil {
			return err
		}
		e.lock = lock
		catalog, err := openPageStore(filepath.Join(e.cfg.Path, "catalog"),
			e.cfg.Persistence.QuotaBytes, e.cfg.Persistence.SyncMode)
		if err != nil {
			e.lock.Release()
			e.lock = nil
			return err
		}
		e.catalog = catalog
		if err := e.replayCatalog(); err != nil {
			e.abandonOpen()
			return err
		}
	} else {
		e.catalog = newPageStore(e.cfg.Persistence.QuotaBytes)
	}

	if base := e.snapshotBaseURL(); base != "" {
		e.snaps = newSnapshotter(base, e.cfg.Persistence.KeepSnapshots)
	}
	if e.cfg.Retention.Enabled && e.cfg.Retention.Interval > 0 {
		e.comp = newCompactor(e.cfg.Retention, e.clock, e.openTables)
		e.comp.start()
	}
	if e.snaps != nil && e.cfg.Persistence.SnapshotInterval > 0 {
		e.startSnapshotLoop(e.cfg.Persistence.SnapshotInterval)
	}
	e.opened = true
	return nil
}

// abandonOpen unwinds a partially replayed open so the caller can retry
// after repairing the directory.
func (e *engine) abandonOpen() {
	for name, t := range e.tables {
		t.store.Close()
		delete(e.tables, name)
	}
	if e.catalog != nil {
		e.catalog.Close()
		e.catalog = nil
	}
	if e.lock != nil {
		e.lock.Release()
		e.lock = nil
	}
}

func (e *engine) Path() string {
	return e.cfg.Path
}

// Now returns the engine clock's next timestamp.
func (e *engine) Now() int64 {
	return e.clock.Now()
}

func (e *engine) tableDir(name string) string {
	return filepath.Join(e.cfg.Path, "tables", name)
}

func (e *engine) openTableStore(name string) (*pageStore, error) {
	if !e.persistent() {
		return newPageStore(e.cfg.Persistence.QuotaBytes), nil
	}
	return openPageStore(e.tableDir(name), e.cfg.Persistence.QuotaBytes, e.cfg.Persistence.SyncMode)
}

func (e *engine) tableOptions() tableOptions {
	return tableOptions{
		lockTimeout: e.cfg.WriteLockTimeout,
		chunkSize:   e.cfg.Retention.ChunkSize,
		archive:     e.archive,
	}
}

// snapshotBaseURL resolves where snapshots live: the configured URL, or
// a snapshots folder under the engine path. Memory engines without an
// explicit URL have nowhere to snapshot to.
func (e *engine) snapshotBaseURL() string {
	if e.cfg.SnapshotURL != "" {
		return e.cfg.SnapshotURL
	}
	if e.cfg.Path == "" {
		return ""
	}
	dir := filepath.Join(e.cfg.Path, "snapshots")
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return url.ToFileURL(dir)
}

func (e *engine) openTables() []*table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tabs := make([]*table, 0, len(e.tables))
	for _, t := range e.tables {
		tabs = append(tabs, t)
	}
	return tabs
}

// validateTableSchema rejects definitions the engine cannot host before
// any state is allocated for them.
func validateTableSchema(schema *storage.Schema) error {
	if schema == nil || schema.TableName == "" {
		return fmt.Errorf("table name: %w", storage.ErrInvalidValue)
	}
	// Table names become directory names in file mode.
	if strings.ContainsAny(schema.TableName, `/\`) || schema.TableName == "." || schema.TableName == ".." {
		return fmt.Errorf("table name %q: %w", schema.TableName, storage.ErrInvalidValue)
	}
	if len(schema.Columns) == 0 {
		return fmt.Errorf("table %s has no columns: %w", schema.TableName, storage.ErrInvalidValue)
	}
	seen := make(map[string]struct{}, len(schema.Columns))
	for _, col := range schema.Columns {
		if col.Name == "" {
			return fmt.Errorf("table %s: column name: %w", schema.TableName, storage.ErrInvalidValue)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("column %s: %w", col.Name, storage.ErrDuplicateColumn)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

func (e *engine) CreateTable(schema *storage.Schema) (storage.Table, error) {
	if err := validateTableSchema(schema); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, storage.ErrEngineClosed
	}
	if !e.opened {
		return nil, errEngineNotOpened
	}
	name := schema.TableName
	if _, exists := e.tables[name]; exists {
		return nil, fmt.Errorf("table %s: %w", name, storage.ErrTableAlreadyExists)
	}

	def := schema.Clone()
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	for i := range def.Columns {
		def.Columns[i].ID = i
	}

	if e.persistent() {
		// A table directory with no catalog entry is a dropped table's
		// leftovers; starting fresh must not replay its records.
		os.RemoveAll(e.tableDir(name))
	}
	store, err := e.openTableStore(name)
	if err != nil {
		return nil, err
	}
	body, err := encode(&schemaRecord{Schema: def, Versioned: true, NextRowID: 1})
	if err != nil {
		store.Close()
		return nil, err
	}
	ref, err := e.catalog.Append(recordSchema, body)
	if err != nil {
		store.Close()
		return nil, err
	}

	t := newTable(def, e.clock, store, e.catalog, ref, e.tableOptions())
	e.tables[name] = t
	return t, nil
}

func (e *engine) GetTable(name string) (storage.Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, storage.ErrEngineClosed
	}
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", name, storage.ErrTableNotFound)
	}
	return t, nil
}

func (e *engine) DropTable(name string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return storage.ErrEngineClosed
	}
	t, ok := e.tables[name]
	if ok {
		delete(e.tables, name)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("table %s: %w", name, storage.ErrTableNotFound)
	}
	return t.drop()
}

func (e *engine) ListTables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateSnapshot writes a consistent image of every table, pinned at a
// single engine-wide read timestamp, to the snapshot location.
func (e *engine) CreateSnapshot(ctx context.Context) (storage.SnapshotInfo, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return storage.SnapshotInfo{}, storage.ErrEngineClosed
	}
	snaps := e.snaps
	tabs := make([]*table, 0, len(e.tables))
	for _, t := range e.tables {
		tabs = append(tabs, t)
	}
	e.mu.RUnlock()

	if snaps == nil {
		return storage.SnapshotInfo{}, fmt.Errorf("snapshots have no configured location: %w", storage.ErrNotSupported)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].name < tabs[j].name })

	m, err := snaps.create(ctx, e.clock, tabs)
	if err != nil {
		return storage.SnapshotInfo{}, err
	}
	info := storage.SnapshotInfo{
		ID:        m.ID,
		URL:       snaps.folderURL(m.ID),
		CreatedAt: m.CreatedAt,
		Tables:    len(m.Tables),
	}
	for i := range m.Tables {
		info.Versions += m.Tables[i].Versions
	}
	return info, nil
}

// RestoreSnapshot rebuilds the engine's tables from a snapshot folder.
// An empty URL restores the newest snapshot under the configured
// location. The engine must not have any tables; restore is for seeding
// a fresh engine, not merging into a live one.
func (e *engine) RestoreSnapshot(ctx context.Context, fromURL string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrEngineClosed
	}
	if !e.opened {
		return errEngineNotOpened
	}
	if len(e.tables) != 0 {
		return fmt.Errorf("restore: %w", storage.ErrEngineNotEmpty)
	}

	snaps := e.snaps
	folder := fromURL
	if folder == "" {
		if snaps == nil {
			return fmt.Errorf("snapshots have no configured location: %w", storage.ErrNotSupported)
		}
		m, err := snaps.latest(ctx)
		if err != nil {
			return err
		}
		folder = snaps.folderURL(m.ID)
	}
	if snaps == nil {
		snaps = newSnapshotter(folder, 0)
	}

	m, err := snaps.manifestAt(ctx, folder)
	if err != nil {
		return err
	}

	created := make([]*table, 0, len(m.Tables))
	for i := range m.Tables {
		t, err := e.restoreTable(ctx, snaps, folder, &m.Tables[i])
		if err != nil {
			for _, c := range created {
				delete(e.tables, c.name)
				if dropErr := c.drop(); dropErr != nil {
					fmt.Printf("Warning: engine %s: unwinding restore of table %s: %v\n", e.name(), c.name, dropErr)
				}
			}
			return err
		}
		created = append(created, t)
	}
	e.clock.Advance(m.ClockTS)
	return nil
}

// restoreTable rebuilds one table from snapshot data: records are
// persisted into a fresh store, then published through the same
// assembly as a replay. Caller holds e.mu exclusively.
func (e *engine) restoreTable(ctx context.Context, snaps *snapshotter, folder string, meta *snapshotTable) (*table, error) {
	name := meta.Schema.TableName
	data, err := snaps.dataAt(ctx, folder, name)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}

	if e.persistent() {
		os.RemoveAll(e.tableDir(name))
	}
	store, err := e.openTableStore(name)
	if err != nil {
		return nil, err
	}
	body, err := encode(&schemaRecord{Schema: meta.Schema, Versioned: meta.Versioned, NextRowID: meta.NextRowID})
	if err != nil {
		store.Close()
		return nil, err
	}
	ref, err := e.catalog.Append(recordSchema, body)
	if err != nil {
		store.Close()
		return nil, err
	}

	t := newTable(meta.Schema, e.clock, store, e.catalog, ref, e.tableOptions())
	t.versioned = meta.Versioned
	if meta.NextRowID > 0 {
		t.nextRowID.Store(meta.NextRowID)
	}

	live := make(map[versionKey]*replayedVersion)
	err = walkVersionFrames(data, func(rec *versionRecord) error {
		v := newRowVersion(rec.RowID, rec.Data, rec.ValidFrom, rec.ValidTo)
		if err := t.persistVersion(v); err != nil {
			return err
		}
		live[versionKey{rec.RowID, rec.ValidFrom}] = &replayedVersion{rec: *rec, ref: v.ref}
		return nil
	})
	if err == nil {
		e.assemble(t, live)
		for _, spec := range meta.Specs {
			idxBody, encErr := encode(&indexRecord{Table: name, Spec: spec})
			if encErr != nil {
				err = encErr
				break
			}
			idxRef, appendErr := e.catalog.Append(recordIndex, idxBody)
			if appendErr != nil {
				err = appendErr
				break
			}
			if installErr := t.installIndex(spec, idxRef); installErr != nil {
				err = installErr
				break
			}
		}
	}
	if err == nil {
		err = t.fillIndexes()
	}
	if err != nil {
		if dropErr := t.drop(); dropErr != nil {
			fmt.Printf("Warning: engine %s: unwinding restore of table %s: %v\n", e.name(), name, dropErr)
		}
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	e.tables[name] = t
	return t, nil
}

func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	comp := e.comp
	snapCancel, snapDone := e.snapCancel, e.snapDone
	tabs := make([]*table, 0, len(e.tables))
	for _, t := range e.tables {
		tabs = append(tabs, t)
	}
	e.mu.Unlock()

	// The loops read engine state through e.mu, so they stop strictly
	// outside it.
	if comp != nil {
		comp.stop()
	}
	if snapCancel != nil {
		snapCancel()
		<-snapDone
	}

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].name < tabs[j].name })
	var firstErr error
	for _, t := range tabs {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("table %s: %w", t.name, err)
		}
	}
	if e.catalog != nil {
		if err := e.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.lock != nil {
		if err := e.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// startSnapshotLoop writes a snapshot every interval until Close.
func (e *engine) startSnapshotLoop(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	e.snapCancel = cancel
	e.snapDone = make(chan struct{})
	go func() {
		defer close(e.snapDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := e.CreateSnapshot(ctx)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, storage.ErrEngineClosed) {
					fmt.Printf("Warning: engine %s: periodic snapshot: %v\n", e.name(), err)
				}
			}
		}
	}()
}

// replayCatalog rebuilds the table set from live catalog records. A
// crash between superseding a record and freeing its predecessor leaves
// both live; the later append wins and the loser is re-freed here.
func (e *engine) replayCatalog() error {
	type catalogSchema struct {
		rec schemaRecord
		ref pageRef
	}
	type catalogIndex struct {
		rec indexRecord
		ref pageRef
	}
	schemas := make(map[string]*catalogSchema)
	var indexes []catalogIndex

	err := e.catalog.Replay(func(ref pageRef, kind byte, body []byte) error {
		switch kind {
		case recordSchema:
			var rec schemaRecord
			if err := decode(body, &rec); err != nil {
				return err
			}
			if prev, dup := schemas[rec.Schema.TableName]; dup {
				e.freeCatalogRef(prev.ref)
			}
			schemas[rec.Schema.TableName] = &catalogSchema{rec: rec, ref: ref}
		case recordIndex:
			var rec indexRecord
			if err := decode(body, &rec); err != nil {
				return err
			}
			indexes = append(indexes, catalogIndex{rec: rec, ref: ref})
		default:
			return fmt.Errorf("catalog: unexpected record kind %d", kind)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for name, entry := range schemas {
		store, err := e.openTableStore(name)
		if err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		t := newTable(entry.rec.Schema, e.clock, store, e.catalog, entry.ref, e.tableOptions())
		t.versioned = entry.rec.Versioned
		if entry.rec.NextRowID > 0 {
			t.nextRowID.Store(entry.rec.NextRowID)
		}
		e.tables[name] = t
	}

	for _, entry := range indexes {
		t, ok := e.tables[entry.rec.Table]
		if !ok {
			fmt.Printf("Warning: catalog: index %s references missing table %s, dropping it\n",
				entry.rec.Spec.Name, entry.rec.Table)
			e.freeCatalogRef(entry.ref)
			continue
		}
		if old, dup := t.indexRefs[entry.rec.Spec.Name]; dup {
			e.freeCatalogRef(old)
			t.uninstallIndex(entry.rec.Spec.Name)
		}
		if err := t.installIndex(entry.rec.Spec, entry.ref); err != nil {
			return fmt.Errorf("table %s: index %s: %w", entry.rec.Table, entry.rec.Spec.Name, err)
		}
	}

	for _, t := range e.tables {
		if err := e.loadTableStore(t); err != nil {
			return fmt.Errorf("table %s: %w", t.name, err)
		}
		if err := t.fillIndexes(); err != nil {
			return fmt.Errorf("table %s: %w", t.name, err)
		}
	}
	return nil
}

func (e *engine) freeCatalogRef(ref pageRef) {
	if !ref.valid() {
		return
	}
	if err := e.catalog.Free(ref); err != nil {
		fmt.Printf("Warning: engine %s: freeing catalog record: %v\n", e.name(), err)
	}
}

// replayedVersion is one surviving version record during replay.
type replayedVersion struct {
	rec versionRecord
	ref pageRef
}

// loadTableStore replays a table's page store. Two live copies of one
// (rowID, validFrom) survive a crash between a commit's append and the
// free of the superseded record; the later append wins and the loser is
// freed.
func (e *engine) loadTableStore(t *table) error {
	live := make(map[versionKey]*replayedVersion)
	err := t.store.Replay(func(ref pageRef, kind byte, body []byte) error {
		if kind != recordVersion {
			return fmt.Errorf("unexpected record kind %d", kind)
		}
		var rec versionRecord
		if err := decode(body, &rec); err != nil {
			return err
		}
		key := versionKey{rec.RowID, rec.ValidFrom}
		if prev, dup := live[key]; dup {
			t.freeRef(prev.ref)
		}
		live[key] = &replayedVersion{rec: rec, ref: ref}
		return nil
	})
	if err != nil {
		return err
	}
	e.assemble(t, live)
	return nil
}

// assemble rebuilds a table's partitions from surviving version
// records: per row, versions sort by validFrom, every closed one goes
// to history oldest first so chains link newest to oldest, and an open
// last version becomes current. An open version with a successor lost
// its close record; it is re-closed at the successor's start.
func (e *engine) assemble(t *table, live map[versionKey]*replayedVersion) {
	byRow := make(map[int64][]*replayedVersion)
	for _, rv := range live {
		byRow[rv.rec.RowID] = append(byRow[rv.rec.RowID], rv)
	}

	var maxTS, maxRow int64
	for rowID, chain := range byRow {
		sort.Slice(chain, func(i, j int) bool {
			return chain[i].rec.ValidFrom < chain[j].rec.ValidFrom
		})
		if rowID > maxRow {
			maxRow = rowID
		}
		for i, rv := range chain {
			validTo := rv.rec.ValidTo
			if validTo == storage.MaxTimestamp && i < len(chain)-1 {
				validTo = chain[i+1].rec.ValidFrom
				fmt.Printf("Warning: table %s: row %d version at %d lost its close, closing at %d\n",
					t.name, rowID, rv.rec.ValidFrom, validTo)
			}
			v := newRowVersion(rowID, normalizeWidth(rv.rec.Data, t.schema), rv.rec.ValidFrom, validTo)
			v.ref = rv.ref
			if v.validFrom > maxTS {
				maxTS = v.validFrom
			}
			if validTo == storage.MaxTimestamp {
				t.current.Put(v)
				continue
			}
			if validTo > maxTS {
				maxTS = validTo
			}
			t.history.Push(v)
		}
	}

	if next := maxRow + 1; next > t.nextRowID.Load() {
		t.nextRowID.Store(next)
	}
	e.clock.Advance(maxTS)
}

// normalizeWidth fits a replayed tuple to the live schema's arity.
// Width drift appears only in the window where a crashed schema rewrite
// left staged records behind; the live schema decides the layout.
func normalizeWidth(data storage.Row, schema *storage.Schema) storage.Row {
	want := len(schema.Columns)
	if len(data) == want {
		return data
	}
	out := make(storage.Row, want)
	n := copy(out, data)
	for i := n; i < want; i++ {
		out[i] = storage.NewNullValue(schema.Columns[i].Type)
	}
	return out
}

// fillIndexes populates installed index definitions from the current
// partition. Used after replay and restore, where definitions arrive
// before the partitions exist.
func (t *table) fillIndexes() error {
	var buildErr error
	for _, name := range t.idxOrder {
		idx := t.indexes[name]
		pub, _ := idx.(payloadPublisher)
		t.current.ForEach(func(v *rowVersion) bool {
			if err := idx.Insert(v); err != nil {
				buildErr = fmt.Errorf("index %s: %w", name, err)
				return false
			}
			if pub != nil {
				pub.publishPayload(v)
			}
			return true
		})
		if buildErr != nil {
			return buildErr
		}
	}
	return nil
}
