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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tempusdb/tempus/internal/storage"
)

// table is one system-versioned table. Every committed transition runs
// the same protocol under the row's intent lock:
//
//  1. validate the tuple and the commit timestamp
//  2. add index entries for the new version (uniqueness fails here,
//     before anything is visible or persisted)
//  3. persist the closed copy and the new version
//  4. publish to the history partition, then the current partition
//  5. install covering payloads, remove the old version's index
//     entries, fire hooks
//
// Readers never lock rows: scans pin a read timestamp and reconcile
// the one transition they can observe half-applied by deduplication,
// in planner.go.
type table struct {
	name    string
	clock   *clock
	store   *pageStore
	catalog *pageStore

	// mu serializes DDL and schema administration against row commits:
	// commits and scans hold it shared, CreateIndex, DropIndex and the
	// schema admin operations hold it exclusively. Row-versus-row
	// isolation is the lock table's job, not mu's.
	mu        sync.RWMutex
	schema    *storage.Schema
	versioned bool
	closed    bool

	current *currentPartition
	history *historyPartition
	locks   *lockTable

	indexes   map[string]secondaryIndex
	idxOrder  []string
	indexRefs map[string]pageRef
	schemaRef pageRef

	hooks     *hookRegistry
	nextRowID atomic.Int64
	opts      tableOptions
}

func newTable(schema *storage.Schema, clock *clock, store, catalog *pageStore, schemaRef pageRef, opts tableOptions) *table {
	t := &table{
		name:      schema.TableName,
		clock:     clock,
		store:     store,
		catalog:   catalog,
		schema:    schema,
		versioned: true,
		current:   newCurrentPartition(),
		history:   newHistoryPartition(),
		locks:     newLockTable(opts.lockTimeout),
		indexes:   make(map[string]secondaryIndex),
		indexRefs: make(map[string]pageRef),
		schemaRef: schemaRef,
		hooks:     newHookRegistry(),
		opts:      opts,
	}
	t.nextRowID.Store(1)
	return t
}

func (t *table) Name() string { return t.name }

func (t *table) Schema() *storage.Schema {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.schema.Clone()
}

// NextRowID allocates the next unused logical row id. Explicit ids
// passed to Insert advance the watermark, so allocated and caller
// chosen ids can be mixed on one table.
func (t *table) NextRowID() int64 {
	return t.nextRowID.Add(1) - 1
}

func (t *table) bumpRowID(used int64) {
	for {
		cur := t.nextRowID.Load()
		if used < cur {
			return
		}
		if t.nextRowID.CompareAndSwap(cur, used+1) {
			return
		}
	}
}

func (t *table) Insert(rowID int64, values storage.Row, ts int64) error {
	if rowID <= 0 {
		return fmt.Errorf("row id %d: %w", rowID, storage.ErrInvalidValue)
	}
	release, err := t.locks.Acquire(rowID)
	if err != nil {
		return err
	}
	defer release()
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return storage.ErrTableClosed
	}
	if err := t.schema.ValidateRow(values); err != nil {
		return err
	}
	if _, exists := t.current.Get(rowID); exists {
		return storage.NewPrimaryKeyConstraintError(rowID)
	}
	// A re-insert after a delete must start after the old chain ended.
	var min int64
	if head, ok := t.history.Head(rowID); ok {
		min = head.validTo
	}
	ts, err = t.resolveTimestamp(rowID, ts, min)
	if err != nil {
		return err
	}

	v := newRowVersion(rowID, values.Clone(), ts, storage.MaxTimestamp)
	if err := t.indexInsert(v); err != nil {
		return err
	}
	if err := t.persistVersion(v); err != nil {
		t.indexRemove(v)
		return err
	}

	t.current.Put(v)
	t.publishPayloads(v)
	t.bumpRowID(rowID)
	t.fireCommit(storage.CommitInsert, rowID, ts, nil, v.data)
	return nil
}

func (t *table) Update(rowID int64, values storage.Row, ts int64) error {
	release, err := t.locks.Acquire(rowID)
	if err != nil {
		return err
	}
	defer release()
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return storage.ErrTableClosed
	}
	cur, ok := t.current.Get(rowID)
	if !ok {
		return fmt.Errorf("row %d: %w", rowID, storage.ErrRowNotFound)
	}
	return t.commitUpdate(cur, values, ts)
}

func (t *table) Delete(rowID int64, ts int64) error {
	release, err := t.locks.Acquire(rowID)
	if err != nil {
		return err
	}
	defer release()
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return storage.ErrTableClosed
	}
	cur, ok := t.current.Get(rowID)
	if !ok {
		return fmt.Errorf("row %d: %w", rowID, storage.ErrRowNotFound)
	}
	return t.commitDelete(cur, ts)
}

// commitUpdate closes cur at ts and installs the new values as the
// row's current version. Caller holds the row lock and t.mu shared.
func (t *table) commitUpdate(cur *rowVersion, values storage.Row, ts int64) error {
	if err := t.schema.ValidateRow(values); err != nil {
		return err
	}
	ts, err := t.resolveTimestamp(cur.rowID, ts, cur.validFrom)
	if err != nil {
		return err
	}

	closed := newRowVersion(cur.rowID, cur.data, cur.validFrom, ts)
	next := newRowVersion(cur.rowID, values.Clone(), ts, storage.MaxTimestamp)

	if err := t.indexInsert(next); err != nil {
		return err
	}
	if t.versioned {
		if err := t.persistVersion(closed); err != nil {
			t.indexRemove(next)
			return err
		}
	}
	if err := t.persistVersion(next); err != nil {
		t.freeRef(closed.ref)
		t.indexRemove(next)
		return err
	}
	t.freeRef(cur.ref)

	// History first, then current: a scan that observes the new
	// version is guaranteed to find the close, and one that observes
	// both copies of cur keeps the current one.
	if t.versioned {
		t.history.Push(closed)
	}
	t.current.Put(next)
	t.publishPayloads(next)
	t.indexRemove(cur)
	t.fireCommit(storage.CommitUpdate, cur.rowID, ts, cur.data, next.data)
	return nil
}

// commitDelete closes cur at ts with no successor. The row leaves the
// current partition; its history remains queryable.
func (t *table) commitDelete(cur *rowVersion, ts int64) error {
	ts, err := t.resolveTimestamp(cur.rowID, ts, cur.validFrom)
	if err != nil {
		return err
	}

	closed := newRowVersion(cur.rowID, cur.data, cur.validFrom, ts)
	if t.versioned {
		if err := t.persistVersion(closed); err != nil {
			return err
		}
	}
	t.freeRef(cur.ref)

	if t.versioned {
		t.history.Push(closed)
	}
	t.current.Delete(cur.rowID)
	t.indexRemove(cur)
	t.fireCommit(storage.CommitDelete, cur.rowID, ts, cur.data, nil)
	return nil
}

// resolveTimestamp returns the commit timestamp for a transition whose
// interval must start strictly after min. Zero asks the engine clock;
// an explicit timestamp advances the clock so later automatic stamps
// stay ahead of it.
func (t *table) resolveTimestamp(rowID, ts, min int64) (int64, error) {
	if ts == 0 {
		return t.clock.Now(), nil
	}
	if ts <= min {
		return 0, storage.NewTimestampOrderError(rowID, ts, min)
	}
	t.clock.Advance(ts)
	return ts, nil
}

func (t *table) persistVersion(v *rowVersion) error {
	body, err := encode(&versionRecord{
		RowID:     v.rowID,
		Data:      v.data,
		ValidFrom: v.validFrom,
		ValidTo:   v.validTo,
	})
	if err != nil {
		return err
	}
	ref, err := t.store.Append(recordVersion, body)
	if err != nil {
		return err
	}
	v.ref = ref
	return nil
}

func (t *table) freeRef(ref pageRef) {
	if !ref.valid() {
		return
	}
	if err := t.store.Free(ref); err != nil {
		fmt.Printf("Warning: table %s: freeing record: %v\n", t.name, err)
	}
}

// indexInsert adds the new version to every index, unwinding on the
// first failure so a duplicate key leaves no partial entries.
func (t *table) indexInsert(v *rowVersion) error {
	for i, name := range t.idxOrder {
		if err := t.indexes[name].Insert(v); err != nil {
			for j := i - 1; j >= 0; j-- {
				t.indexes[t.idxOrder[j]].Remove(v)
			}
			return err
		}
	}
	return nil
}

func (t *table) indexRemove(v *rowVersion) {
	for _, name := range t.idxOrder {
		t.indexes[name].Remove(v)
	}
}

func (t *table) publishPayloads(v *rowVersion) {
	for _, name := range t.idxOrder {
		if pub, ok := t.indexes[name].(payloadPublisher); ok {
			pub.publishPayload(v)
		}
	}
}

func (t *table) fireCommit(kind storage.CommitKind, rowID, at int64, before, after storage.Row) {
	if t.hooks.len() == 0 {
		return
	}
	t.hooks.fire(storage.CommitEvent{
		Table:  t.name,
		Kind:   kind,
		RowID:  rowID,
		At:     at,
		Before: before.Clone(),
		After:  after.Clone(),
	})
}

func (t *table) GetCurrent(rowID int64) (storage.VersionedRow, bool) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return storage.VersionedRow{}, false
	}
	v, ok := t.current.Get(rowID)
	t.mu.RUnlock()
	if !ok {
		return storage.VersionedRow{}, false
	}
	return storage.VersionedRow{
		RowID:     v.rowID,
		Data:      v.data.Clone(),
		ValidFrom: v.validFrom,
		ValidTo:   storage.MaxTimestamp,
	}, true
}

func (t *table) Scan(q storage.TemporalQuery) (storage.Scanner, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, storage.ErrTableClosed
	}
	return t.planScan(q)
}

func (t *table) ScanIndex(indexName string, key storage.Row, q storage.TemporalQuery) (storage.Scanner, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, storage.ErrTableClosed
	}
	return t.planIndexScan(indexName, key, q)
}

// CreateIndex builds the index over the current partition and installs
// it. The build runs with commits excluded, so the index starts
// complete; a unique violation in existing data fails the build and
// leaves the table unchanged.
func (t *table) CreateIndex(spec storage.IndexSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return storage.ErrTableClosed
	}
	if _, exists := t.indexes[spec.Name]; exists {
		return fmt.Errorf("index %s: %w", spec.Name, storage.ErrIndexAlreadyExists)
	}
	idx, err := buildIndex(spec, t.schema)
	if err != nil {
		return err
	}

	var buildErr error
	pub, _ := idx.(payloadPublisher)
	t.current.ForEach(func(v *rowVersion) bool {
		if err := idx.Insert(v); err != nil {
			buildErr = err
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

	body, err := encode(&indexRecord{Table: t.name, Spec: spec})
	if err != nil {
		return err
	}
	ref, err := t.catalog.Append(recordIndex, body)
	if err != nil {
		return err
	}

	t.indexes[spec.Name] = idx
	t.idxOrder = append(t.idxOrder, spec.Name)
	t.indexRefs[spec.Name] = ref
	return nil
}

// installIndex places a replayed index definition without persisting
// it again. Caller owns the table exclusively.
func (t *table) installIndex(spec storage.IndexSpec, ref pageRef) error {
	idx, err := buildIndex(spec, t.schema)
	if err != nil {
		return err
	}
	t.indexes[spec.Name] = idx
	t.idxOrder = append(t.idxOrder, spec.Name)
	t.indexRefs[spec.Name] = ref
	return nil
}

func (t *table) DropIndex(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return storage.ErrTableClosed
	}
	if _, exists := t.indexes[name]; !exists {
		return fmt.Errorf("index %s: %w", name, storage.ErrIndexNotFound)
	}
	if ref, ok := t.indexRefs[name]; ok {
		if err := t.catalog.Free(ref); err != nil {
			return err
		}
	}
	t.uninstallIndex(name)
	return nil
}

// uninstallIndex removes an installed index from the in-memory maps.
// Caller holds t.mu exclusively and has dealt with the catalog record.
func (t *table) uninstallIndex(name string) {
	delete(t.indexes, name)
	delete(t.indexRefs, name)
	for i, n := range t.idxOrder {
		if n == name {
			t.idxOrder = append(t.idxOrder[:i], t.idxOrder[i+1:]...)
			break
		}
	}
}

func (t *table) ListIndexes() []storage.IndexMeta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	metas := make([]storage.IndexMeta, 0, len(t.idxOrder))
	for _, name := range t.idxOrder {
		metas = append(metas, t.indexes[name].Meta())
	}
	return metas
}

func (t *table) OnCommit(hook storage.CommitHook) func() {
	return t.hooks.register(hook)
}

func (t *table) Stats() storage.TableStats {
	t.mu.RLock()
	indexes := len(t.indexes)
	t.mu.RUnlock()
	return storage.TableStats{
		Name:            t.name,
		CurrentRows:     t.current.Len(),
		HistoryVersions: t.history.Len(),
		Indexes:         indexes,
		StorageBytes:    t.store.Used(),
	}
}

// appendSchemaLocked supersedes the table's catalog entry with its
// present schema, versioning switch and row id watermark. Caller holds
// t.mu exclusively.
func (t *table) appendSchemaLocked() error {
	body, err := encode(&schemaRecord{
		Schema:    t.schema,
		Versioned: t.versioned,
		NextRowID: t.nextRowID.Load(),
	})
	if err != nil {
		return err
	}
	ref, err := t.catalog.Append(recordSchema, body)
	if err != nil {
		return err
	}
	if t.schemaRef.valid() {
		if err := t.catalog.Free(t.schemaRef); err != nil {
			fmt.Printf("Warning: table %s: freeing catalog entry: %v\n", t.name, err)
		}
	}
	t.schemaRef = ref
	return nil
}

// Close persists the catalog watermark and releases the table's store.
// The engine's catalog store stays open; it belongs to the engine.
func (t *table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.appendSchemaLocked(); err != nil {
		fmt.Printf("Warning: table %s: persisting catalog entry: %v\n", t.name, err)
	}
	return t.store.Close()
}

// drop closes the table and destroys its store, freeing its catalog
// records. Used by Engine.DropTable.
func (t *table) drop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
	}
	for name, ref := range t.indexRefs {
		if err := t.catalog.Free(ref); err != nil {
			fmt.Printf("Warning: table %s: freeing index %s: %v\n", t.name, name, err)
		}
	}
	if t.schemaRef.valid() {
		if err := t.catalog.Free(t.schemaRef); err != nil {
			fmt.Printf("Warning: table %s: freeing catalog entry: %v\n", t.name, err)
		}
	}
	return t.store.Destroy()
}

// tableOptions carries per-table construction settings from the engine
// config.
type tableOptions struct {
	lockTimeout time.Duration
	chunkSize   int
	archive     *archiveSink
}
