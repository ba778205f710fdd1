package temporal

import (
	"fmt"
	"time"

	"github.com/tempusdb/tempus/internal/storage"
)

// Schema administration. Each operation holds the table exclusively,
// rewrites every affected version through the page store, and only
// then swaps the rebuilt partitions and indexes in. New records are
// staged completely before any old record is freed, so a failure
// mid-rewrite leaves the published state untouched.

// AddColumn appends a column to the schema. The column must be
// nullable: every existing version, current and historical, reads NULL
// for it.
func (t *table) AddColumn(col storage.Column) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return storage.ErrTableClosed
	}
	if col.Name == "" {
		return fmt.Errorf("add column: empty name: %w", storage.ErrInvalidValue)
	}
	if t.schema.HasColumn(col.Name) {
		return fmt.Errorf("add column %s: %w", col.Name, storage.ErrDuplicateColumn)
	}
	if !col.Nullable {
		return &storage.ErrNotNullConstraint{Column: col.Name}
	}

	next := t.schema.Clone()
	col.ID = len(next.Columns)
	next.Columns = append(next.Columns, col)
	next.UpdatedAt = time.Now()

	return t.rewriteLocked(next, func(row storage.Row) storage.Row {
		out := make(storage.Row, len(row)+1)
		copy(out, row)
		return out
	})
}

// DropColumn removes a column and its values from every version. The
// drop is refused while an index keys on, includes, or filters by the
// column.
func (t *table) DropColumn(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return storage.ErrTableClosed
	}
	pos := t.schema.ColumnIndex(name)
	if pos < 0 {
		return fmt.Errorf("drop column %s: %w", name, storage.ErrColumnNotFound)
	}
	if len(t.schema.Columns) == 1 {
		return fmt.Errorf("drop column %s: last column: %w", name, storage.ErrNotSupported)
	}
	for _, idxName := range t.idxOrder {
		if indexReferences(t.indexes[idxName].Spec(), name) {
			return fmt.Errorf("drop column %s: referenced by index %s: %w",
				name, idxName, storage.ErrNotSupported)
		}
	}

	next := t.schema.Clone()
	next.Columns = append(next.Columns[:pos], next.Columns[pos+1:]...)
	for i := range next.Columns {
		next.Columns[i].ID = i
	}
	next.UpdatedAt = time.Now()

	return t.rewriteLocked(next, func(row storage.Row) storage.Row {
		out := make(storage.Row, 0, len(row)-1)
		out = append(out, row[:pos]...)
		out = append(out, row[pos+1:]...)
		return out
	})
}

func indexReferences(spec storage.IndexSpec, column string) bool {
	for _, c := range spec.Columns {
		if c == column {
			return true
		}
	}
	for _, c := range spec.Included {
		if c == column {
			return true
		}
	}
	if spec.Where != nil {
		for _, c := range spec.Where.Columns() {
			if c == column {
				return true
			}
		}
	}
	return false
}

// EnableVersioning resumes recording closed versions. Transitions made
// while versioning was off left no history; the chains continue from
// here.
func (t *table) EnableVersioning() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return storage.ErrTableClosed
	}
	if t.versioned {
		return nil
	}
	t.versioned = true
	return t.appendSchemaLocked()
}

// DisableVersioning stops recording closed versions and purges the
// history partition, freeing its records. Current rows are unaffected.
func (t *table) DisableVersioning() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return storage.ErrTableClosed
	}
	if !t.versioned {
		return nil
	}
	t.versioned = false

	t.history.ForEach(func(head *rowVersion) bool {
		for v := head; v != nil; v = v.prev.Load() {
			t.freeRef(v.ref)
		}
		return true
	})
	t.history = newHistoryPartition()
	return t.appendSchemaLocked()
}

func (t *table) Versioned() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.versioned
}

// rewriteLocked replaces every version's tuple via transform, persists
// the replacements, frees the superseded records and swaps in rebuilt
// partitions and indexes under the new schema. Caller holds t.mu
// exclusively.
func (t *table) rewriteLocked(next *storage.Schema, transform func(storage.Row) storage.Row) error {
	type replacement struct {
		old *rowVersion
		v   *rowVersion
	}

	var staged []replacement
	fail := func(err error) error {
		for _, r := range staged {
			t.freeRef(r.v.ref)
		}
		return err
	}
	stage := func(old *rowVersion) error {
		v := newRowVersion(old.rowID, transform(old.data), old.validFrom, old.validTo)
		if err := t.persistVersion(v); err != nil {
			return err
		}
		staged = append(staged, replacement{old: old, v: v})
		return nil
	}

	var stageErr error
	t.current.ForEach(func(v *rowVersion) bool {
		stageErr = stage(v)
		return stageErr == nil
	})
	if stageErr != nil {
		return fail(stageErr)
	}
	t.history.ForEach(func(head *rowVersion) bool {
		for v := head; v != nil; v = v.prev.Load() {
			if stageErr = stage(v); stageErr != nil {
				return false
			}
		}
		return true
	})
	if stageErr != nil {
		return fail(stageErr)
	}

	// Point of no return: all replacements are durable.
	current := newCurrentPartition()
	history := newHistoryPartition()
	chains := make(map[int64][]*rowVersion)
	for _, r := range staged {
		t.freeRef(r.old.ref)
		if r.v.isCurrent() {
			current.Put(r.v)
		} else {
			chains[r.v.rowID] = append(chains[r.v.rowID], r.v)
		}
	}
	// Chains were staged newest first; push oldest first to relink.
	for _, versions := range chains {
		for i := len(versions) - 1; i >= 0; i-- {
			history.Push(versions[i])
		}
	}

	indexes := make(map[string]secondaryIndex, len(t.idxOrder))
	for _, name := range t.idxOrder {
		idx, err := buildIndex(t.indexes[name].Spec(), next)
		if err != nil {
			return err
		}
		pub, _ := idx.(payloadPublisher)
		var buildErr error
		current.ForEach(func(v *rowVersion) bool {
			if buildErr = idx.Insert(v); buildErr != nil {
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
		indexes[name] = idx
	}

	t.schema = next
	t.current = current
	t.history = history
	t.indexes = indexes
	return t.appendSchemaLocked()
}
