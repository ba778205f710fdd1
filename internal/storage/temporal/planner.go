package temporal

import (
	"fmt"

	"github.com/tempusdb/tempus/internal/storage"
)

// versionKey identifies one published version for scan deduplication.
// During a transition the closed copy in the history partition and the
// still-open copy in the current partition share a key; the scan keeps
// the current copy, which reads as the pre-transition state.
type versionKey struct {
	rowID     int64
	validFrom int64
}

// bindQuery validates the query and resolves its filter and projection
// against the table schema. Binding happens before any row is visited,
// so a malformed query fails without a partial scan.
func (t *table) bindQuery(q storage.TemporalQuery) (storage.Predicate, []int, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}
	if q.Filter != nil {
		if err := q.Filter.Bind(t.schema); err != nil {
			return nil, nil, err
		}
	}
	var project []int
	if q.Columns != nil {
		project = make([]int, len(q.Columns))
		for i, name := range q.Columns {
			pos := t.schema.ColumnIndex(name)
			if pos < 0 {
				return nil, nil, fmt.Errorf("project column %s: %w", name, storage.ErrColumnNotFound)
			}
			project[i] = pos
		}
	}
	return q.Filter, project, nil
}

// planScan executes a full-table temporal query: pin the read
// timestamp, collect matching versions from the current partition and
// then the history chains, deduplicate the transition overlap and sort
// by (row id, valid from).
//
// The writer publishes the closed copy to history before swapping the
// current partition; the scan reads the partitions in the opposite
// order, so whenever it observes a transition's successor the matching
// close is already in history.
func (t *table) planScan(q storage.TemporalQuery) (*tableScanner, error) {
	filter, project, err := t.bindQuery(q)
	if err != nil {
		return nil, err
	}
	rt := t.clock.Now()
	s := acquireScanner()
	t.collect(s, q, rt)
	s.rt, s.filter, s.project = rt, filter, project
	return s, nil
}

// collect gathers every version q matches under the pinned read
// timestamp, deduplicated and sorted. Shared by full scans and
// snapshot dumps.
func (t *table) collect(s *tableScanner, q storage.TemporalQuery, rt int64) {
	seen := make(map[versionKey]struct{}, t.current.Len())
	t.current.ForEach(func(v *rowVersion) bool {
		if !v.visibleAt(rt) {
			return true
		}
		seen[versionKey{v.rowID, v.validFrom}] = struct{}{}
		if q.Matches(v.validFrom, v.clampedValidTo(rt)) {
			s.versions = append(s.versions, v)
		}
		return true
	})
	isDup := func(k versionKey) bool {
		_, dup := seen[k]
		return dup
	}
	t.history.ForEach(func(head *rowVersion) bool {
		collectChain(s, q, rt, head, isDup)
		return true
	})
	sortVersions(s.versions)
}

// planIndexScan restricts a temporal query to the rows an index maps
// to key. The index holds entries for current versions only, so the
// key match is against each row's current image; the versions returned
// for the historical modes are then resolved through the partitions
// and may predate that image.
func (t *table) planIndexScan(name string, key storage.Row, q storage.TemporalQuery) (*tableScanner, error) {
	idx, ok := t.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", name, storage.ErrIndexNotFound)
	}
	filter, project, err := t.bindQuery(q)
	if err != nil {
		return nil, err
	}

	// A covering index answers an unfiltered current read from its
	// leaves when the projection stays within the covered columns.
	if q.Mode == storage.QueryCurrent && filter == nil {
		if src, isCov := idx.(coveredSource); isCov && t.projectionCovered(idx.Spec(), project) {
			if rows, served := src.Covered(key); served {
				s := acquireScanner()
				for _, r := range rows {
					s.versions = append(s.versions, newRowVersion(r.RowID, r.Data, r.ValidFrom, r.ValidTo))
				}
				sortVersions(s.versions)
				// Intervals are already materialized; MaxTimestamp
				// disables clamping.
				s.rt, s.project = storage.MaxTimestamp, project
				return s, nil
			}
		}
	}

	rt := t.clock.Now()
	ids := idx.Seek(key)

	s := acquireScanner()
	for _, id := range ids {
		t.collectRow(s, q, rt, id)
	}
	sortVersions(s.versions)
	s.rt, s.filter, s.project = rt, filter, project
	return s, nil
}

// projectionCovered reports whether every projected column is either a
// key or an included column of the index. A nil projection asks for the
// whole schema and is covered only when the index spans it.
func (t *table) projectionCovered(spec storage.IndexSpec, project []int) bool {
	covered := make(map[int]struct{}, len(spec.Columns)+len(spec.Included))
	for _, name := range spec.Columns {
		covered[t.schema.ColumnIndex(name)] = struct{}{}
	}
	for _, name := range spec.Included {
		covered[t.schema.ColumnIndex(name)] = struct{}{}
	}
	if project == nil {
		return len(covered) == len(t.schema.Columns)
	}
	for _, pos := range project {
		if _, ok := covered[pos]; !ok {
			return false
		}
	}
	return true
}

// collectRow gathers one row's matching versions: the current version
// first, then the history chain, with the transition overlap removed.
func (t *table) collectRow(s *tableScanner, q storage.TemporalQuery, rt int64, rowID int64) {
	var currentKey versionKey
	haveCurrent := false
	if v, ok := t.current.Get(rowID); ok && v.visibleAt(rt) {
		currentKey = versionKey{v.rowID, v.validFrom}
		haveCurrent = true
		if q.Matches(v.validFrom, v.clampedValidTo(rt)) {
			s.versions = append(s.versions, v)
		}
	}
	head, ok := t.history.Head(rowID)
	if !ok {
		return
	}
	collectChain(s, q, rt, head, func(k versionKey) bool {
		return haveCurrent && k == currentKey
	})
}

// collectChain walks one history chain newest to oldest, appending the
// visible versions the query matches and stopping as soon as no older
// version can match. Versions born after the pinned read timestamp are
// passed over without ending the walk; a version deeper in the chain
// may still be the one visible at the pin.
func collectChain(s *tableScanner, q storage.TemporalQuery, rt int64, head *rowVersion, isDup func(versionKey) bool) {
	for v := head; v != nil; v = v.prev.Load() {
		if !v.visibleAt(rt) {
			continue
		}
		effVT := v.clampedValidTo(rt)
		if !isDup(versionKey{v.rowID, v.validFrom}) && q.Matches(v.validFrom, effVT) {
			s.versions = append(s.versions, v)
		}
		if chainDone(q, v.validFrom, effVT) {
			return
		}
	}
}

// chainDone reports whether a chain walk can stop after seeing a
// visible version with the given clamped interval. Chains descend by
// validFrom, and a version's end never exceeds its successor's start,
// so each mode has a cutoff below which older versions cannot match.
func chainDone(q storage.TemporalQuery, validFrom, effValidTo int64) bool {
	switch q.Mode {
	case storage.QueryCurrent:
		// Only the newest visible version can read as still open.
		return true
	case storage.QueryAsOf:
		return validFrom <= q.T
	case storage.QueryFromTo, storage.QueryBetween:
		return effValidTo <= q.Start
	case storage.QueryContainedIn:
		return validFrom < q.Start
	}
	return false
}
