package temporal

import (
	"sync"

	"github.com/tempusdb/tempus/internal/storage"
)

// tableScanner iterates the versions a plan collected, applying the
// value filter and projection lazily. The candidate slice is already
// deduplicated and sorted by (row id, valid from); intervals are
// clamped against the scan's pinned read timestamp on the way out.
type tableScanner struct {
	versions []*rowVersion
	rt       int64
	filter   storage.Predicate
	project  []int

	pos    int
	cur    storage.VersionedRow
	err    error
	closed bool
}

var scannerPool = sync.Pool{
	New: func() interface{} {
		return &tableScanner{pos: -1}
	},
}

// acquireScanner takes a scanner from the pool with its candidate
// slice emptied but its capacity retained. The planner appends the
// collected versions and fills in the scan parameters.
func acquireScanner() *tableScanner {
	s := scannerPool.Get().(*tableScanner)
	s.versions = s.versions[:0]
	s.rt = 0
	s.filter = nil
	s.project = nil
	s.pos = -1
	s.cur = storage.VersionedRow{}
	s.err = nil
	s.closed = false
	return s
}

func (s *tableScanner) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for s.pos+1 < len(s.versions) {
		s.pos++
		v := s.versions[s.pos]
		if s.filter != nil {
			ok, err := s.filter.Evaluate(v.data)
			if err != nil {
				s.err = err
				return false
			}
			if !ok {
				continue
			}
		}
		s.cur = storage.VersionedRow{
			RowID:     v.rowID,
			Data:      s.materialize(v.data),
			ValidFrom: v.validFrom,
			ValidTo:   v.clampedValidTo(s.rt),
		}
		return true
	}
	return false
}

// materialize copies the version's data out of the engine, applying
// the projection when one is set. Handing callers a copy keeps
// published versions immutable.
func (s *tableScanner) materialize(data storage.Row) storage.Row {
	if s.project == nil {
		return data.Clone()
	}
	out := make(storage.Row, len(s.project))
	for i, pos := range s.project {
		if pos < len(data) {
			out[i] = data[pos]
		}
	}
	return out
}

func (s *tableScanner) Version() storage.VersionedRow {
	return s.cur
}

func (s *tableScanner) Err() error {
	return s.err
}

func (s *tableScanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for i := range s.versions {
		s.versions[i] = nil
	}
	s.versions = s.versions[:0]
	s.filter = nil
	s.project = nil
	s.cur = storage.VersionedRow{}
	scannerPool.Put(s)
	return nil
}
