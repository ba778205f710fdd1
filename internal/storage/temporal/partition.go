package temporal

import (
	"sync/atomic"

	"github.com/tempusdb/tempus/internal/fastmap"
)

// currentPartition maps logical row id to the row's open version. It
// is mutated only by the version chain manager under the row's intent
// lock; readers go through Get/ForEach without any table-level lock.
type currentPartition struct {
	rows *fastmap.SegmentInt64Map[*rowVersion]
}

func newCurrentPartition() *currentPartition {
	return &currentPartition{rows: fastmap.NewSegmentInt64Map[*rowVersion](4, 1024)}
}

func (p *currentPartition) Get(rowID int64) (*rowVersion, bool) {
	return p.rows.Get(rowID)
}

// Put swaps in the row's open version. The map write is the atomic
// publication point of an insert or update.
func (p *currentPartition) Put(v *rowVersion) {
	p.rows.Set(v.rowID, v)
}

// Delete removes the row's open version; the publication point of a
// delete.
func (p *currentPartition) Delete(rowID int64) {
	p.rows.Del(rowID)
}

func (p *currentPartition) Len() int64 {
	return p.rows.Len()
}

func (p *currentPartition) ForEach(fn func(v *rowVersion) bool) {
	p.rows.ForEach(func(_ int64, v *rowVersion) bool {
		return fn(v)
	})
}

// historyPartition holds the closed-version chains: per row, the most
// recently closed version, linked newest to oldest through prev. The
// write path only pushes new heads; retention is the only remover.
type historyPartition struct {
	heads    *fastmap.SegmentInt64Map[*rowVersion]
	versions atomic.Int64
}

func newHistoryPartition() *historyPartition {
	return &historyPartition{heads: fastmap.NewSegmentInt64Map[*rowVersion](4, 1024)}
}

// Push publishes a freshly closed version as the new chain head. Must
// run before the matching current-partition swap so a concurrent scan
// never observes the transition half-applied; the scan's
// (rowID, validFrom) deduplication collapses the overlap.
func (p *historyPartition) Push(v *rowVersion) {
	head, _ := p.heads.Get(v.rowID)
	v.prev.Store(head)
	p.heads.Set(v.rowID, v)
	p.versions.Add(1)
}

// Head returns the newest closed version of a row.
func (p *historyPartition) Head(rowID int64) (*rowVersion, bool) {
	return p.heads.Get(rowID)
}

// Len returns the number of closed versions across all chains.
func (p *historyPartition) Len() int64 {
	return p.versions.Load()
}

// Rows returns the ids of all rows that have history.
func (p *historyPartition) Rows() []int64 {
	return p.heads.Keys()
}

// ForEach visits every chain head.
func (p *historyPartition) ForEach(fn func(head *rowVersion) bool) {
	p.heads.ForEach(func(_ int64, v *rowVersion) bool {
		return fn(v)
	})
}

// Unlink removes one closed version from its chain. The caller holds
// the row's intent lock, so no concurrent Push can race the head swap;
// in-flight readers that already loaded the removed node simply finish
// walking through it.
func (p *historyPartition) Unlink(rowID int64, target *rowVersion) bool {
	head, ok := p.heads.Get(rowID)
	if !ok {
		return false
	}
	if head == target {
		next := target.prev.Load()
		if next == nil {
			p.heads.Del(rowID)
		} else {
			p.heads.Set(rowID, next)
		}
		p.versions.Add(-1)
		return true
	}
	for node := head; node != nil; node = node.prev.Load() {
		if node.prev.Load() == target {
			node.prev.Store(target.prev.Load())
			p.versions.Add(-1)
			return true
		}
	}
	return false
}
