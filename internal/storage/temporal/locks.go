package temporal

import (
	"time"

	"github.com/tempusdb/tempus/internal/fastmap"
	"github.com/tempusdb/tempus/internal/storage"
)

// rowLock is a single-owner intent lock. The semaphore channel holds
// one token while the lock is taken, which lets acquisition race a
// timer without spinning.
type rowLock struct {
	sem chan struct{}
}

func (l *rowLock) tryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *rowLock) acquire(timeout time.Duration) bool {
	if l.tryAcquire() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (l *rowLock) release() {
	<-l.sem
}

// lockTable serializes writers per logical row. Entries are created on
// first use and kept for the table's lifetime; row ids are never
// reused, so a stale entry costs memory but never correctness.
type lockTable struct {
	locks   *fastmap.SegmentInt64Map[*rowLock]
	timeout time.Duration
}

func newLockTable(timeout time.Duration) *lockTable {
	if timeout <= 0 {
		timeout = storage.DefaultConfig().WriteLockTimeout
	}
	return &lockTable{
		locks:   fastmap.NewSegmentInt64Map[*rowLock](4, 1024),
		timeout: timeout,
	}
}

func (t *lockTable) lockFor(rowID int64) *rowLock {
	if l, ok := t.locks.Get(rowID); ok {
		return l
	}
	l, _ := t.locks.PutIfNotExists(rowID, &rowLock{sem: make(chan struct{}, 1)})
	return l
}

// Acquire blocks until the row's intent lock is held, up to the
// configured timeout, then fails with ErrWriteTimeout. The returned
// function releases the lock and must be called exactly once.
func (t *lockTable) Acquire(rowID int64) (release func(), err error) {
	l := t.lockFor(rowID)
	if !l.acquire(t.timeout) {
		return nil, storage.NewWriteTimeoutError(rowID, t.timeout)
	}
	return l.release, nil
}

// TryAcquire takes the lock only when it is immediately free. Used by
// compaction, which skips contended rows instead of waiting.
func (t *lockTable) TryAcquire(rowID int64) (release func(), ok bool) {
	l := t.lockFor(rowID)
	if !l.tryAcquire() {
		return nil, false
	}
	return l.release, true
}
