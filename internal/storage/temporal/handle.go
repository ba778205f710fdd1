package temporal

import (
	"fmt"
	"sync"

	"github.com/tempusdb/tempus/internal/storage"
)

// BeginWrite takes the row's intent lock and returns a handle good for
// exactly one commit or abort. The lock is held until the handle is
// spent, so concurrent writers on the row wait (bounded by the lock
// timeout) while readers proceed against the published state.
func (t *table) BeginWrite(rowID int64) (storage.WriteHandle, error) {
	release, err := t.locks.Acquire(rowID)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		release()
		return nil, storage.ErrTableClosed
	}
	cur, ok := t.current.Get(rowID)
	t.mu.RUnlock()
	if !ok {
		release()
		return nil, fmt.Errorf("row %d: %w", rowID, storage.ErrRowNotFound)
	}
	return &writeHandle{t: t, rowID: rowID, opened: cur, release: release}, nil
}

// writeHandle is an open write intent on one row. A failed commit
// leaves the handle usable, so the caller can correct the input and
// retry or abort; success and Abort spend it.
type writeHandle struct {
	t       *table
	rowID   int64
	opened  *rowVersion
	release func()

	mu    sync.Mutex
	spent bool
}

func (h *writeHandle) RowID() int64 { return h.rowID }

func (h *writeHandle) Current() storage.VersionedRow {
	return storage.VersionedRow{
		RowID:     h.opened.rowID,
		Data:      h.opened.data.Clone(),
		ValidFrom: h.opened.validFrom,
		ValidTo:   h.opened.validTo,
	}
}

func (h *writeHandle) CommitUpdate(values storage.Row, ts int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spent {
		return storage.ErrWriteAborted
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	if h.t.closed {
		return storage.ErrTableClosed
	}
	// Re-read the current version rather than trusting the one the
	// handle opened against: schema administration may have rewritten
	// the row while the handle was held.
	cur, ok := h.t.current.Get(h.rowID)
	if !ok {
		return fmt.Errorf("row %d: %w", h.rowID, storage.ErrRowNotFound)
	}
	if err := h.t.commitUpdate(cur, values, ts); err != nil {
		return err
	}
	h.spent = true
	h.release()
	return nil
}

func (h *writeHandle) CommitDelete(ts int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spent {
		return storage.ErrWriteAborted
	}
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	if h.t.closed {
		return storage.ErrTableClosed
	}
	cur, ok := h.t.current.Get(h.rowID)
	if !ok {
		return fmt.Errorf("row %d: %w", h.rowID, storage.ErrRowNotFound)
	}
	if err := h.t.commitDelete(cur, ts); err != nil {
		return err
	}
	h.spent = true
	h.release()
	return nil
}

func (h *writeHandle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spent {
		return storage.ErrWriteAborted
	}
	h.spent = true
	h.release()
	return nil
}
