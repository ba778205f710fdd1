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
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/internal/storage"
)

// CompactHistory walks the history chains and purges closed versions
// whose ValidTo lies strictly below horizon. Work is chunked: each
// chunk locks the rows it touches with TryAcquire (contended rows are
// skipped and picked up by a later run), archives the doomed versions
// when an archive is configured, and only then unlinks them. A chunk
// that fails to archive purges nothing, so re-running is always safe.
func (t *table) CompactHistory(ctx context.Context, horizon int64) (storage.CompactStats, error) {
	stats := storage.CompactStats{Horizon: horizon}
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return stats, storage.ErrTableClosed
	}
	chunkSize := t.opts.chunkSize
	if chunkSize <= 0 {
		chunkSize = storage.DefaultRetentionConfig().ChunkSize
	}
	pending := t.history.Rows()
	t.mu.RUnlock()

	// The table lock is reacquired per chunk so schema changes and
	// Close can interleave with a sweep over a large history.
	var chunk compactChunk
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		t.mu.RLock()
		if t.closed {
			t.mu.RUnlock()
			return stats, storage.ErrTableClosed
		}
		for len(pending) > 0 && chunk.examined < chunkSize {
			t.examineRow(pending[0], horizon, &chunk, &stats)
			pending = pending[1:]
		}
		t.flushChunk(ctx, &chunk, &stats)
		t.mu.RUnlock()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return stats, storage.ErrTableClosed
	}
	// Tombstones from the sweep ride the batched fsync path.
	if err := t.store.Sync(); err != nil {
		return stats, err
	}
	return stats, nil
}

// compactChunk accumulates one lock window's worth of rows: their held
// releases and the versions picked for purging.
type compactChunk struct {
	releases []func()
	rows     []int64
	purge    [][]*rowVersion
	examined int
}

func (c *compactChunk) reset() {
	c.releases = c.releases[:0]
	c.rows = c.rows[:0]
	c.purge = c.purge[:0]
	c.examined = 0
}

func (c *compactChunk) abandon() {
	for _, release := range c.releases {
		release()
	}
	c.reset()
}

// examineRow locks one row and collects its expired versions into the
// chunk. Rows that are write-locked right now are skipped; the lock
// stays held until the chunk flushes so the chain cannot change under
// the pending purge.
func (t *table) examineRow(rowID, horizon int64, chunk *compactChunk, stats *storage.CompactStats) {
	release, ok := t.locks.TryAcquire(rowID)
	if !ok {
		return
	}
	head, ok := t.history.Head(rowID)
	if !ok {
		release()
		return
	}
	var doomed []*rowVersion
	for v := head; v != nil; v = v.prev.Load() {
		chunk.examined++
		stats.Examined++
		if v.validTo < horizon {
			doomed = append(doomed, v)
		}
	}
	if len(doomed) == 0 {
		release()
		return
	}
	chunk.releases = append(chunk.releases, release)
	chunk.rows = append(chunk.rows, rowID)
	chunk.purge = append(chunk.purge, doomed)
}

// flushChunk archives and unlinks everything the chunk gathered, then
// releases its row locks. An archive failure abandons the chunk with a
// warning; the versions stay in place for the next run.
func (t *table) flushChunk(ctx context.Context, chunk *compactChunk, stats *storage.CompactStats) {
	defer chunk.abandon()
	total := 0
	for _, doomed := range chunk.purge {
		total += len(doomed)
	}
	if total == 0 {
		return
	}
	stats.Chunks++

	if t.opts.archive != nil {
		all := make([]*rowVersion, 0, total)
		for _, doomed := range chunk.purge {
			all = append(all, doomed...)
		}
		if err := t.opts.archive.store(ctx, t.name, all); err != nil {
			stats.Failed++
			fmt.Printf("Warning: table %s: archiving %d versions: %v\n", t.name, len(all), err)
			return
		}
		stats.Archived += int64(len(all))
	}

	for i, rowID := range chunk.rows {
		for _, v := range chunk.purge[i] {
			if t.history.Unlink(rowID, v) {
				stats.Purged++
				t.freeRef(v.ref)
			}
		}
	}
}

// archiveSink writes purged versions to a file-service URL before they
// are dropped. Each flushed chunk becomes one object of framed version
// records, the same layout the page store uses.
type archiveSink struct {
	fs      afs.Service
	baseURL string
}

func newArchiveSink(baseURL string) *archiveSink {
	return &archiveSink{fs: afs.New(), baseURL: baseURL}
}

func (a *archiveSink) store(ctx context.Context, table string, versions []*rowVersion) error {
	buf := common.GetBuffer()
	defer common.PutBuffer(buf)
	for _, v := range versions {
		body, err := encode(&versionRecord{
			RowID:     v.rowID,
			Data:      v.data,
			ValidFrom: v.validFrom,
			ValidTo:   v.validTo,
		})
		if err != nil {
			return err
		}
		appendFrame(buf, recordVersion, body)
	}
	target := url.Join(a.baseURL, fmt.Sprintf("%s-%s.arc", table, uuid.New().String()))
	return a.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(buf.Bytes()))
}

// compactor periodically sweeps every table, purging versions older
// than the configured horizon.
type compactor struct {
	interval time.Duration
	horizon  time.Duration
	clock    *clock
	tables   func() []*table

	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

func newCompactor(cfg storage.RetentionConfig, clock *clock, tables func() []*table) *compactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &compactor{
		interval: cfg.Interval,
		horizon:  cfg.Horizon,
		clock:    clock,
		tables:   tables,
		cancel:   cancel,
		ctx:      ctx,
		done:     make(chan struct{}),
	}
}

func (c *compactor) start() {
	go c.run()
}

func (c *compactor) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *compactor) sweep() {
	horizon := c.clock.Now() - c.horizon.Nanoseconds()
	for _, t := range c.tables() {
		_, err := t.CompactHistory(c.ctx, horizon)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, storage.ErrTableClosed) {
			fmt.Printf("Warning: table %s: retention sweep: %v\n", t.Name(), err)
		}
	}
}

// stop ends the sweep loop and waits for an in-flight sweep to yield.
func (c *compactor) stop() {
	c.cancel()
	<-c.done
}
