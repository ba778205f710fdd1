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
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"

	"github.com/tempusdb/tempus/internal/storage"
)

func TestCompactHistoryPurgesBelowHorizon(t *testing.T) {
	tbl := timelineTable(t)
	ctx := context.Background()

	// Only versions that ended strictly before the horizon go. The
	// version closed exactly at the horizon survives.
	stats, err := tbl.CompactHistory(ctx, 300)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Horizon != 300 {
		t.Errorf("Expected horizon 300, got %d", stats.Horizon)
	}
	if stats.Examined != 3 {
		t.Errorf("Expected 3 examined, got %d", stats.Examined)
	}
	if stats.Purged != 1 {
		t.Errorf("Expected 1 purged, got %d", stats.Purged)
	}
	if stats.Archived != 0 || stats.Failed != 0 {
		t.Errorf("Expected no archiving without a sink, got %+v", stats)
	}
	if got := tbl.Stats().HistoryVersions; got != 2 {
		t.Errorf("Expected 2 history versions left, got %d", got)
	}

	// The purged span is gone from temporal reads; surviving spans and
	// the current partition still answer.
	s, err := tbl.Scan(storage.AsOf(150))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	rows := drain(t, s)
	if len(rows) != 1 || rows[0].RowID != 2 {
		t.Errorf("Expected only row 2 at 150 after purge, got %+v", rows)
	}

	// A horizon above every closed version drains the history.
	stats, err = tbl.CompactHistory(ctx, storage.MaxTimestamp)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Purged != 2 {
		t.Errorf("Expected 2 purged, got %d", stats.Purged)
	}
	if got := tbl.Stats().HistoryVersions; got != 0 {
		t.Errorf("Expected drained history, got %d versions", got)
	}
	got, ok := tbl.GetCurrent(1)
	if !ok {
		t.Fatalf("Current row must survive compaction")
	}
	if salary := salaryOf(t, got.Data); salary != 60000 {
		t.Errorf("Expected current salary 60000, got %v", salary)
	}

	// Idempotent on an empty history.
	stats, err = tbl.CompactHistory(ctx, storage.MaxTimestamp)
	if err != nil || stats.Purged != 0 {
		t.Errorf("Expected clean no-op, got %+v err=%v", stats, err)
	}
}

func TestCompactHistoryChunking(t *testing.T) {
	tbl := newTable(employeeSchema(), newClock(), newPageStore(0), newPageStore(0),
		pageRef{}, tableOptions{chunkSize: 1})
	for id := int64(1); id <= 3; id++ {
		if err := tbl.Insert(id, employee(id, "e", 1000, "eng"), 100*id); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := tbl.Update(id, employee(id, "e", 2000, "eng"), 100*id+50); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	stats, err := tbl.CompactHistory(context.Background(), storage.MaxTimestamp)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Chunks != 3 {
		t.Errorf("Expected one chunk per row at chunk size 1, got %d", stats.Chunks)
	}
	if stats.Purged != 3 {
		t.Errorf("Expected 3 purged, got %d", stats.Purged)
	}
}

func TestCompactHistoryContextCancelled(t *testing.T) {
	tbl := timelineTable(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := tbl.CompactHistory(ctx, storage.MaxTimestamp)
	if err != context.Canceled {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if stats.Purged != 0 {
		t.Errorf("Expected nothing purged, got %d", stats.Purged)
	}
	if got := tbl.Stats().HistoryVersions; got != 3 {
		t.Errorf("Expected history intact, got %d versions", got)
	}
}

func TestCompactHistorySkipsLockedRows(t *testing.T) {
	tbl := timelineTable(t)
	ctx := context.Background()

	h, err := tbl.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}

	// Row 1 is write-locked and skipped without blocking; row 2 purges.
	stats, err := tbl.CompactHistory(ctx, storage.MaxTimestamp)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Purged != 1 {
		t.Errorf("Expected only unlocked row purged, got %d", stats.Purged)
	}

	if err := h.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	stats, err = tbl.CompactHistory(ctx, storage.MaxTimestamp)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Purged != 2 {
		t.Errorf("Expected skipped row purged on rerun, got %d", stats.Purged)
	}
}

func TestCompactHistoryYieldsTableLock(t *testing.T) {
	tbl := newTable(employeeSchema(), newClock(), newPageStore(0), newPageStore(0), pageRef{},
		tableOptions{chunkSize: 1})
	const rows = 4096
	for id := int64(1); id <= rows; id++ {
		if err := tbl.Insert(id, employee(id, "e", 1000, "eng"), 100); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := tbl.Update(id, employee(id, "e", 2000, "eng"), 200); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	sweepErr := make(chan error, 1)
	go func() {
		_, err := tbl.CompactHistory(context.Background(), storage.MaxTimestamp)
		sweepErr <- err
	}()

	// Wait for the first chunks to flush, then close the table. Close
	// needs the exclusive table lock, so it only returns mid-sweep if
	// the sweep releases the shared lock between chunks; the cut-off
	// sweep then reports the close instead of finishing.
	deadline := time.Now().Add(10 * time.Second)
	for tbl.Stats().HistoryVersions == rows {
		if time.Now().After(deadline) {
			t.Fatal("Sweep made no progress")
		}
		time.Sleep(50 * time.Microsecond)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := <-sweepErr; !errors.Is(err, storage.ErrTableClosed) {
		t.Fatalf("Expected ErrTableClosed from the interrupted sweep, got %v", err)
	}
}

func TestCompactHistoryArchives(t *testing.T) {
	base := "mem://localhost/retention/" + uuid.New().String()
	tbl := newTable(employeeSchema(), newClock(), newPageStore(0), newPageStore(0),
		pageRef{}, tableOptions{archive: newArchiveSink(base)})

	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tbl.Update(1, employee(1, "alice", 55000, "eng"), 200); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := tbl.Update(1, employee(1, "alice", 60000, "eng"), 300); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	ctx := context.Background()
	stats, err := tbl.CompactHistory(ctx, storage.MaxTimestamp)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Purged != 2 || stats.Archived != 2 || stats.Failed != 0 {
		t.Fatalf("Expected 2 archived and purged, got %+v", stats)
	}

	// One flushed chunk became one archive object.
	fs := afs.New()
	objects, err := fs.List(ctx, base)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var archived []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.Name(), ".arc") {
			archived = append(archived, obj.URL())
		}
	}
	if len(archived) != 1 {
		t.Fatalf("Expected one archive object, got %d", len(archived))
	}
	if !strings.Contains(archived[0], tbl.Name()+"-") {
		t.Errorf("Expected table name in archive object, got %s", archived[0])
	}

	data, err := fs.DownloadWithURL(ctx, archived[0])
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	type span struct{ from, to int64 }
	var spans []span
	err = walkVersionFrames(data, func(rec *versionRecord) error {
		if rec.RowID != 1 {
			t.Errorf("Expected row 1 in archive, got %d", rec.RowID)
		}
		spans = append(spans, span{rec.ValidFrom, rec.ValidTo})
		return nil
	})
	if err != nil {
		t.Fatalf("Archive frames unreadable: %v", err)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
	want := []span{{100, 200}, {200, 300}}
	for i, w := range want {
		if i >= len(spans) || spans[i] != w {
			t.Fatalf("Expected archived spans %v, got %v", want, spans)
		}
	}
}

func TestCompactHistoryArchiveFailureKeepsVersions(t *testing.T) {
	tbl := newTable(employeeSchema(), newClock(), newPageStore(0), newPageStore(0),
		pageRef{}, tableOptions{archive: newArchiveSink("bogus://nowhere/arc")})

	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tbl.Update(1, employee(1, "alice", 55000, "eng"), 200); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	stats, err := tbl.CompactHistory(context.Background(), storage.MaxTimestamp)
	if err != nil {
		t.Fatalf("CompactHistory failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed chunk, got %d", stats.Failed)
	}
	if stats.Purged != 0 || stats.Archived != 0 {
		t.Errorf("Failed archive must purge nothing, got %+v", stats)
	}
	if got := tbl.Stats().HistoryVersions; got != 1 {
		t.Errorf("Expected history intact after failed archive, got %d", got)
	}
}
