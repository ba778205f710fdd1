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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/tempusdb/tempus/internal/storage"
)

func snapshotBase(t *testing.T) string {
	t.Helper()
	return "mem://localhost/snapshots/" + uuid.New().String()
}

func TestSnapshotCreateAndLatest(t *testing.T) {
	ctx := context.Background()
	clk := newClock()

	employees := newTable(employeeSchema(), clk, newPageStore(0), newPageStore(0), pageRef{}, tableOptions{})
	require.NoError(t, employees.CreateIndex(storage.IndexSpec{Name: "by_dept", Columns: []string{"dept"}}))
	require.NoError(t, employees.Insert(1, employee(1, "alice", 50000, "eng"), 100))
	require.NoError(t, employees.Update(1, employee(1, "alice", 55000, "eng"), 200))

	teamSchema := employeeSchema()
	teamSchema.TableName = "teams"
	teams := newTable(teamSchema, clk, newPageStore(0), newPageStore(0), pageRef{}, tableOptions{})
	require.NoError(t, teams.Insert(1, employee(1, "core", 0, "eng"), 300))

	snap := newSnapshotter(snapshotBase(t), 3)
	manifest, err := snap.create(ctx, clk, []*table{employees, teams})
	require.NoError(t, err)
	require.Equal(t, snapshotID(manifest.ClockTS), manifest.ID)
	require.Len(t, manifest.Tables, 2)

	emp := manifest.Tables[0]
	require.Equal(t, "employees", emp.Schema.TableName)
	require.Equal(t, int64(2), emp.Versions)
	require.Equal(t, int64(2), emp.NextRowID)
	require.True(t, emp.Versioned)
	require.Len(t, emp.Specs, 1)
	require.Equal(t, "by_dept", emp.Specs[0].Name)
	require.Equal(t, int64(1), manifest.Tables[1].Versions)

	// latest resolves the same manifest through the folder listing.
	got, err := snap.latest(ctx)
	require.NoError(t, err)
	require.Equal(t, manifest.ID, got.ID)
	require.Equal(t, manifest.ClockTS, got.ClockTS)
	require.Len(t, got.Tables, 2)

	// The data object holds exactly the manifest's version count and
	// round-trips through the frame walker.
	data, err := snap.dataAt(ctx, snap.folderURL(got.ID), "employees")
	require.NoError(t, err)
	var seen int64
	require.NoError(t, walkVersionFrames(data, func(rec *versionRecord) error {
		seen++
		require.Equal(t, int64(1), rec.RowID)
		return nil
	}))
	require.Equal(t, emp.Versions, seen)
}

func TestSnapshotLatestEmpty(t *testing.T) {
	snap := newSnapshotter(snapshotBase(t), 3)
	_, err := snap.latest(context.Background())
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestSnapshotStateClampsOpenVersions(t *testing.T) {
	tbl := newTestTable(t)
	require.NoError(t, tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100))
	require.NoError(t, tbl.Update(1, employee(1, "alice", 55000, "eng"), 200))

	// Pinned before the update: the close at 200 has not happened from
	// the snapshot's point of view, so the first version reads open and
	// the second does not exist.
	meta, data, err := tbl.snapshotState(150)
	require.NoError(t, err)
	require.Equal(t, int64(1), meta.Versions)

	var recs []*versionRecord
	require.NoError(t, walkVersionFrames(data, func(rec *versionRecord) error {
		cp := *rec
		recs = append(recs, &cp)
		return nil
	}))
	require.Len(t, recs, 1)
	require.Equal(t, int64(100), recs[0].ValidFrom)
	require.Equal(t, storage.MaxTimestamp, recs[0].ValidTo)
	salary, _ := recs[0].Data[2].AsFloat64()
	require.Equal(t, float64(50000), salary)
}

func TestSnapshotPrune(t *testing.T) {
	ctx := context.Background()
	base := snapshotBase(t)
	clk := newClock()
	tbl := newTable(employeeSchema(), clk, newPageStore(0), newPageStore(0), pageRef{}, tableOptions{})
	require.NoError(t, tbl.Insert(1, employee(1, "alice", 50000, "eng"), 0))

	snap := newSnapshotter(base, 2)

	// An aborted folder: data without a manifest. Pruning removes it no
	// matter how new it looks.
	fs := afs.New()
	aborted := fmt.Sprintf("%020d", int64(1)<<62)
	require.NoError(t, fs.Upload(ctx, url.Join(base, aborted, "employees"+snapshotSuffix),
		file.DefaultFileOsMode, bytes.NewReader([]byte{1})))

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := snap.create(ctx, clk, []*table{tbl})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	complete, abortedLeft, err := snap.listIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, abortedLeft)
	require.Equal(t, []string{ids[1], ids[2]}, complete)

	ok, _ := fs.Exists(ctx, url.Join(base, aborted))
	require.False(t, ok, "aborted snapshot folder must be pruned")
	ok, _ = fs.Exists(ctx, url.Join(base, ids[0]))
	require.False(t, ok, "oldest snapshot beyond keep must be pruned")

	latest, err := snap.latest(ctx)
	require.NoError(t, err)
	require.Equal(t, ids[2], latest.ID)
}

func TestSnapshotManifestCorruption(t *testing.T) {
	ctx := context.Background()
	base := snapshotBase(t)
	clk := newClock()
	tbl := newTable(employeeSchema(), clk, newPageStore(0), newPageStore(0), pageRef{}, tableOptions{})
	require.NoError(t, tbl.Insert(1, employee(1, "alice", 50000, "eng"), 0))

	snap := newSnapshotter(base, 0)
	manifest, err := snap.create(ctx, clk, []*table{tbl})
	require.NoError(t, err)

	// Flip one payload byte; the frame checksum catches it.
	fs := afs.New()
	target := url.Join(base, manifest.ID, snapshotManifestName)
	data, err := fs.DownloadWithURL(ctx, target)
	require.NoError(t, err)
	data[6] ^= 0xFF
	require.NoError(t, fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)))

	_, err = snap.latest(ctx)
	var corrupt *storage.ErrCorruption
	require.True(t, errors.As(err, &corrupt), "expected corruption, got %v", err)
}
