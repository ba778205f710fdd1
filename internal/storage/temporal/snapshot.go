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
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/highwayhash"
	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/internal/storage"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/bintly"
)

const (
	snapshotManifestName = "manifest.bin"
	snapshotSuffix       = ".snap"
)

// snapshotTable is the manifest entry for one table: its definition,
// index specs and the number of version records in its data object. The
// data object is named <table>.snap next to the manifest.
type snapshotTable struct {
	Schema    *storage.Schema
	Versioned bool
	NextRowID int64
	Specs     []storage.IndexSpec
	Versions  int64
}

func (st *snapshotTable) EncodeBinary(w *bintly.Writer) error {
	rec := schemaRecord{Schema: st.Schema, Versioned: st.Versioned, NextRowID: st.NextRowID}
	if err := rec.EncodeBinary(w); err != nil {
		return err
	}
	w.Int16(int16(len(st.Specs)))
	for _, spec := range st.Specs {
		idx := indexRecord{Table: st.Schema.TableName, Spec: spec}
		if err := idx.EncodeBinary(w); err != nil {
			return err
		}
	}
	w.Int64(st.Versions)
	return nil
}

func (st *snapshotTable) DecodeBinary(r *bintly.Reader) error {
	var rec schemaRecord
	if err := rec.DecodeBinary(r); err != nil {
		return err
	}
	st.Schema = rec.Schema
	st.Versioned = rec.Versioned
	st.NextRowID = rec.NextRowID
	var n int16
	r.Int16(&n)
	st.Specs = make([]storage.IndexSpec, n)
	for i := range st.Specs {
		var idx indexRecord
		if err := idx.DecodeBinary(r); err != nil {
			return err
		}
		st.Specs[i] = idx.Spec
	}
	r.Int64(&st.Versions)
	return nil
}

// snapshotManifest describes one complete snapshot. It is uploaded
// after every data object, so its presence marks the snapshot usable: a
// folder without one is an aborted write and is never restored from.
type snapshotManifest struct {
	ID        string
	CreatedAt time.Time
	ClockTS   int64
	Tables    []snapshotTable
}

func (m *snapshotManifest) EncodeBinary(w *bintly.Writer) error {
	w.String(m.ID)
	w.Time(m.CreatedAt)
	w.Int64(m.ClockTS)
	w.Int16(int16(len(m.Tables)))
	for i := range m.Tables {
		if err := m.Tables[i].EncodeBinary(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *snapshotManifest) DecodeBinary(r *bintly.Reader) error {
	r.String(&m.ID)
	r.Time(&m.CreatedAt)
	r.Int64(&m.ClockTS)
	var n int16
	r.Int16(&n)
	m.Tables = make([]snapshotTable, n)
	for i := range m.Tables {
		if err := m.Tables[i].DecodeBinary(r); err != nil {
			return err
		}
	}
	return nil
}

// snapshotState dumps every version visible at rt together with the
// table definition. Closes that landed after rt read as still open, so
// the dump is exactly what a scan pinned at rt would observe.
func (t *table) snapshotState(rt int64) (snapshotTable, []byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return snapshotTable{}, nil, storage.ErrTableClosed
	}

	s := acquireScanner()
	defer s.Close()
	t.collect(s, storage.AllVersions(), rt)

	buf := common.GetBuffer()
	defer common.PutBuffer(buf)
	for _, v := range s.versions {
		body, err := encode(&versionRecord{
			RowID:     v.rowID,
			Data:      v.data,
			ValidFrom: v.validFrom,
			ValidTo:   v.clampedValidTo(rt),
		})
		if err != nil {
			return snapshotTable{}, nil, err
		}
		appendFrame(buf, recordVersion, body)
	}
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	meta := snapshotTable{
		Schema:    t.schema.Clone(),
		Versioned: t.versioned,
		NextRowID: t.nextRowID.Load(),
		Versions:  int64(len(s.versions)),
	}
	for _, name := range t.idxOrder {
		meta.Specs = append(meta.Specs, t.indexes[name].Spec())
	}
	return meta, data, nil
}

// snapshotter writes and reads whole-engine snapshots under one base
// URL. Each snapshot occupies a folder named by its pinned clock
// timestamp, zero padded so lexicographic and chronological order
// agree.
type snapshotter struct {
	fs      afs.Service
	baseURL string
	keep    int

	// mu serializes create, prune and restore; they reason about the
	// folder listing as a whole.
	mu sync.Mutex
}

func newSnapshotter(baseURL string, keep int) *snapshotter {
	return &snapshotter{fs: afs.New(), baseURL: baseURL, keep: keep}
}

// create snapshots every table at one shared read timestamp. Per-table
// pins could disagree about a commit landing between them; one pin
// keeps the image consistent across tables. Writers are never blocked:
// each table dump runs under the same snapshot protocol as a scan.
func (s *snapshotter) create(ctx context.Context, clock *clock, tables []*table) (*snapshotManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt := clock.Now()
	id := snapshotID(rt)
	manifest := &snapshotManifest{
		ID:        id,
		CreatedAt: time.Now(),
		ClockTS:   rt,
	}

	for _, t := range tables {
		meta, data, err := t.snapshotState(rt)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: table %s: %w", id, t.Name(), err)
		}
		target := url.Join(s.baseURL, id, meta.Schema.TableName+snapshotSuffix)
		if err := s.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", id, err)
		}
		manifest.Tables = append(manifest.Tables, meta)
	}

	body, err := encode(manifest)
	if err != nil {
		return nil, err
	}
	buf := common.GetBuffer()
	defer common.PutBuffer(buf)
	appendFrame(buf, recordManifest, body)
	target := url.Join(s.baseURL, id, snapshotManifestName)
	if err := s.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}

	if err := s.pruneLocked(ctx); err != nil {
		fmt.Printf("Warning: pruning snapshots under %s: %v\n", s.baseURL, err)
	}
	return manifest, nil
}

func snapshotID(rt int64) string {
	return fmt.Sprintf("%020d", rt)
}

// folderURL returns the URL of one snapshot's folder.
func (s *snapshotter) folderURL(id string) string {
	return url.Join(s.baseURL, id)
}

// pruneLocked drops all but the newest keep complete snapshots. Folders
// without a manifest are aborted writes and are dropped regardless of
// age. Caller holds s.mu.
func (s *snapshotter) pruneLocked(ctx context.Context) error {
	if s.keep <= 0 {
		return nil
	}
	complete, aborted, err := s.listIDs(ctx)
	if err != nil {
		return err
	}
	doomed := aborted
	if len(complete) > s.keep {
		doomed = append(doomed, complete[:len(complete)-s.keep]...)
	}
	for _, id := range doomed {
		if err := s.fs.Delete(ctx, url.Join(s.baseURL, id)); err != nil {
			return err
		}
	}
	return nil
}

// listIDs partitions the snapshot folders into complete ids, ascending,
// and manifest-less leftovers. A base URL that does not exist yet means
// no snapshots, not an error.
func (s *snapshotter) listIDs(ctx context.Context) (complete, aborted []string, err error) {
	if ok, _ := s.fs.Exists(ctx, s.baseURL); !ok {
		return nil, nil, nil
	}
	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, nil, err
	}
	basePath := url.Path(s.baseURL)
	for _, object := range objects {
		if !object.IsDir() || url.Path(object.URL()) == basePath {
			continue
		}
		name := strings.TrimSuffix(object.Name(), "/")
		if _, err := strconv.ParseInt(name, 10, 64); err != nil {
			continue
		}
		if ok, _ := s.fs.Exists(ctx, url.Join(s.baseURL, name, snapshotManifestName)); ok {
			complete = append(complete, name)
		} else {
			aborted = append(aborted, name)
		}
	}
	sort.Strings(complete)
	return complete, aborted, nil
}

// latest returns the newest complete snapshot's manifest.
func (s *snapshotter) latest(ctx context.Context) (*snapshotManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	complete, _, err := s.listIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(complete) == 0 {
		return nil, storage.ErrSnapshotNotFound
	}
	return s.manifestAt(ctx, s.folderURL(complete[len(complete)-1]))
}

// manifestAt downloads and verifies the manifest in a snapshot folder.
func (s *snapshotter) manifestAt(ctx context.Context, folder string) (*snapshotManifest, error) {
	data, err := s.fs.DownloadWithURL(ctx, url.Join(folder, snapshotManifestName))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", folder, err)
	}
	var m snapshotManifest
	seen := false
	err = walkFrames(data, func(kind byte, body []byte) error {
		if kind != recordManifest || seen {
			return fmt.Errorf("unexpected record kind %d", kind)
		}
		seen = true
		return decode(body, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", folder, err)
	}
	if !seen {
		return nil, fmt.Errorf("snapshot %s: empty manifest", folder)
	}
	return &m, nil
}

// dataAt downloads one table's version records from a snapshot folder.
func (s *snapshotter) dataAt(ctx context.Context, folder, table string) ([]byte, error) {
	return s.fs.DownloadWithURL(ctx, url.Join(folder, table+snapshotSuffix))
}

// walkFrames verifies and visits every frame of a standalone object,
// snapshot or archive. Objects are uploaded whole, so unlike segment
// replay a torn tail is corruption, not a crash artifact.
func walkFrames(data []byte, fn func(kind byte, body []byte) error) error {
	var off int64
	for off < int64(len(data)) {
		remaining := int64(len(data)) - off
		if remaining < 4 {
			return storage.NewCorruptionError(0, off, 0, 0)
		}
		payloadLen := int64(binary.LittleEndian.Uint32(data[off:]))
		frameLen := frameOverhead + payloadLen
		if payloadLen == 0 || remaining < frameLen {
			return storage.NewCorruptionError(0, off, 0, 0)
		}
		payload := data[off+4 : off+4+payloadLen]
		expected := binary.LittleEndian.Uint64(data[off+4+payloadLen:])
		actual := highwayhash.Sum64(payload, checksumKey)
		if actual != expected {
			return storage.NewCorruptionError(0, off, expected, actual)
		}
		if err := fn(payload[0], payload[1:]); err != nil {
			return err
		}
		off += frameLen
	}
	return nil
}

// walkVersionFrames decodes the version records of one data object.
func walkVersionFrames(data []byte, fn func(rec *versionRecord) error) error {
	return walkFrames(data, func(kind byte, body []byte) error {
		if kind != recordVersion {
			return fmt.Errorf("unexpected record kind %d in version data", kind)
		}
		var rec versionRecord
		if err := decode(body, &rec); err != nil {
			return err
		}
		return fn(&rec)
	})
}
