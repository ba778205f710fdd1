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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/minio/highwayhash"
	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/internal/storage"
)

// Record kinds carried in the first payload byte of every frame.
// Catalog drops have no kind of their own: dropping a table or index
// frees its definition record, and the tombstone hides it from replay.
const (
	recordVersion  byte = 1 // a row version, current or closed
	recordFree     byte = 2 // tombstone for a superseded frame
	recordSchema   byte = 3 // catalog: table schema
	recordIndex    byte = 4 // catalog: index definition
	recordManifest byte = 5 // snapshot manifest, never stored in a segment
)

// Frame layout: [uint32 payload length][payload][uint64 checksum],
// little-endian, where payload is the kind byte followed by the bintly
// body and the checksum is HighwayHash-64 over the whole payload.
const frameOverhead = 4 + 8

// defaultSegmentSize bounds one append segment. A frame larger than
// this gets a segment of its own.
const defaultSegmentSize = 4 << 20

// checksumKey seeds HighwayHash; fixed so records verify across
// processes. Must be exactly 32 bytes.
var checksumKey = []byte("tempus.pagestore.checksum.v1////")

// pageRef locates one framed record. Segment ids start at 1, so the
// zero pageRef means "not persisted".
type pageRef struct {
	segment int64
	offset  int64
}

func (r pageRef) valid() bool {
	return r.segment != 0
}

var (
	errRecordNotFound  = errors.New("page store: record not found")
	errPageStoreClosed = errors.New("page store: closed")
)

// segment is one bounded append region: a byte slab in memory mode, a
// numbered file in file mode.
type segment struct {
	id   int64
	buf  []byte
	file *os.File
	size int64
	live int64
}

// pageStore is the append-only framed record store behind one table or
// catalog. File mode persists segments under dir plus a free.log of
// tombstones; memory mode keeps the same framed segments in byte slabs
// so both modes share quota enforcement and checksum verification.
// Records are never rewritten: supersession appends a tombstone, and a
// segment whose records are all dead is dropped whole.
type pageStore struct {
	mu       sync.Mutex
	dir      string
	segSize  int64
	quota    int64
	syncMode storage.SyncMode

	segments map[int64]*segment
	active   *segment
	nextSeg  int64
	freeLog  *os.File
	freed    map[pageRef]struct{}
	used     int64
	pending  int
	closed   bool
}

// syncBatch is how many SyncNormal appends may ride one fsync.
const syncBatch = 64

// newPageStore creates a memory-mode store.
func newPageStore(quota int64) *pageStore {
	return &pageStore{
		segSize:  defaultSegmentSize,
		quota:    quota,
		segments: make(map[int64]*segment),
		freed:    make(map[pageRef]struct{}),
		nextSeg:  1,
	}
}

// openPageStore opens (or creates) a file-mode store rooted at dir and
// loads its segment and tombstone state. Torn frames at the tail of the
// newest segment are trimmed with a warning; a short or mismatched
// frame anywhere else fails with ErrCorruption.
func openPageStore(dir string, quota int64, mode storage.SyncMode) (*pageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("page store: %w", err)
	}
	s := &pageStore{
		dir:      dir,
		segSize:  defaultSegmentSize,
		quota:    quota,
		syncMode: mode,
		segments: make(map[int64]*segment),
		freed:    make(map[pageRef]struct{}),
		nextSeg:  1,
	}
	if err := s.loadFreeLog(); err != nil {
		return nil, err
	}
	if err := s.loadSegments(); err != nil {
		return nil, err
	}
	if err := s.compactFreeLog(); err != nil {
		return nil, err
	}
	return s, nil
}

func segmentName(id int64) string {
	return fmt.Sprintf("%06d.seg", id)
}

func parseSegmentName(name string) (int64, bool) {
	if !strings.HasSuffix(name, ".seg") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ".seg"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *pageStore) loadSegments() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("page store: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		if id, ok := parseSegmentName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		path := filepath.Join(s.dir, segmentName(id))
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("page store: %w", err)
		}
		last := i == len(ids)-1
		good, live, err := s.scanSegment(id, data, last)
		if err != nil {
			return err
		}
		if good < int64(len(data)) {
			fmt.Printf("Warning: page store %s: trimming %d torn bytes from segment %d\n",
				s.dir, int64(len(data))-good, id)
			if err := os.Truncate(path, good); err != nil {
				return fmt.Errorf("page store: %w", err)
			}
		}
		file, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("page store: %w", err)
		}
		if _, err := file.Seek(0, 2); err != nil {
			file.Close()
			return fmt.Errorf("page store: %w", err)
		}
		seg := &segment{id: id, file: file, size: good, live: live}
		s.segments[id] = seg
		s.used += good
		s.active = seg
		if id >= s.nextSeg {
			s.nextSeg = id + 1
		}
	}
	return nil
}

// scanSegment walks the frames of one segment, verifying checksums and
// counting records that are not tombstoned. It returns the byte offset
// of the last complete frame.
func (s *pageStore) scanSegment(id int64, data []byte, tolerateTornTail bool) (good int64, live int64, err error) {
	var off int64
	for off < int64(len(data)) {
		remaining := int64(len(data)) - off
		if remaining < 4 {
			if tolerateTornTail {
				return off, live, nil
			}
			return 0, 0, storage.NewCorruptionError(id, off, 0, 0)
		}
		payloadLen := int64(binary.LittleEndian.Uint32(data[off:]))
		frameLen := frameOverhead + payloadLen
		if payloadLen == 0 || remaining < frameLen {
			if tolerateTornTail {
				return off, live, nil
			}
			return 0, 0, storage.NewCorruptionError(id, off, 0, 0)
		}
		payload := data[off+4 : off+4+payloadLen]
		expected := binary.LittleEndian.Uint64(data[off+4+payloadLen:])
		actual := highwayhash.Sum64(payload, checksumKey)
		if actual != expected {
			return 0, 0, storage.NewCorruptionError(id, off, expected, actual)
		}
		if _, dead := s.freed[pageRef{segment: id, offset: off}]; !dead {
			live++
		}
		off += frameLen
	}
	return off, live, nil
}

func (s *pageStore) freeLogPath() string {
	return filepath.Join(s.dir, "free.log")
}

// loadFreeLog reads the tombstone log. Its frames use the same layout
// as segment frames; a torn tail is trimmed silently since every entry
// is re-derivable damage-free (the worst case is one forgotten free,
// which the next compaction repeats).
func (s *pageStore) loadFreeLog() error {
	data, err := os.ReadFile(s.freeLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("page store: %w", err)
	}
	var off int64
	for off < int64(len(data)) {
		remaining := int64(len(data)) - off
		if remaining < 4 {
			break
		}
		payloadLen := int64(binary.LittleEndian.Uint32(data[off:]))
		frameLen := frameOverhead + payloadLen
		if payloadLen == 0 || remaining < frameLen {
			break
		}
		payload := data[off+4 : off+4+payloadLen]
		expected := binary.LittleEndian.Uint64(data[off+4+payloadLen:])
		if highwayhash.Sum64(payload, checksumKey) != expected {
			return storage.NewCorruptionError(0, off, expected, highwayhash.Sum64(payload, checksumKey))
		}
		if payload[0] == recordFree {
			var rec freeRecord
			if err := decode(payload[1:], &rec); err != nil {
				return fmt.Errorf("page store: %w", err)
			}
			s.freed[pageRef{segment: rec.Segment, offset: rec.Offset}] = struct{}{}
		}
		off += frameLen
	}
	return nil
}

// compactFreeLog rewrites free.log keeping only tombstones whose target
// segment still exists, and drops freed refs for vanished segments.
func (s *pageStore) compactFreeLog() error {
	for ref := range s.freed {
		if _, ok := s.segments[ref.segment]; !ok {
			delete(s.freed, ref)
		}
	}
	tmp := s.freeLogPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("page store: %w", err)
	}
	for ref := range s.freed {
		frame, err := buildFreeFrame(ref)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(frame); err != nil {
			f.Close()
			return fmt.Errorf("page store: %w", err)
		}
	}
	if err := fsyncFile(f); err != nil {
		f.Close()
		return fmt.Errorf("page store: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("page store: %w", err)
	}
	if err := os.Rename(tmp, s.freeLogPath()); err != nil {
		return fmt.Errorf("page store: %w", err)
	}
	s.freeLog, err = os.OpenFile(s.freeLogPath(), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("page store: %w", err)
	}
	return nil
}

// Append frames a payload and appends it to the active segment,
// rolling segments as they fill. Returns the new record's location.
func (s *pageStore) Append(kind byte, body []byte) (pageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pageRef{}, errPageStoreClosed
	}

	payloadLen := int64(1 + len(body))
	frameLen := frameOverhead + payloadLen
	if s.quota > 0 && s.used+frameLen > s.quota {
		return pageRef{}, storage.NewStorageFullError(s.quota, s.used, frameLen)
	}

	seg, err := s.segmentFor(frameLen)
	if err != nil {
		return pageRef{}, err
	}

	frame := common.GetBuffer()
	defer common.PutBuffer(frame)
	appendFrame(frame, kind, body)

	offset := seg.size
	if s.dir == "" {
		seg.buf = append(seg.buf, frame.Bytes()...)
	} else {
		if _, err := seg.file.Write(frame.Bytes()); err != nil {
			if isNoSpace(err) {
				return pageRef{}, storage.NewStorageFullError(s.quota, s.used, frameLen)
			}
			return pageRef{}, fmt.Errorf("page store: %w", err)
		}
		if err := s.maybeSync(seg.file); err != nil {
			return pageRef{}, err
		}
	}
	seg.size += frameLen
	seg.live++
	s.used += frameLen
	return pageRef{segment: seg.id, offset: offset}, nil
}

// appendFrame writes [len][kind+body][checksum] into buf.
func appendFrame(buf *common.ByteBuffer, kind byte, body []byte) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(1+len(body)))
	buf.Write(hdr[:])
	buf.Write([]byte{kind})
	buf.Write(body)
	h, _ := highwayhash.New64(checksumKey)
	h.Write([]byte{kind})
	h.Write(body)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], h.Sum64())
	buf.Write(sum[:])
}

// segmentFor returns the active segment with room for frameLen,
// rolling to a fresh one when needed.
func (s *pageStore) segmentFor(frameLen int64) (*segment, error) {
	if s.active != nil && s.active.size+frameLen <= s.segSize {
		return s.active, nil
	}
	if s.active != nil {
		prev := s.active
		s.active = nil
		if s.dir != "" && s.syncMode != storage.SyncNone {
			if err := fsyncFile(prev.file); err != nil {
				return nil, fmt.Errorf("page store: %w", err)
			}
		}
		if prev.live == 0 {
			s.removeSegment(prev)
		}
	}

	seg := &segment{id: s.nextSeg}
	s.nextSeg++
	if s.dir != "" {
		file, err := os.OpenFile(filepath.Join(s.dir, segmentName(seg.id)),
			os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("page store: %w", err)
		}
		seg.file = file
	}
	s.segments[seg.id] = seg
	s.active = seg
	return seg, nil
}

// Free tombstones the record at ref. Freeing an unknown or already
// freed record is a no-op, which keeps retention re-runs idempotent.
// A data segment with no live records left is dropped whole.
func (s *pageStore) Free(ref pageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errPageStoreClosed
	}
	seg, ok := s.segments[ref.segment]
	if !ok {
		return nil
	}
	if _, dup := s.freed[ref]; dup {
		return nil
	}

	if s.dir != "" {
		frame, err := buildFreeFrame(ref)
		if err != nil {
			return err
		}
		if _, err := s.freeLog.Write(frame); err != nil {
			return fmt.Errorf("page store: %w", err)
		}
		if err := s.maybeSync(s.freeLog); err != nil {
			return err
		}
	}

	s.freed[ref] = struct{}{}
	seg.live--
	if seg.live == 0 && seg != s.active {
		s.removeSegment(seg)
	}
	return nil
}

func buildFreeFrame(ref pageRef) ([]byte, error) {
	body, err := encode(&freeRecord{Segment: ref.segment, Offset: ref.offset})
	if err != nil {
		return nil, err
	}
	buf := common.GetBuffer()
	defer common.PutBuffer(buf)
	appendFrame(buf, recordFree, body)
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// removeSegment drops a fully dead segment and forgets tombstones that
// pointed into it. Caller holds s.mu.
func (s *pageStore) removeSegment(seg *segment) {
	delete(s.segments, seg.id)
	s.used -= seg.size
	for ref := range s.freed {
		if ref.segment == seg.id {
			delete(s.freed, ref)
		}
	}
	if seg.file != nil {
		seg.file.Close()
		if err := os.Remove(filepath.Join(s.dir, segmentName(seg.id))); err != nil {
			fmt.Printf("Warning: page store %s: removing dead segment %d: %v\n", s.dir, seg.id, err)
		}
	}
}

// Get reads one record back, verifying its checksum. Freed and unknown
// refs fail with errRecordNotFound; a checksum mismatch is surfaced as
// ErrCorruption, never masked.
func (s *pageStore) Get(ref pageRef) (byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, errPageStoreClosed
	}
	seg, ok := s.segments[ref.segment]
	if !ok {
		return 0, nil, errRecordNotFound
	}
	if _, dead := s.freed[ref]; dead {
		return 0, nil, errRecordNotFound
	}
	if ref.offset < 0 || ref.offset+4 > seg.size {
		return 0, nil, errRecordNotFound
	}

	var hdr [4]byte
	if err := s.readAt(seg, hdr[:], ref.offset); err != nil {
		return 0, nil, err
	}
	payloadLen := int64(binary.LittleEndian.Uint32(hdr[:]))
	if payloadLen == 0 || ref.offset+frameOverhead+payloadLen > seg.size {
		return 0, nil, storage.NewCorruptionError(ref.segment, ref.offset, 0, 0)
	}
	rest := make([]byte, payloadLen+8)
	if err := s.readAt(seg, rest, ref.offset+4); err != nil {
		return 0, nil, err
	}
	payload := rest[:payloadLen]
	expected := binary.LittleEndian.Uint64(rest[payloadLen:])
	actual := highwayhash.Sum64(payload, checksumKey)
	if actual != expected {
		return 0, nil, storage.NewCorruptionError(ref.segment, ref.offset, expected, actual)
	}
	body := make([]byte, payloadLen-1)
	copy(body, payload[1:])
	return payload[0], body, nil
}

func (s *pageStore) readAt(seg *segment, dst []byte, off int64) error {
	if s.dir == "" {
		if off+int64(len(dst)) > int64(len(seg.buf)) {
			return errRecordNotFound
		}
		copy(dst, seg.buf[off:])
		return nil
	}
	if _, err := seg.file.ReadAt(dst, off); err != nil {
		return fmt.Errorf("page store: %w", err)
	}
	return nil
}

// Replay streams every live record in append order: segments by id,
// frames by offset. Checksums were verified at open for file mode;
// memory stores replay their own slabs the same way.
func (s *pageStore) Replay(fn func(ref pageRef, kind byte, body []byte) error) error {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.segments))
	for id := range s.segments {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sortInt64s(ids)

	for _, id := range ids {
		if err := s.replaySegment(id, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *pageStore) replaySegment(id int64, fn func(ref pageRef, kind byte, body []byte) error) error {
	s.mu.Lock()
	seg, ok := s.segments[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	var data []byte
	if s.dir == "" {
		data = seg.buf
	} else {
		data = make([]byte, seg.size)
		if _, err := seg.file.ReadAt(data, 0); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("page store: %w", err)
		}
	}
	size := seg.size
	s.mu.Unlock()

	var off int64
	for off < size {
		payloadLen := int64(binary.LittleEndian.Uint32(data[off:]))
		frameLen := frameOverhead + payloadLen
		payload := data[off+4 : off+4+payloadLen]
		expected := binary.LittleEndian.Uint64(data[off+4+payloadLen:])
		actual := highwayhash.Sum64(payload, checksumKey)
		if actual != expected {
			return storage.NewCorruptionError(id, off, expected, actual)
		}
		ref := pageRef{segment: id, offset: off}
		s.mu.Lock()
		_, dead := s.freed[ref]
		s.mu.Unlock()
		if !dead && payload[0] != recordFree {
			body := make([]byte, payloadLen-1)
			copy(body, payload[1:])
			if err := fn(ref, payload[0], body); err != nil {
				return err
			}
		}
		off += frameLen
	}
	return nil
}

func (s *pageStore) maybeSync(f *os.File) error {
	switch s.syncMode {
	case storage.SyncFull:
		if err := fsyncFile(f); err != nil {
			return fmt.Errorf("page store: %w", err)
		}
	case storage.SyncNormal:
		s.pending++
		if s.pending >= syncBatch {
			s.pending = 0
			if err := fsyncFile(f); err != nil {
				return fmt.Errorf("page store: %w", err)
			}
		}
	}
	return nil
}

// Sync flushes the active segment and the tombstone log.
func (s *pageStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.dir == "" {
		return nil
	}
	if s.active != nil && s.active.file != nil {
		if err := fsyncFile(s.active.file); err != nil {
			return fmt.Errorf("page store: %w", err)
		}
	}
	if s.freeLog != nil {
		if err := fsyncFile(s.freeLog); err != nil {
			return fmt.Errorf("page store: %w", err)
		}
	}
	s.pending = 0
	return nil
}

// Used reports the bytes held across all segments.
func (s *pageStore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Close flushes and releases every file handle.
func (s *pageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, seg := range s.segments {
		if seg.file != nil {
			if err := fsyncFile(seg.file); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := seg.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if s.freeLog != nil {
		if err := fsyncFile(s.freeLog); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.freeLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Destroy closes the store and removes its directory.
func (s *pageStore) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.dir != "" {
		return os.RemoveAll(s.dir)
	}
	return nil
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
