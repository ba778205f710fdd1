package temporal

import (
	"errors"
	"sort"
	"testing"

	"github.com/tempusdb/tempus/internal/storage"
)

// scanAll runs a query against a table and drains the result.
func scanAll(t *testing.T, tbl *table, q storage.TemporalQuery) []storage.VersionedRow {
	t.Helper()
	s, err := tbl.Scan(q)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return drain(t, s)
}

// drain consumes an open scanner into a slice and closes it.
func drain(t *testing.T, s storage.Scanner) []storage.VersionedRow {
	t.Helper()
	defer s.Close()
	var rows []storage.VersionedRow
	for s.Next() {
		rows = append(rows, s.Version())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	return rows
}

// timelineTable builds the fixture the temporal mode tests share:
//
//	t=100  row 1 inserted (salary 50000), row 2 inserted (salary 60000)
//	t=200  row 1 updated  (salary 55000)
//	t=300  row 2 deleted
//	t=400  row 1 updated  (salary 60000)
//
// leaving row 1 with versions [100,200) [200,400) [400,max) and row 2
// with the single closed version [100,300).
func timelineTable(t *testing.T) *table {
	t.Helper()
	tbl := newTestTable(t)
	steps := []struct {
		op    string
		rowID int64
		row   storage.Row
		ts    int64
	}{
		{"insert", 1, employee(1, "alice", 50000, "eng"), 100},
		{"insert", 2, employee(2, "bob", 60000, "ops"), 100},
		{"update", 1, employee(1, "alice", 55000, "eng"), 200},
		{"delete", 2, nil, 300},
		{"update", 1, employee(1, "alice", 60000, "eng"), 400},
	}
	for _, s := range steps {
		var err error
		switch s.op {
		case "insert":
			err = tbl.Insert(s.rowID, s.row, s.ts)
		case "update":
			err = tbl.Update(s.rowID, s.row, s.ts)
		case "delete":
			err = tbl.Delete(s.rowID, s.ts)
		}
		if err != nil {
			t.Fatalf("%s row %d at %d failed: %v", s.op, s.rowID, s.ts, err)
		}
	}
	return tbl
}

type wantVersion struct {
	rowID     int64
	salary    float64
	validFrom int64
	validTo   int64
}

func checkVersions(t *testing.T, rows []storage.VersionedRow, want []wantVersion) {
	t.Helper()
	if len(rows) != len(want) {
		t.Fatalf("Expected %d versions, got %d: %+v", len(want), len(rows), rows)
	}
	for i, w := range want {
		got := rows[i]
		if got.RowID != w.rowID {
			t.Errorf("version %d: expected row %d, got %d", i, w.rowID, got.RowID)
		}
		if salaryOf(t, got.Data) != w.salary {
			t.Errorf("version %d: expected salary %v, got %v", i, w.salary, salaryOf(t, got.Data))
		}
		if got.ValidFrom != w.validFrom || got.ValidTo != w.validTo {
			t.Errorf("version %d: expected interval [%d, %d), got [%d, %d)",
				i, w.validFrom, w.validTo, got.ValidFrom, got.ValidTo)
		}
	}
}

func TestScanTemporalModes(t *testing.T) {
	tbl := timelineTable(t)
	const open = storage.MaxTimestamp

	testCases := []struct {
		name  string
		query storage.TemporalQuery
		want  []wantVersion
	}{
		{
			name:  "current",
			query: storage.Current(),
			want:  []wantVersion{{1, 60000, 400, open}},
		},
		{
			name:  "as_of_before_everything",
			query: storage.AsOf(50),
			want:  nil,
		},
		{
			name:  "as_of_first_state",
			query: storage.AsOf(150),
			want:  []wantVersion{{1, 50000, 100, 200}, {2, 60000, 100, 300}},
		},
		{
			name:  "as_of_at_transition",
			query: storage.AsOf(200),
			want:  []wantVersion{{1, 55000, 200, 400}, {2, 60000, 100, 300}},
		},
		{
			name:  "as_of_after_delete",
			query: storage.AsOf(350),
			want:  []wantVersion{{1, 55000, 200, 400}},
		},
		{
			name:  "from_to_excludes_end_birth",
			query: storage.FromTo(300, 400),
			want:  []wantVersion{{1, 55000, 200, 400}},
		},
		{
			name:  "between_includes_end_birth",
			query: storage.Between(300, 400),
			want:  []wantVersion{{1, 55000, 200, 400}, {1, 60000, 400, open}},
		},
		{
			name:  "from_to_excludes_start_death",
			query: storage.FromTo(200, 250),
			want:  []wantVersion{{1, 55000, 200, 400}, {2, 60000, 100, 300}},
		},
		{
			name:  "contained_in",
			query: storage.ContainedIn(100, 400),
			want: []wantVersion{
				{1, 50000, 100, 200}, {1, 55000, 200, 400}, {2, 60000, 100, 300},
			},
		},
		{
			name:  "all_versions",
			query: storage.AllVersions(),
			want: []wantVersion{
				{1, 50000, 100, 200}, {1, 55000, 200, 400}, {1, 60000, 400, open},
				{2, 60000, 100, 300},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkVersions(t, scanAll(t, tbl, tc.query), tc.want)
		})
	}
}

func TestScanOrdering(t *testing.T) {
	tbl := timelineTable(t)

	rows := scanAll(t, tbl, storage.AllVersions())
	sorted := sort.SliceIsSorted(rows, func(i, j int) bool {
		if rows[i].RowID != rows[j].RowID {
			return rows[i].RowID < rows[j].RowID
		}
		return rows[i].ValidFrom < rows[j].ValidFrom
	})
	if !sorted {
		t.Errorf("Scan results not ordered by (row id, valid from): %+v", rows)
	}
}

func TestScanFilter(t *testing.T) {
	tbl := timelineTable(t)

	q := storage.AllVersions().Where(
		storage.Compare("salary", storage.GT, storage.NewFloatValue(55000)))
	rows := scanAll(t, tbl, q)
	checkVersions(t, rows, []wantVersion{
		{1, 60000, 400, storage.MaxTimestamp},
		{2, 60000, 100, 300},
	})

	// A filter on a column the schema lacks fails at bind time.
	bad := storage.Current().Where(
		storage.Compare("bonus", storage.EQ, storage.NewFloatValue(1)))
	if _, err := tbl.Scan(bad); !errors.Is(err, storage.ErrColumnNotFound) {
		t.Errorf("Expected ErrColumnNotFound, got %v", err)
	}
}

func TestScanProjection(t *testing.T) {
	tbl := timelineTable(t)

	q := storage.Current().Project("name", "salary")
	rows := scanAll(t, tbl, q)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if len(rows[0].Data) != 2 {
		t.Fatalf("Expected 2 projected columns, got %d", len(rows[0].Data))
	}
	if name, _ := rows[0].Data[0].AsString(); name != "alice" {
		t.Errorf("Expected name first, got %v", rows[0].Data[0].AsInterface())
	}
	if sal, _ := rows[0].Data[1].AsFloat64(); sal != 60000 {
		t.Errorf("Expected salary second, got %v", rows[0].Data[1].AsInterface())
	}

	if _, err := tbl.Scan(storage.Current().Project("ghost")); !errors.Is(err, storage.ErrColumnNotFound) {
		t.Errorf("Expected ErrColumnNotFound for unknown projection, got %v", err)
	}
}

func TestScanInvalidInterval(t *testing.T) {
	tbl := timelineTable(t)

	for _, q := range []storage.TemporalQuery{
		storage.FromTo(200, 100),
		storage.FromTo(100, 100),
		storage.Between(9, 3),
		storage.ContainedIn(5, 5),
	} {
		_, err := tbl.Scan(q)
		var iv *storage.ErrInvalidInterval
		if !errors.As(err, &iv) {
			t.Errorf("Expected ErrInvalidInterval for %+v, got %v", q, err)
		}
	}
}

func TestScanDeduplicatesTransitionOverlap(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Stage the window a scan can observe mid-update: the closed copy of
	// the current version is already in history, the successor is not
	// yet published. The scan must keep the current copy and read the
	// row as untouched.
	closed := newRowVersion(1, employee(1, "alice", 50000, "eng"), 100, 200)
	tbl.history.Push(closed)

	rows := scanAll(t, tbl, storage.AllVersions())
	if len(rows) != 1 {
		t.Fatalf("Expected the overlap deduplicated to 1 version, got %d", len(rows))
	}
	if rows[0].ValidTo != storage.MaxTimestamp {
		t.Errorf("Expected the current copy to win, got ValidTo %d", rows[0].ValidTo)
	}
}

func TestScanPinsReadTimestamp(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// A version born after the scan's pinned timestamp is invisible,
	// even when it sits in the current partition.
	future := tbl.clock.Now() + int64(1e15)
	tbl.current.Put(newRowVersion(9, employee(9, "zoe", 1, "x"), future, storage.MaxTimestamp))

	rows := scanAll(t, tbl, storage.Current())
	if len(rows) != 1 || rows[0].RowID != 1 {
		t.Fatalf("Future version leaked into the scan: %+v", rows)
	}

	// A close stamped after the pin reads as still open.
	rt := tbl.clock.Now()
	v, _ := tbl.current.Get(1)
	if got := v.clampedValidTo(rt); got != storage.MaxTimestamp {
		t.Errorf("Open version must clamp to MaxTimestamp, got %d", got)
	}
	closedLater := newRowVersion(1, v.data, 100, rt+int64(1e15))
	if got := closedLater.clampedValidTo(rt); got != storage.MaxTimestamp {
		t.Errorf("Close after the pin must clamp to MaxTimestamp, got %d", got)
	}
}

func TestScanEmptyTable(t *testing.T) {
	tbl := newTestTable(t)
	for _, q := range []storage.TemporalQuery{
		storage.Current(), storage.AsOf(100), storage.AllVersions(),
	} {
		if rows := scanAll(t, tbl, q); len(rows) != 0 {
			t.Errorf("Expected empty result for %v on empty table", q.Mode)
		}
	}
}

func TestScannerReuseAfterClose(t *testing.T) {
	tbl := timelineTable(t)

	s, err := tbl.Scan(storage.Current())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !s.Next() {
		t.Fatalf("Expected one row")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.Next() {
		t.Errorf("Next after Close must return false")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Double close failed: %v", err)
	}

	// The pool hands the scanner out again with no residue.
	rows := scanAll(t, tbl, storage.AllVersions())
	if len(rows) != 4 {
		t.Errorf("Expected 4 versions on a fresh scan, got %d", len(rows))
	}
}
