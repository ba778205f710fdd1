package temporal

import (
	"errors"
	"testing"

	"github.com/tempusdb/tempus/internal/storage"
)

func TestAddColumnBackfill(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tbl.Update(1, employee(1, "alice", 55000, "eng"), 200); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err := tbl.AddColumn(storage.Column{Name: "notes", Type: storage.TEXT, Nullable: true})
	if err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}

	schema := tbl.Schema()
	if len(schema.Columns) != 5 {
		t.Fatalf("Expected 5 columns, got %d", len(schema.Columns))
	}
	if col := schema.Columns[4]; col.Name != "notes" || col.ID != 4 {
		t.Errorf("Expected notes at position 4, got %+v", col)
	}

	// Every version, current and historical, was widened and reads NULL
	// for the new column.
	s, err := tbl.Scan(storage.AllVersions())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	versions := drain(t, s)
	if len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(versions))
	}
	for _, v := range versions {
		if len(v.Data) != 5 {
			t.Errorf("Expected widened row, got %d columns", len(v.Data))
		}
		if v.Data[4] != nil && !v.Data[4].IsNull() {
			t.Errorf("Expected NULL backfill, got %v", v.Data[4].AsInterface())
		}
	}

	// New writes populate it.
	next := append(employee(1, "alice", 60000, "eng"), storage.NewStringValue("promoted"))
	if err := tbl.Update(1, next, 300); err != nil {
		t.Fatalf("Update after AddColumn failed: %v", err)
	}
	got, ok := tbl.GetCurrent(1)
	if !ok {
		t.Fatalf("Expected current row")
	}
	if notes, _ := got.Data[4].AsString(); notes != "promoted" {
		t.Errorf("Expected notes promoted, got %q", notes)
	}
}

func TestAddColumnValidation(t *testing.T) {
	testCases := []struct {
		name    string
		col     storage.Column
		wantErr error
	}{
		{
			name:    "empty_name",
			col:     storage.Column{Type: storage.TEXT, Nullable: true},
			wantErr: storage.ErrInvalidValue,
		},
		{
			name:    "duplicate_name",
			col:     storage.Column{Name: "dept", Type: storage.TEXT, Nullable: true},
			wantErr: storage.ErrDuplicateColumn,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := newTestTable(t)
			if err := tbl.AddColumn(tc.col); !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("not_null", func(t *testing.T) {
		tbl := newTestTable(t)
		err := tbl.AddColumn(storage.Column{Name: "notes", Type: storage.TEXT})
		var nn *storage.ErrNotNullConstraint
		if !errors.As(err, &nn) {
			t.Fatalf("Expected ErrNotNullConstraint, got %v", err)
		}
		if nn.Column != "notes" {
			t.Errorf("Expected column notes in error, got %s", nn.Column)
		}
	})
}

func TestDropColumnRewrite(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tbl.Update(1, employee(1, "alice", 55000, "eng"), 200); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := tbl.CreateIndex(storage.IndexSpec{Name: "by_dept", Columns: []string{"dept"}}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	// salary sits before dept, so dropping it shifts dept left.
	if err := tbl.DropColumn("salary"); err != nil {
		t.Fatalf("DropColumn failed: %v", err)
	}

	schema := tbl.Schema()
	if len(schema.Columns) != 3 {
		t.Fatalf("Expected 3 columns, got %d", len(schema.Columns))
	}
	if schema.Columns[2].Name != "dept" || schema.Columns[2].ID != 2 {
		t.Errorf("Expected dept renumbered to 2, got %+v", schema.Columns[2])
	}

	got, ok := tbl.GetCurrent(1)
	if !ok {
		t.Fatalf("Expected current row")
	}
	if len(got.Data) != 3 {
		t.Fatalf("Expected narrowed row, got %d columns", len(got.Data))
	}
	if dept, _ := got.Data[2].AsString(); dept != "eng" {
		t.Errorf("Expected dept preserved at new position, got %q", dept)
	}

	// History was rewritten too.
	s, err := tbl.Scan(storage.AsOf(150))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	old := drain(t, s)
	if len(old) != 1 || len(old[0].Data) != 3 {
		t.Fatalf("Expected narrowed history version, got %+v", old)
	}
	if name, _ := old[0].Data[1].AsString(); name != "alice" {
		t.Errorf("Expected history tuple intact, got %q", name)
	}

	// The surviving index was rebuilt against the shifted ordinal.
	ids := tbl.indexes["by_dept"].Seek(textKey("eng"))
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Expected index rebuilt after drop, got %v", ids)
	}

	// Writes under the new schema work.
	narrow := storage.Row{
		storage.NewIntegerValue(2), storage.NewStringValue("bob"), storage.NewStringValue("ops"),
	}
	if err := tbl.Insert(2, narrow, 300); err != nil {
		t.Errorf("Insert under new schema failed: %v", err)
	}
}

func TestDropColumnRefused(t *testing.T) {
	newIndexed := func(t *testing.T, spec storage.IndexSpec) *table {
		t.Helper()
		tbl := newTestTable(t)
		if err := tbl.CreateIndex(spec); err != nil {
			t.Fatalf("CreateIndex failed: %v", err)
		}
		return tbl
	}

	t.Run("unknown_column", func(t *testing.T) {
		tbl := newTestTable(t)
		if err := tbl.DropColumn("ghost"); !errors.Is(err, storage.ErrColumnNotFound) {
			t.Errorf("Expected ErrColumnNotFound, got %v", err)
		}
	})

	t.Run("last_column", func(t *testing.T) {
		schema := &storage.Schema{
			TableName: "singles",
			Columns:   []storage.Column{{ID: 0, Name: "id", Type: storage.INTEGER}},
		}
		tbl := newTable(schema, newClock(), newPageStore(0), newPageStore(0), pageRef{}, tableOptions{})
		if err := tbl.DropColumn("id"); !errors.Is(err, storage.ErrNotSupported) {
			t.Errorf("Expected ErrNotSupported, got %v", err)
		}
	})

	t.Run("index_key_column", func(t *testing.T) {
		tbl := newIndexed(t, storage.IndexSpec{Name: "by_dept", Columns: []string{"dept"}})
		if err := tbl.DropColumn("dept"); !errors.Is(err, storage.ErrNotSupported) {
			t.Errorf("Expected ErrNotSupported, got %v", err)
		}
	})

	t.Run("index_included_column", func(t *testing.T) {
		tbl := newIndexed(t, storage.IndexSpec{
			Name: "by_name_cov", Columns: []string{"name"}, Included: []string{"salary"},
		})
		if err := tbl.DropColumn("salary"); !errors.Is(err, storage.ErrNotSupported) {
			t.Errorf("Expected ErrNotSupported, got %v", err)
		}
	})

	t.Run("index_filter_column", func(t *testing.T) {
		tbl := newIndexed(t, storage.IndexSpec{
			Name:    "eng_names",
			Columns: []string{"name"},
			Where:   storage.Compare("dept", storage.EQ, storage.NewStringValue("eng")),
		})
		if err := tbl.DropColumn("dept"); !errors.Is(err, storage.ErrNotSupported) {
			t.Errorf("Expected ErrNotSupported, got %v", err)
		}
		// The keyed column is droppable once no index touches it.
		if err := tbl.DropIndex("eng_names"); err != nil {
			t.Fatalf("DropIndex failed: %v", err)
		}
		if err := tbl.DropColumn("dept"); err != nil {
			t.Errorf("Expected drop after index removal, got %v", err)
		}
	})
}

func TestVersioningToggle(t *testing.T) {
	tbl := newTestTable(t)
	if !tbl.Versioned() {
		t.Fatalf("Expected versioning on by default")
	}

	if err := tbl.Insert(1, employee(1, "alice", 50000, "eng"), 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tbl.Update(1, employee(1, "alice", 55000, "eng"), 200); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := tbl.Stats().HistoryVersions; got != 1 {
		t.Fatalf("Expected 1 history version, got %d", got)
	}

	// Disabling purges recorded history and stops recording.
	if err := tbl.DisableVersioning(); err != nil {
		t.Fatalf("DisableVersioning failed: %v", err)
	}
	if tbl.Versioned() {
		t.Errorf("Expected versioning off")
	}
	if got := tbl.Stats().HistoryVersions; got != 0 {
		t.Errorf("Expected purged history, got %d versions", got)
	}
	s, err := tbl.Scan(storage.AsOf(150))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got := drain(t, s); len(got) != 0 {
		t.Errorf("Expected no rows at purged time, got %d", len(got))
	}

	if err := tbl.Update(1, employee(1, "alice", 60000, "eng"), 300); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := tbl.Stats().HistoryVersions; got != 0 {
		t.Errorf("Expected no history while off, got %d versions", got)
	}
	if err := tbl.DisableVersioning(); err != nil {
		t.Errorf("Expected idempotent disable, got %v", err)
	}

	// Re-enabling records from here on.
	if err := tbl.EnableVersioning(); err != nil {
		t.Fatalf("EnableVersioning failed: %v", err)
	}
	if !tbl.Versioned() {
		t.Errorf("Expected versioning on")
	}
	if err := tbl.Update(1, employee(1, "alice", 65000, "eng"), 400); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := tbl.Stats().HistoryVersions; got != 1 {
		t.Errorf("Expected 1 history version after re-enable, got %d", got)
	}
	s, err = tbl.Scan(storage.AsOf(350))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	rows := drain(t, s)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row at 350, got %d", len(rows))
	}
	if got := salaryOf(t, rows[0].Data); got != 60000 {
		t.Errorf("Expected salary 60000 at 350, got %v", got)
	}
	if err := tbl.EnableVersioning(); err != nil {
		t.Errorf("Expected idempotent enable, got %v", err)
	}
}
