package storage

import (
	"time"
)

// Row is a tuple of column values in schema order. The hidden validity
// interval lives on the version that owns the row, not in the tuple itself.
type Row []ColumnValue

// Clone returns a shallow copy of the row. Values are immutable once
// written, so sharing them between versions is safe.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Column describes one column of a table schema.
type Column struct {
	ID       int
	Name     string
	Type     DataType
	Nullable bool
}

// Schema describes a table: its name and ordered columns. Row ids are the
// stable logical identity and are carried outside the tuple.
type Schema struct {
	TableName string
	Columns   []Column
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column exists.
func (s *Schema) HasColumn(name string) bool {
	return s.ColumnIndex(name) >= 0
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		TableName: s.TableName,
		Columns:   make([]Column, len(s.Columns)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	copy(out.Columns, s.Columns)
	return out
}

// ValidateRow checks a tuple against the schema: arity, NULL constraints
// and value types. An untyped NULL is accepted for any nullable column.
func (s *Schema) ValidateRow(row Row) error {
	if len(row) != len(s.Columns) {
		return &ErrColumnCountMismatch{Expected: len(s.Columns), Got: len(row)}
	}
	for i, col := range s.Columns {
		v := row[i]
		if v == nil || v.IsNull() {
			if !col.Nullable {
				return &ErrNotNullConstraint{Column: col.Name}
			}
			continue
		}
		if v.Type() != col.Type {
			// Integer widening into float columns is the one permitted
			// coercion.
			if col.Type == FLOAT && v.Type() == INTEGER {
				continue
			}
			return ErrInvalidColumnType
		}
	}
	return nil
}
