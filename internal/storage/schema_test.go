package storage

import (
	"errors"
	"testing"
	"time"
)

func now() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSchemaColumnIndex(t *testing.T) {
	schema := testSchema()

	if idx := schema.ColumnIndex("sensor"); idx != 1 {
		t.Errorf("Expected index 1 for sensor, got %d", idx)
	}
	if idx := schema.ColumnIndex("missing"); idx != -1 {
		t.Errorf("Expected -1 for missing column, got %d", idx)
	}
	if !schema.HasColumn("value") {
		t.Errorf("Expected HasColumn(value) to be true")
	}
	if schema.HasColumn("Value") {
		t.Errorf("Column lookup is case sensitive, Value should not match")
	}
}

func TestSchemaClone(t *testing.T) {
	schema := testSchema()
	clone := schema.Clone()

	clone.TableName = "other"
	clone.Columns[0].Name = "renamed"

	if schema.TableName != "readings" {
		t.Errorf("Clone mutated original table name: %s", schema.TableName)
	}
	if schema.Columns[0].Name != "id" {
		t.Errorf("Clone shares column storage with original")
	}
}

func TestValidateRow(t *testing.T) {
	schema := testSchema()

	testCases := []struct {
		name    string
		row     Row
		wantErr error
	}{
		{
			name: "valid",
			row:  testRow(1, "a", 2.0),
		},
		{
			name: "integer_widens_into_float",
			row: Row{
				NewIntegerValue(1), NewStringValue("a"), NewIntegerValue(3),
				NewBooleanValue(false), NewTimestampValue(now()),
			},
		},
		{
			name: "nullable_null_ok",
			row: Row{
				NewIntegerValue(1), NewStringValue("a"), NewNullValue(FLOAT),
				nil, NewNullValue(TIMESTAMP),
			},
		},
		{
			name:    "too_few_columns",
			row:     Row{NewIntegerValue(1)},
			wantErr: &ErrColumnCountMismatch{},
		},
		{
			name: "not_null_violated",
			row: Row{
				NewIntegerValue(1), NewNullValue(TEXT), NewFloatValue(1),
				NewBooleanValue(false), NewTimestampValue(now()),
			},
			wantErr: &ErrNotNullConstraint{},
		},
		{
			name: "wrong_type",
			row: Row{
				NewStringValue("oops"), NewStringValue("a"), NewFloatValue(1),
				NewBooleanValue(false), NewTimestampValue(now()),
			},
			wantErr: ErrInvalidColumnType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.ValidateRow(tc.row)
			if tc.wantErr == nil {
				if err != nil {
					t.Errorf("Expected valid row, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error, got nil")
			}
			switch want := tc.wantErr.(type) {
			case *ErrColumnCountMismatch:
				var got *ErrColumnCountMismatch
				if !errors.As(err, &got) {
					t.Errorf("Expected ErrColumnCountMismatch, got %v", err)
				}
			case *ErrNotNullConstraint:
				var got *ErrNotNullConstraint
				if !errors.As(err, &got) {
					t.Errorf("Expected ErrNotNullConstraint, got %v", err)
				} else if got.Column != "sensor" {
					t.Errorf("Expected violation on sensor, got %s", got.Column)
				}
			default:
				if !errors.Is(err, want) {
					t.Errorf("Expected %v, got %v", want, err)
				}
			}
		})
	}
}

func TestRowClone(t *testing.T) {
	row := testRow(1, "a", 2.0)
	clone := row.Clone()

	clone[0] = NewIntegerValue(99)
	if got, _ := row[0].AsInt64(); got != 1 {
		t.Errorf("Row clone shares backing storage with original")
	}

	var empty Row
	if empty.Clone() != nil {
		t.Errorf("Cloning a nil row should return nil")
	}
}
