package storage

import (
	"errors"
	"testing"
	"time"
)

func TestValueConversions(t *testing.T) {
	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	testCases := []struct {
		name  string
		value ColumnValue
		check func(t *testing.T, v ColumnValue)
	}{
		{
			name:  "integer",
			value: NewIntegerValue(42),
			check: func(t *testing.T, v ColumnValue) {
				if got, ok := v.AsInt64(); !ok || got != 42 {
					t.Errorf("AsInt64 = %d, %v", got, ok)
				}
				if got, ok := v.AsFloat64(); !ok || got != 42.0 {
					t.Errorf("AsFloat64 = %f, %v", got, ok)
				}
				if got, ok := v.AsString(); !ok || got != "42" {
					t.Errorf("AsString = %q, %v", got, ok)
				}
			},
		},
		{
			name:  "float_truncates_to_int",
			value: NewFloatValue(3.9),
			check: func(t *testing.T, v ColumnValue) {
				if got, ok := v.AsInt64(); !ok || got != 3 {
					t.Errorf("AsInt64 = %d, %v", got, ok)
				}
			},
		},
		{
			name:  "boolean_as_numeric",
			value: NewBooleanValue(true),
			check: func(t *testing.T, v ColumnValue) {
				if got, ok := v.AsInt64(); !ok || got != 1 {
					t.Errorf("AsInt64 = %d, %v", got, ok)
				}
			},
		},
		{
			name:  "timestamp_unixnano",
			value: NewTimestampValue(ts),
			check: func(t *testing.T, v ColumnValue) {
				if got, ok := v.AsInt64(); !ok || got != ts.UnixNano() {
					t.Errorf("AsInt64 = %d, want %d", got, ts.UnixNano())
				}
			},
		},
		{
			name:  "text_does_not_coerce_to_int",
			value: NewStringValue("42"),
			check: func(t *testing.T, v ColumnValue) {
				if _, ok := v.AsInt64(); ok {
					t.Errorf("Text must not convert to int64")
				}
			},
		},
		{
			name:  "null_reports_null",
			value: NewNullValue(INTEGER),
			check: func(t *testing.T, v ColumnValue) {
				if !v.IsNull() {
					t.Errorf("Expected IsNull")
				}
				if v.Type() != INTEGER {
					t.Errorf("Typed NULL should keep its type, got %v", v.Type())
				}
				if v.AsInterface() != nil {
					t.Errorf("AsInterface of NULL should be nil")
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, tc.value)
		})
	}
}

func TestValueCompare(t *testing.T) {
	testCases := []struct {
		name    string
		a, b    ColumnValue
		want    int
		wantErr error
	}{
		{name: "int_lt", a: NewIntegerValue(1), b: NewIntegerValue(2), want: -1},
		{name: "int_eq", a: NewIntegerValue(2), b: NewIntegerValue(2), want: 0},
		{name: "mixed_int_float", a: NewIntegerValue(2), b: NewFloatValue(1.5), want: 1},
		{name: "mixed_float_int", a: NewFloatValue(1.5), b: NewIntegerValue(2), want: -1},
		{name: "text", a: NewStringValue("a"), b: NewStringValue("b"), want: -1},
		{name: "bool_false_lt_true", a: NewBooleanValue(false), b: NewBooleanValue(true), want: -1},
		{name: "both_null_equal", a: NewNullValue(INTEGER), b: NewNullValue(TEXT), want: 0},
		{name: "null_vs_value", a: NewNullValue(INTEGER), b: NewIntegerValue(1), wantErr: ErrNullComparison},
		{name: "text_vs_int", a: NewStringValue("a"), b: NewIntegerValue(1), wantErr: ErrIncomparableTypes},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.a.Compare(tc.b)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compare failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Compare = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestValueEquals(t *testing.T) {
	if !NewIntegerValue(5).Equals(NewIntegerValue(5)) {
		t.Errorf("Equal integers should be equal")
	}
	if NewIntegerValue(5).Equals(NewFloatValue(5)) {
		t.Errorf("Equals is strict about type, 5 != 5.0")
	}
	if !NewNullValue(INTEGER).Equals(NewNullValue(TEXT)) {
		t.Errorf("NULLs are equal regardless of declared type")
	}
	if NewNullValue(INTEGER).Equals(NewIntegerValue(0)) {
		t.Errorf("NULL never equals a value")
	}
}

func TestNewValueFromInterface(t *testing.T) {
	testCases := []struct {
		name string
		in   interface{}
		want DataType
	}{
		{"nil", nil, NULL},
		{"int", 7, INTEGER},
		{"int64", int64(7), INTEGER},
		{"float64", 1.5, FLOAT},
		{"string", "x", TEXT},
		{"bool", true, BOOLEAN},
		{"time", time.Now(), TIMESTAMP},
		{"map_becomes_json", map[string]interface{}{"a": 1}, JSON},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValueFromInterface(tc.in)
			if v.Type() != tc.want {
				t.Errorf("Expected type %v, got %v", tc.want, v.Type())
			}
		})
	}
}
