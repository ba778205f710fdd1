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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusdb/tempus/internal/storage"
)

func TestVersionRecordRoundtrip(t *testing.T) {
	ts := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	rec := &versionRecord{
		RowID: 42,
		Data: storage.Row{
			storage.NewIntegerValue(7),
			storage.NewStringValue("alice"),
			storage.NewFloatValue(1234.56),
			storage.NewBooleanValue(true),
			storage.NewTimestampValue(ts),
			storage.NewJSONValue(`{"grade":"L4"}`),
			storage.NewNullValue(storage.TEXT),
			nil,
		},
		ValidFrom: 100,
		ValidTo:   storage.MaxTimestamp,
	}

	data, err := encode(rec)
	require.NoError(t, err)

	var got versionRecord
	require.NoError(t, decode(data, &got))

	require.Equal(t, rec.RowID, got.RowID)
	require.Equal(t, rec.ValidFrom, got.ValidFrom)
	require.Equal(t, rec.ValidTo, got.ValidTo)
	require.Len(t, got.Data, len(rec.Data))

	for i := 0; i < 6; i++ {
		require.True(t, rec.Data[i].Equals(got.Data[i]), "column %d mismatch", i)
	}
	// Typed NULL keeps its type; a nil slot decodes as an untyped NULL.
	require.True(t, got.Data[6].IsNull())
	require.Equal(t, storage.TEXT, got.Data[6].Type())
	require.True(t, got.Data[7].IsNull())
	require.Equal(t, storage.NULL, got.Data[7].Type())
}

func TestSchemaRecordRoundtrip(t *testing.T) {
	rec := &schemaRecord{
		Schema: &storage.Schema{
			TableName: "employees",
			Columns: []storage.Column{
				{ID: 0, Name: "id", Type: storage.INTEGER, Nullable: false},
				{ID: 1, Name: "name", Type: storage.TEXT, Nullable: false},
				{ID: 2, Name: "salary", Type: storage.FLOAT, Nullable: true},
			},
			CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		Versioned: true,
		NextRowID: 99,
	}

	data, err := encode(rec)
	require.NoError(t, err)

	var got schemaRecord
	require.NoError(t, decode(data, &got))

	require.Equal(t, rec.Schema.TableName, got.Schema.TableName)
	require.Equal(t, rec.Schema.Columns, got.Schema.Columns)
	require.True(t, rec.Schema.CreatedAt.Equal(got.Schema.CreatedAt))
	require.True(t, rec.Schema.UpdatedAt.Equal(got.Schema.UpdatedAt))
	require.Equal(t, rec.Versioned, got.Versioned)
	require.Equal(t, rec.NextRowID, got.NextRowID)
}

func TestIndexRecordRoundtrip(t *testing.T) {
	testCases := []struct {
		name string
		rec  indexRecord
	}{
		{
			name: "plain_single_column",
			rec: indexRecord{
				Table: "employees",
				Spec:  storage.IndexSpec{Name: "by_name", Columns: []string{"name"}},
			},
		},
		{
			name: "unique_composite",
			rec: indexRecord{
				Table: "employees",
				Spec: storage.IndexSpec{
					Name:    "by_dept_badge",
					Columns: []string{"dept", "badge"},
					Unique:  true,
				},
			},
		},
		{
			name: "covering",
			rec: indexRecord{
				Table: "employees",
				Spec: storage.IndexSpec{
					Name:     "by_name_covering",
					Columns:  []string{"name"},
					Included: []string{"salary", "dept"},
				},
			},
		},
		{
			name: "filtered",
			rec: indexRecord{
				Table: "employees",
				Spec: storage.IndexSpec{
					Name:    "active_by_name",
					Columns: []string{"name"},
					Where: storage.And(
						storage.Compare("active", storage.EQ, storage.NewBooleanValue(true)),
						storage.Not(storage.IsNull("dept")),
					),
				},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := encode(&tc.rec)
			require.NoError(t, err)

			var got indexRecord
			require.NoError(t, decode(data, &got))

			require.Equal(t, tc.rec.Table, got.Table)
			require.Equal(t, tc.rec.Spec.Name, got.Spec.Name)
			require.Equal(t, tc.rec.Spec.Columns, got.Spec.Columns)
			require.Equal(t, tc.rec.Spec.Unique, got.Spec.Unique)
			require.ElementsMatch(t, tc.rec.Spec.Included, got.Spec.Included)

			if tc.rec.Spec.Where == nil {
				require.Nil(t, got.Spec.Where)
			} else {
				require.NotNil(t, got.Spec.Where)
				// The tree survives structurally; String is a faithful proxy.
				require.Equal(t, tc.rec.Spec.Where.String(), got.Spec.Where.String())
			}
		})
	}
}

func TestPredicateCodecEvaluatesSame(t *testing.T) {
	schema := &storage.Schema{
		TableName: "employees",
		Columns: []storage.Column{
			{ID: 0, Name: "dept", Type: storage.TEXT, Nullable: true},
			{ID: 1, Name: "salary", Type: storage.FLOAT, Nullable: true},
		},
	}
	pred := storage.Or(
		storage.Compare("dept", storage.EQ, storage.NewStringValue("eng")),
		storage.Compare("salary", storage.GTE, storage.NewFloatValue(100000)),
	)

	rec := indexRecord{Table: "employees", Spec: storage.IndexSpec{Name: "x", Columns: []string{"dept"}, Where: pred}}
	data, err := encode(&rec)
	require.NoError(t, err)
	var got indexRecord
	require.NoError(t, decode(data, &got))

	require.NoError(t, pred.Bind(schema))
	require.NoError(t, got.Spec.Where.Bind(schema))

	rows := []storage.Row{
		{storage.NewStringValue("eng"), storage.NewFloatValue(50000)},
		{storage.NewStringValue("ops"), storage.NewFloatValue(120000)},
		{storage.NewStringValue("ops"), storage.NewFloatValue(50000)},
		{storage.NewNullValue(storage.TEXT), storage.NewNullValue(storage.FLOAT)},
	}
	for i, row := range rows {
		want, err := pred.Evaluate(row)
		require.NoError(t, err)
		gotMatch, err := got.Spec.Where.Evaluate(row)
		require.NoError(t, err)
		require.Equal(t, want, gotMatch, "row %d diverged after roundtrip", i)
	}
}

func TestFreeRecordRoundtrip(t *testing.T) {
	rec := &freeRecord{Segment: 3, Offset: 4096}

	data, err := encode(rec)
	require.NoError(t, err)

	var got freeRecord
	require.NoError(t, decode(data, &got))
	require.Equal(t, *rec, got)
}
