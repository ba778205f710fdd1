package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tempusdb/tempus/pkg"
)

// renderVersions draws a scan result as a table. Temporal modes get
// VALID FROM / VALID TO columns; current-mode reads do not, since every
// interval would end at infinity anyway.
func renderVersions(out io.Writer, schema *pkg.Schema, q pkg.TemporalQuery, sc pkg.Scanner, limit int) error {
	names := q.Columns
	if len(names) == 0 {
		names = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			names[i] = c.Name
		}
	}
	temporal := q.Mode != pkg.QueryCurrent

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)

	header := table.Row{"ROW"}
	for _, n := range names {
		header = append(header, strings.ToUpper(n))
	}
	if temporal {
		header = append(header, "VALID FROM", "VALID TO")
	}
	tw.AppendHeader(header)

	count := 0
	for sc.Next() {
		v := sc.Version()
		row := table.Row{v.RowID}
		for _, cv := range v.Data {
			row = append(row, displayValue(cv))
		}
		if temporal {
			row = append(row, v.ValidFrom, formatValidTo(v.ValidTo))
		}
		tw.AppendRow(row)
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	tw.Render()
	if temporal {
		fmt.Fprintf(out, "%d versions in set\n", count)
	} else {
		fmt.Fprintf(out, "%d rows in set\n", count)
	}
	return nil
}

// renderTables draws the per-table stats overview used by the tables
// command.
func renderTables(out io.Writer, db *pkg.DB) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"TABLE", "VERSIONED", "ROWS", "HISTORY", "INDEXES", "BYTES"})

	names := db.ListTables()
	for _, name := range names {
		tbl, err := db.Table(name)
		if err != nil {
			continue
		}
		stats := tbl.Stats()
		versioned := false
		if admin, ok := tbl.(pkg.SchemaAdmin); ok {
			versioned = admin.Versioned()
		}
		tw.AppendRow(table.Row{
			stats.Name, versioned, stats.CurrentRows,
			stats.HistoryVersions, stats.Indexes, stats.StorageBytes,
		})
	}
	tw.Render()
	fmt.Fprintf(out, "%d tables\n", len(names))
}

// renderTableInfo draws one table's schema, indexes and stats.
func renderTableInfo(out io.Writer, tbl pkg.Table) {
	schema := tbl.Schema()

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "COLUMN", "TYPE", "NULLABLE"})
	for _, col := range schema.Columns {
		tw.AppendRow(table.Row{col.ID, col.Name, col.Type.String(), col.Nullable})
	}
	tw.Render()

	indexes := tbl.ListIndexes()
	if len(indexes) > 0 {
		iw := table.NewWriter()
		iw.SetOutputMirror(out)
		iw.SetStyle(table.StyleLight)
		iw.AppendHeader(table.Row{"INDEX", "COLUMNS", "UNIQUE", "FILTERED", "COVERING", "ENTRIES"})
		for _, meta := range indexes {
			iw.AppendRow(table.Row{
				meta.Name, strings.Join(meta.Columns, ", "),
				meta.Unique, meta.Filtered, meta.Covering, meta.Entries,
			})
		}
		iw.Render()
	}

	stats := tbl.Stats()
	versioned := "off"
	if admin, ok := tbl.(pkg.SchemaAdmin); ok && admin.Versioned() {
		versioned = "on"
	}
	fmt.Fprintf(out, "%d current rows, %d history versions, %d bytes, versioning %s\n",
		stats.CurrentRows, stats.HistoryVersions, stats.StorageBytes, versioned)
}

func printCompactStats(out io.Writer, stats pkg.CompactStats) {
	fmt.Fprintf(out, "compacted below %d: examined %d, purged %d, archived %d, failed %d (%d chunks)\n",
		stats.Horizon, stats.Examined, stats.Purged, stats.Archived, stats.Failed, stats.Chunks)
}

func displayValue(v pkg.ColumnValue) string {
	if v == nil || v.IsNull() {
		return "NULL"
	}
	s, _ := v.AsString()
	return s
}

func formatValidTo(ts int64) string {
	if ts == pkg.MaxTimestamp {
		return "∞"
	}
	return strconv.FormatInt(ts, 10)
}

// parseColumnSpec parses one create-table column: name:type[:null].
func parseColumnSpec(id int, spec string) (pkg.Column, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return pkg.Column{}, fmt.Errorf("column spec %q: expected name:type[:null]", spec)
	}
	typ, err := parseDataType(parts[1])
	if err != nil {
		return pkg.Column{}, fmt.Errorf("column %s: %v", parts[0], err)
	}
	nullable := false
	if len(parts) == 3 {
		if !strings.EqualFold(parts[2], "null") {
			return pkg.Column{}, fmt.Errorf("column spec %q: expected name:type[:null]", spec)
		}
		nullable = true
	}
	return pkg.Column{ID: id, Name: parts[0], Type: typ, Nullable: nullable}, nil
}

func parseDataType(name string) (pkg.DataType, error) {
	switch strings.ToLower(name) {
	case "int", "integer":
		return pkg.INTEGER, nil
	case "float", "real", "double":
		return pkg.FLOAT, nil
	case "text", "string", "varchar":
		return pkg.TEXT, nil
	case "bool", "boolean":
		return pkg.BOOLEAN, nil
	case "timestamp", "time", "datetime":
		return pkg.TIMESTAMP, nil
	case "json":
		return pkg.JSON, nil
	}
	return 0, fmt.Errorf("unknown type %q", name)
}

// parseValue converts raw shell text into a typed column value. The
// word null (any case) always means NULL; quote it in the shell to get
// the literal string.
func parseValue(col pkg.Column, raw string) (pkg.ColumnValue, error) {
	if strings.EqualFold(raw, "null") {
		return pkg.NewNullValue(col.Type), nil
	}
	switch col.Type {
	case pkg.INTEGER:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not an integer", col.Name, raw)
		}
		return pkg.NewIntegerValue(i), nil
	case pkg.FLOAT:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not a number", col.Name, raw)
		}
		return pkg.NewFloatValue(f), nil
	case pkg.TEXT:
		return pkg.NewStringValue(raw), nil
	case pkg.BOOLEAN:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not a boolean", col.Name, raw)
		}
		return pkg.NewBooleanValue(b), nil
	case pkg.TIMESTAMP:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return pkg.NewTimestampValue(t), nil
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return pkg.NewTimestampValue(t), nil
		}
		return nil, fmt.Errorf("column %s: %q is not a timestamp (use RFC 3339)", col.Name, raw)
	case pkg.JSON:
		return pkg.NewJSONValue(raw), nil
	}
	return nil, fmt.Errorf("column %s: unsupported type %s", col.Name, col.Type)
}

// parseCondition parses a filter of the form <col><op><value>.
// Two-character operators are tried first so >= is not read as >.
func parseCondition(schema *pkg.Schema, expr string) (pkg.Predicate, error) {
	ops := []struct {
		token string
		op    pkg.Operator
	}{
		{"!=", pkg.NE}, {">=", pkg.GTE}, {"<=", pkg.LTE},
		{"=", pkg.EQ}, {">", pkg.GT}, {"<", pkg.LT},
	}
	for _, cand := range ops {
		idx := strings.Index(expr, cand.token)
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(expr[:idx])
		raw := strings.TrimSpace(expr[idx+len(cand.token):])
		pos := schema.ColumnIndex(name)
		if pos < 0 {
			return nil, fmt.Errorf("column %s: %w", name, pkg.ErrColumnNotFound)
		}
		val, err := parseValue(schema.Columns[pos], raw)
		if err != nil {
			return nil, err
		}
		return pkg.Compare(name, cand.op, val), nil
	}
	return nil, fmt.Errorf("cannot parse condition %q (expected <col><op><value>)", expr)
}

// parseIndexKey types comma-separated key values against the index's
// key columns. A prefix of a composite key is allowed.
func parseIndexKey(tbl pkg.Table, indexName, raw string) (pkg.Row, error) {
	if raw == "" {
		return nil, fmt.Errorf("index %s: key values required", indexName)
	}
	var meta pkg.IndexMeta
	found := false
	for _, m := range tbl.ListIndexes() {
		if m.Name == indexName {
			meta, found = m, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("index %s: %w", indexName, pkg.ErrIndexNotFound)
	}

	parts := splitList(raw)
	if len(parts) > len(meta.Columns) {
		return nil, fmt.Errorf("index %s has %d key columns, got %d values",
			indexName, len(meta.Columns), len(parts))
	}

	schema := tbl.Schema()
	key := make(pkg.Row, len(parts))
	for i, part := range parts {
		pos := schema.ColumnIndex(meta.Columns[i])
		if pos < 0 {
			return nil, fmt.Errorf("column %s: %w", meta.Columns[i], pkg.ErrColumnNotFound)
		}
		val, err := parseValue(schema.Columns[pos], part)
		if err != nil {
			return nil, err
		}
		key[i] = val
	}
	return key, nil
}

// singleVersion adapts one version to the Scanner shape so get and
// scan share the renderer.
func singleVersion(v pkg.VersionedRow) pkg.Scanner {
	return &oneVersionScanner{version: v}
}

type oneVersionScanner struct {
	version pkg.VersionedRow
	done    bool
}

func (s *oneVersionScanner) Next() bool {
	if s.done {
		return false
	}
	s.done = true
	return true
}

func (s *oneVersionScanner) Version() pkg.VersionedRow { return s.version }
func (s *oneVersionScanner) Err() error                { return nil }
func (s *oneVersionScanner) Close() error              { return nil }
