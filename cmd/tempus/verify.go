package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tempusdb/tempus/pkg"
)

// cmdVerify: verify [table]
//
// Checks the structural invariants a healthy table always satisfies:
// well-formed validity intervals, no overlap within a row's chain, at
// most one current version per row, GetCurrent agreeing with the full
// scan, and every current row reachable through each of its indexes.
func (s *session) cmdVerify(args []string) error {
	var names []string
	switch len(args) {
	case 0:
		names = s.db.ListTables()
	case 1:
		names = args
	default:
		return errors.New("usage: verify [table]")
	}

	total := 0
	for _, name := range names {
		issues, summary, err := verifyTable(s.db, name)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			fmt.Fprintf(s.out, "  %s\n", issue)
		}
		status := "OK"
		if len(issues) > 0 {
			status = fmt.Sprintf("%d violations", len(issues))
		}
		fmt.Fprintf(s.out, "table %s: %s: %s\n", name, summary, status)
		total += len(issues)
	}
	if total > 0 {
		return fmt.Errorf("%d integrity violations", total)
	}
	return nil
}

func verifyTable(db *pkg.DB, name string) (issues []string, summary string, err error) {
	tbl, err := db.Table(name)
	if err != nil {
		return nil, "", err
	}

	complain := func(rowID int64, format string, args ...interface{}) {
		issues = append(issues, fmt.Sprintf("row %d: %s", rowID, fmt.Sprintf(format, args...)))
	}

	sc, err := tbl.Scan(pkg.AllVersions())
	if err != nil {
		return nil, "", err
	}
	chains := make(map[int64][]pkg.VersionedRow)
	versions := 0
	for sc.Next() {
		v := sc.Version()
		chains[v.RowID] = append(chains[v.RowID], v)
		versions++
	}
	if scanErr := sc.Err(); scanErr != nil {
		sc.Close()
		return nil, "", scanErr
	}
	sc.Close()

	for rowID, chain := range chains {
		sort.Slice(chain, func(i, j int) bool { return chain[i].ValidFrom < chain[j].ValidFrom })

		currents := 0
		for i, v := range chain {
			if v.ValidFrom <= 0 {
				complain(rowID, "version with non-positive ValidFrom %d", v.ValidFrom)
			}
			if v.ValidFrom >= v.ValidTo {
				complain(rowID, "empty interval [%d, %d)", v.ValidFrom, v.ValidTo)
			}
			if v.IsCurrent() {
				currents++
				if i != len(chain)-1 {
					complain(rowID, "current version is not the newest in its chain")
				}
			}
			if i > 0 && v.ValidFrom < chain[i-1].ValidTo {
				complain(rowID, "intervals [%d, %d) and [%d, %d) overlap",
					chain[i-1].ValidFrom, chain[i-1].ValidTo, v.ValidFrom, v.ValidTo)
			}
		}
		if currents > 1 {
			complain(rowID, "%d current versions", currents)
		}

		head, ok := tbl.GetCurrent(rowID)
		switch {
		case currents == 1 && !ok:
			complain(rowID, "scan sees a current version but GetCurrent does not")
		case currents == 0 && ok:
			complain(rowID, "GetCurrent returns a version the scan does not")
		case currents == 1 && ok && head.ValidFrom != chain[len(chain)-1].ValidFrom:
			complain(rowID, "GetCurrent disagrees with the scan (ValidFrom %d vs %d)",
				head.ValidFrom, chain[len(chain)-1].ValidFrom)
		}
	}

	indexIssues := verifyIndexes(tbl, chains)
	issues = append(issues, indexIssues...)

	summary = fmt.Sprintf("%d rows, %d versions, %d indexes",
		len(chains), versions, len(tbl.ListIndexes()))
	return issues, summary, nil
}

// verifyIndexes confirms every current row is reachable through each
// non-filtered index. Filtered indexes are skipped since their
// predicate legitimately excludes rows, and NULL key parts are exempt
// from indexing.
func verifyIndexes(tbl pkg.Table, chains map[int64][]pkg.VersionedRow) []string {
	var issues []string
	schema := tbl.Schema()

	for _, meta := range tbl.ListIndexes() {
		if meta.Filtered {
			continue
		}
		positions := make([]int, len(meta.Columns))
		usable := true
		for i, col := range meta.Columns {
			if positions[i] = schema.ColumnIndex(col); positions[i] < 0 {
				issues = append(issues, fmt.Sprintf("index %s: key column %s missing from schema", meta.Name, col))
				usable = false
			}
		}
		if !usable {
			continue
		}

		for rowID, chain := range chains {
			head := chain[len(chain)-1]
			if !head.IsCurrent() {
				continue
			}
			key := make(pkg.Row, len(positions))
			nullKey := false
			for i, pos := range positions {
				cv := head.Data[pos]
				if cv == nil || cv.IsNull() {
					nullKey = true
					break
				}
				key[i] = cv
			}
			if nullKey {
				continue
			}

			sc, err := tbl.ScanIndex(meta.Name, key, pkg.Current())
			if err != nil {
				issues = append(issues, fmt.Sprintf("index %s: %v", meta.Name, err))
				break
			}
			found := false
			for sc.Next() {
				if sc.Version().RowID == rowID {
					found = true
				}
			}
			sc.Close()
			if !found {
				issues = append(issues, fmt.Sprintf("index %s: current row %d not reachable through its key", meta.Name, rowID))
			}
		}
	}
	return issues
}
