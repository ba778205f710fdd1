package storage

// QueryMode selects how a temporal query interprets row validity
// intervals.
type QueryMode int8

const (
	// QueryCurrent visits only current versions.
	QueryCurrent QueryMode = iota

	// QueryAsOf visits the versions valid at a single instant:
	// ValidFrom <= T < ValidTo.
	QueryAsOf

	// QueryFromTo visits versions overlapping [Start, End). Versions
	// that became invalid exactly at Start, or valid exactly at End,
	// are excluded.
	QueryFromTo

	// QueryBetween visits versions overlapping [Start, End]. Unlike
	// QueryFromTo the upper bound is inclusive, so versions becoming
	// valid exactly at End are included.
	QueryBetween

	// QueryContainedIn visits versions whose whole interval lies inside
	// [Start, End]: opened and closed within the window.
	QueryContainedIn

	// QueryAll visits every version, current and historical.
	QueryAll
)

func (m QueryMode) String() string {
	switch m {
	case QueryCurrent:
		return "CURRENT"
	case QueryAsOf:
		return "AS OF"
	case QueryFromTo:
		return "FROM TO"
	case QueryBetween:
		return "BETWEEN"
	case QueryContainedIn:
		return "CONTAINED IN"
	case QueryAll:
		return "ALL"
	}
	return "UNKNOWN"
}

// TemporalQuery describes one temporal read. T carries the instant for
// AS OF queries; Start and End carry the window for the interval modes.
// An optional Filter restricts the visited versions by value and an
// optional Columns list projects the result.
type TemporalQuery struct {
	Mode  QueryMode
	T     int64
	Start int64
	End   int64

	Filter  Predicate
	Columns []string
}

// AsOf returns a query for the versions valid at instant t.
func AsOf(t int64) TemporalQuery {
	return TemporalQuery{Mode: QueryAsOf, T: t}
}

// FromTo returns a query for versions overlapping the half-open window
// [start, end).
func FromTo(start, end int64) TemporalQuery {
	return TemporalQuery{Mode: QueryFromTo, Start: start, End: end}
}

// Between returns a query for versions overlapping the closed window
// [start, end].
func Between(start, end int64) TemporalQuery {
	return TemporalQuery{Mode: QueryBetween, Start: start, End: end}
}

// ContainedIn returns a query for versions wholly inside [start, end].
func ContainedIn(start, end int64) TemporalQuery {
	return TemporalQuery{Mode: QueryContainedIn, Start: start, End: end}
}

// AllVersions returns a query visiting every version of every row.
func AllVersions() TemporalQuery {
	return TemporalQuery{Mode: QueryAll}
}

// Current returns a query visiting only current versions.
func Current() TemporalQuery {
	return TemporalQuery{Mode: QueryCurrent}
}

// Where returns a copy of the query with a value filter attached.
func (q TemporalQuery) Where(p Predicate) TemporalQuery {
	q.Filter = p
	return q
}

// Project returns a copy of the query that yields only the named
// columns, in the given order.
func (q TemporalQuery) Project(columns ...string) TemporalQuery {
	q.Columns = columns
	return q
}

// Validate checks the query's window before any row is visited. Every
// interval mode requires Start < End; an empty or inverted window fails
// with ErrInvalidInterval.
func (q TemporalQuery) Validate() error {
	switch q.Mode {
	case QueryCurrent, QueryAll:
		return nil
	case QueryAsOf:
		return nil
	case QueryFromTo, QueryBetween, QueryContainedIn:
		if q.Start >= q.End {
			return NewInvalidIntervalError(q.Mode.String(), q.Start, q.End)
		}
		return nil
	}
	return NewInvalidIntervalError(q.Mode.String(), q.Start, q.End)
}

// Matches reports whether a version with the interval [validFrom,
// validTo) is visited by the query. The caller is responsible for
// having validated the query first.
func (q TemporalQuery) Matches(validFrom, validTo int64) bool {
	switch q.Mode {
	case QueryCurrent:
		return validTo == MaxTimestamp
	case QueryAsOf:
		return validFrom <= q.T && q.T < validTo
	case QueryFromTo:
		return validFrom < q.End && validTo > q.Start
	case QueryBetween:
		return validFrom <= q.End && validTo > q.Start
	case QueryContainedIn:
		return validFrom >= q.Start && validTo <= q.End
	case QueryAll:
		return true
	}
	return false
}
