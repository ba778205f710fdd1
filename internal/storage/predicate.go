package storage

import (
	"fmt"
	"strings"
)

// Operator enumerates the comparisons a predicate can apply.
type Operator int8

const (
	EQ Operator = iota
	NE
	GT
	GTE
	LT
	LTE
	ISNULL
	ISNOTNULL
)

func (op Operator) String() string {
	switch op {
	case EQ:
		return "="
	case NE:
		return "!="
	case GT:
		return ">"
	case GTE:
		return ">="
	case LT:
		return "<"
	case LTE:
		return "<="
	case ISNULL:
		return "IS NULL"
	case ISNOTNULL:
		return "IS NOT NULL"
	}
	return "?"
}

// Predicate is a boolean row filter used by scans and filtered indexes.
// Bind resolves column references once against a schema; Evaluate is
// then safe for concurrent use.
type Predicate interface {
	Bind(schema *Schema) error
	Evaluate(row Row) (bool, error)

	// Columns lists the columns the predicate reads, for dependency
	// checks when columns are dropped.
	Columns() []string

	String() string
}

// ComparePredicate compares one column against a constant. Comparisons
// involving NULL are false; use ISNULL or ISNOTNULL to test for NULL
// explicitly.
type ComparePredicate struct {
	Column string
	Op     Operator
	Value  ColumnValue

	ordinal int
}

// Compare builds a predicate testing column against value.
func Compare(column string, op Operator, value ColumnValue) *ComparePredicate {
	return &ComparePredicate{Column: column, Op: op, Value: value, ordinal: -1}
}

// IsNull builds a predicate matching rows where column is NULL.
func IsNull(column string) *ComparePredicate {
	return &ComparePredicate{Column: column, Op: ISNULL, ordinal: -1}
}

// IsNotNull builds a predicate matching rows where column is not NULL.
func IsNotNull(column string) *ComparePredicate {
	return &ComparePredicate{Column: column, Op: ISNOTNULL, ordinal: -1}
}

func (p *ComparePredicate) Bind(schema *Schema) error {
	idx := schema.ColumnIndex(p.Column)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, p.Column)
	}
	p.ordinal = idx
	return nil
}

func (p *ComparePredicate) Evaluate(row Row) (bool, error) {
	if p.ordinal < 0 || p.ordinal >= len(row) {
		return false, fmt.Errorf("predicate on %s is not bound", p.Column)
	}
	v := row[p.ordinal]
	isNull := v == nil || v.IsNull()

	switch p.Op {
	case ISNULL:
		return isNull, nil
	case ISNOTNULL:
		return !isNull, nil
	}

	if isNull || p.Value == nil || p.Value.IsNull() {
		return false, nil
	}

	cmp, err := v.Compare(p.Value)
	if err != nil {
		return false, err
	}
	switch p.Op {
	case EQ:
		return cmp == 0, nil
	case NE:
		return cmp != 0, nil
	case GT:
		return cmp > 0, nil
	case GTE:
		return cmp >= 0, nil
	case LT:
		return cmp < 0, nil
	case LTE:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %v", p.Op)
}

func (p *ComparePredicate) Columns() []string {
	return []string{p.Column}
}

func (p *ComparePredicate) String() string {
	switch p.Op {
	case ISNULL, ISNOTNULL:
		return fmt.Sprintf("%s %s", p.Column, p.Op)
	}
	return fmt.Sprintf("%s %s %s", p.Column, p.Op, p.Value.AsInterface())
}

// AndPredicate matches when every child matches.
type AndPredicate struct {
	preds []Predicate
}

// And combines predicates conjunctively.
func And(preds ...Predicate) *AndPredicate {
	return &AndPredicate{preds: preds}
}

func (p *AndPredicate) Bind(schema *Schema) error {
	for _, c := range p.preds {
		if err := c.Bind(schema); err != nil {
			return err
		}
	}
	return nil
}

func (p *AndPredicate) Evaluate(row Row) (bool, error) {
	for _, c := range p.preds {
		ok, err := c.Evaluate(row)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *AndPredicate) Columns() []string {
	return childColumns(p.preds)
}

// Children returns the conjuncts.
func (p *AndPredicate) Children() []Predicate {
	return p.preds
}

func (p *AndPredicate) String() string {
	return joinPredicates(p.preds, " AND ")
}

// OrPredicate matches when any child matches.
type OrPredicate struct {
	preds []Predicate
}

// Or combines predicates disjunctively.
func Or(preds ...Predicate) *OrPredicate {
	return &OrPredicate{preds: preds}
}

func (p *OrPredicate) Bind(schema *Schema) error {
	for _, c := range p.preds {
		if err := c.Bind(schema); err != nil {
			return err
		}
	}
	return nil
}

func (p *OrPredicate) Evaluate(row Row) (bool, error) {
	for _, c := range p.preds {
		ok, err := c.Evaluate(row)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *OrPredicate) Columns() []string {
	return childColumns(p.preds)
}

// Children returns the disjuncts.
func (p *OrPredicate) Children() []Predicate {
	return p.preds
}

func (p *OrPredicate) String() string {
	return joinPredicates(p.preds, " OR ")
}

// NotPredicate inverts its child.
type NotPredicate struct {
	pred Predicate
}

// Not inverts a predicate.
func Not(pred Predicate) *NotPredicate {
	return &NotPredicate{pred: pred}
}

func (p *NotPredicate) Bind(schema *Schema) error {
	return p.pred.Bind(schema)
}

func (p *NotPredicate) Evaluate(row Row) (bool, error) {
	ok, err := p.pred.Evaluate(row)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (p *NotPredicate) Columns() []string {
	return p.pred.Columns()
}

// Child returns the inverted predicate.
func (p *NotPredicate) Child() Predicate {
	return p.pred
}

func (p *NotPredicate) String() string {
	return "NOT (" + p.pred.String() + ")"
}

func childColumns(preds []Predicate) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, c := range preds {
		for _, name := range c.Columns() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			cols = append(cols, name)
		}
	}
	return cols
}

func joinPredicates(preds []Predicate, sep string) string {
	parts := make([]string, len(preds))
	for i, c := range preds {
		parts[i] = "(" + c.String() + ")"
	}
	return strings.Join(parts, sep)
}
