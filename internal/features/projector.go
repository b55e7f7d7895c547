// Package features turns transactions into the ordered feature rows the
// fraud model was trained on.
package features

import (
	"errors"
	"fmt"

	"fraud-serving/internal/txn"
)

// ErrSchemaMismatch is returned when a configured feature column is not a
// field of txn.Transaction.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Vector is one model input row. Values[i] belongs to Columns[i]; numeric
// columns hold float64 and categorical columns hold string.
type Vector struct {
	Columns []string `json:"columns"`
	Values  []any    `json:"values"`
}

// Len returns the number of features in the row.
func (v Vector) Len() int { return len(v.Values) }

type accessor func(txn.Transaction) any

// columns maps every projectable column name onto its transaction field.
var columns = map[string]accessor{
	"time_ind":     func(t txn.Transaction) any { return float64(t.TimeIndex) },
	"transac_type": func(t txn.Transaction) any { return t.Type },
	"amount":       func(t txn.Transaction) any { return t.Amount.InexactFloat64() },
	"src_acc":      func(t txn.Transaction) any { return t.SourceAccount },
	"src_bal":      func(t txn.Transaction) any { return t.SourceBalanceBefore.InexactFloat64() },
	"src_new_bal":  func(t txn.Transaction) any { return t.SourceBalanceAfter.InexactFloat64() },
	"dst_acc":      func(t txn.Transaction) any { return t.DestinationAccount },
	"dst_bal":      func(t txn.Transaction) any { return t.DestinationBalanceBefore.InexactFloat64() },
	"dst_new_bal":  func(t txn.Transaction) any { return t.DestinationBalanceAfter.InexactFloat64() },
}

// fieldOrder is the declaration order of the transaction fields.
var fieldOrder = []string{
	"time_ind", "transac_type", "amount",
	"src_acc", "src_bal", "src_new_bal",
	"dst_acc", "dst_bal", "dst_new_bal",
}

// Columns returns the names of all projectable columns in field order.
func Columns() []string {
	names := make([]string, len(fieldOrder))
	copy(names, fieldOrder)
	return names
}

// Projector builds feature rows in a fixed column order.
type Projector struct {
	order     []string
	accessors []accessor
}

// NewProjector resolves the column order against the known transaction
// fields. It fails with ErrSchemaMismatch on the first unknown or repeated
// column, so a misconfigured model schema is caught at startup.
func NewProjector(order []string) (*Projector, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no feature columns configured", ErrSchemaMismatch)
	}

	p := &Projector{
		order:     make([]string, len(order)),
		accessors: make([]accessor, len(order)),
	}
	seen := make(map[string]struct{}, len(order))
	for i, name := range order {
		get, ok := columns[name]
		if !ok {
			return nil, fmt.Errorf("%w: column %q is not a transaction field", ErrSchemaMismatch, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: column %q listed twice", ErrSchemaMismatch, name)
		}
		seen[name] = struct{}{}
		p.order[i] = name
		p.accessors[i] = get
	}
	return p, nil
}

// Order returns a copy of the projector's column order.
func (p *Projector) Order() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Project returns the feature row for t.
func (p *Projector) Project(t txn.Transaction) (Vector, error) {
	if p == nil || len(p.accessors) == 0 || len(p.accessors) != len(p.order) {
		return Vector{}, fmt.Errorf("%w: projector has no resolved columns", ErrSchemaMismatch)
	}

	v := Vector{
		Columns: p.Order(),
		Values:  make([]any, len(p.accessors)),
	}
	for i, get := range p.accessors {
		v.Values[i] = get(t)
	}
	return v, nil
}
