// Package sqlbuild assembles Oracle SELECT statements from structured query
// plans and attaches the date window a question asks about.
package sqlbuild

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueryPlan is the structured description of a query produced by a planner.
// It is read-only once built.
type QueryPlan struct {
	Table   string      `json:"table"`
	Dims    []Dimension `json:"dims,omitempty"`
	Metrics []string    `json:"metrics,omitempty"`
	DateCol string      `json:"date_col,omitempty"`
	Filters []Filter    `json:"filters,omitempty"`
	OrderBy []OrderBy   `json:"order_by,omitempty"`
	Limit   *int        `json:"limit,omitempty"`
	// Join optionally brings in a second table.
	Join *Join `json:"join,omitempty"`
}

// Dimension is either a plain column or a TO_CHAR bucket with an alias.
type Dimension struct {
	Column string `json:"-"`
	Expr   string `json:"expr,omitempty"`
	As     string `json:"as,omitempty"`
}

// IsExpr reports whether the dimension is an expression rather than a column.
func (d Dimension) IsExpr() bool { return d.Expr != "" }

// UnmarshalJSON accepts either "COLUMN" or {"expr": "...", "as": "..."}.
func (d *Dimension) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = Dimension{Column: s}
		return nil
	}
	var obj struct {
		Expr string `json:"expr"`
		As   string `json:"as"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("dimension must be a column name or {expr, as}: %w", err)
	}
	if obj.Expr == "" {
		return fmt.Errorf("dimension object is missing expr")
	}
	*d = Dimension{Expr: obj.Expr, As: obj.As}
	return nil
}

// MarshalJSON writes plain columns back as strings.
func (d Dimension) MarshalJSON() ([]byte, error) {
	if !d.IsExpr() {
		return json.Marshal(d.Column)
	}
	return json.Marshal(struct {
		Expr string `json:"expr"`
		As   string `json:"as,omitempty"`
	}{d.Expr, d.As})
}

// Filter is a single predicate. Val is a string, number, bool, list or nil.
type Filter struct {
	Col string `json:"col"`
	Op  string `json:"op"`
	Val any    `json:"val"`
}

// NormalizedOp returns the operator upper-cased with single spaces.
func (f Filter) NormalizedOp() string {
	op := strings.ToUpper(strings.Join(strings.Fields(f.Op), " "))
	if op == "" {
		return "="
	}
	if op == "==" {
		return "="
	}
	return op
}

// OrderBy orders the result by a metric, dimension or TO_CHAR alias.
type OrderBy struct {
	Key string `json:"key"`
	Dir string `json:"dir,omitempty"`
}

// Join is an inner join from the plan's table to a second table.
type Join struct {
	Table string `json:"table"`
	// LeftCol is on the plan's table, RightCol on the joined table.
	LeftCol  string `json:"left_col"`
	RightCol string `json:"right_col"`
	Type     string `json:"type,omitempty"`
}

// ParsePlan decodes a plan from JSON.
func ParsePlan(data []byte) (*QueryPlan, error) {
	var plan QueryPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse query plan: %w", err)
	}
	if strings.TrimSpace(plan.Table) == "" {
		return nil, &BuildError{Field: "table", Reason: "plan has no table"}
	}
	return &plan, nil
}
