package sqlbuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// scopeTable is one table in the FROM clause with its column metadata.
type scopeTable struct {
	name  string
	alias string
	cols  map[string]schema.ColumnMeta
}

// qualify prefixes a column with the table alias when the statement has one.
func (t *scopeTable) qualify(col string) string {
	if t.alias == "" {
		return col
	}
	return t.alias + "." + col
}

// scope is the set of tables a plan reads. Columns are resolved against
// their owning table so joined statements stay unambiguous.
type scope struct {
	tables   []*scopeTable
	joinType string
	leftCol  string
	rightCol string
}

func (s *scope) base() *scopeTable { return s.tables[0] }

func (s *scope) names() string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.name
	}
	return strings.Join(names, ", ")
}

func (s *scope) hasMetadata() bool {
	for _, t := range s.tables {
		if len(t.cols) > 0 {
			return true
		}
	}
	return false
}

// resolve finds the table owning col and returns the qualified reference.
// A qualifier naming an alias or table restricts the search to that table.
// When no table has metadata at all the column passes through untyped.
func (s *scope) resolve(col string) (string, schema.ColumnMeta, bool) {
	qualifier, name := splitQualifier(col)

	for _, t := range s.tables {
		if qualifier != "" && qualifier != strings.ToUpper(t.alias) && qualifier != t.name {
			continue
		}
		if meta, ok := t.cols[name]; ok {
			return t.qualify(name), meta, true
		}
	}

	if !s.hasMetadata() {
		return s.base().qualify(name), schema.ColumnMeta{Name: name}, true
	}
	return "", schema.ColumnMeta{}, false
}

func (s *scope) fromClause() string {
	base := s.base()
	if len(s.tables) == 1 {
		return base.name
	}
	joined := s.tables[1]
	return fmt.Sprintf("%s %s %s %s %s ON %s = %s",
		base.name, base.alias, s.joinType, joined.name, joined.alias,
		base.qualify(s.leftCol), joined.qualify(s.rightCol))
}

func (a *Assembler) loadScope(ctx context.Context, db string, plan *QueryPlan) (*scope, error) {
	table := strings.ToUpper(strings.TrimSpace(plan.Table))
	if !validTableName(table) {
		return nil, &BuildError{Field: "table", Value: plan.Table, Reason: "not a table name"}
	}

	base, err := a.loadTable(ctx, db, table)
	if err != nil {
		return nil, err
	}
	sc := &scope{tables: []*scopeTable{base}}

	if plan.Join == nil {
		return sc, nil
	}

	j := plan.Join
	joinTable := strings.ToUpper(strings.TrimSpace(j.Table))
	if !validTableName(joinTable) {
		return nil, &BuildError{Field: "join", Value: j.Table, Reason: "not a table name"}
	}
	if !sqlutil.IsPlainIdentifier(bareName(j.LeftCol)) || !sqlutil.IsPlainIdentifier(bareName(j.RightCol)) {
		return nil, &BuildError{Field: "join", Value: j.LeftCol + " = " + j.RightCol, Reason: "join columns must be plain identifiers"}
	}
	switch strings.ToUpper(strings.TrimSpace(j.Type)) {
	case "", "INNER":
		sc.joinType = "JOIN"
	case "LEFT":
		sc.joinType = "LEFT JOIN"
	default:
		return nil, &BuildError{Field: "join", Value: j.Type, Reason: "only INNER and LEFT joins are supported"}
	}

	joined, err := a.loadTable(ctx, db, joinTable)
	if err != nil {
		return nil, err
	}
	base.alias, joined.alias = "a", "b"
	sc.tables = append(sc.tables, joined)
	sc.leftCol, sc.rightCol = bareName(j.LeftCol), bareName(j.RightCol)
	return sc, nil
}

func (a *Assembler) loadTable(ctx context.Context, db, table string) (*scopeTable, error) {
	cols, err := a.catalog.Columns(ctx, db, table)
	if err != nil {
		return nil, fmt.Errorf("load columns for %s: %w", table, err)
	}
	t := &scopeTable{name: table, cols: make(map[string]schema.ColumnMeta, len(cols))}
	for _, c := range cols {
		t.cols[c.Name] = c
	}
	return t, nil
}

// validTableName accepts TABLE or OWNER.TABLE with plain identifiers.
func validTableName(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !sqlutil.IsPlainIdentifier(p) {
			return false
		}
	}
	return true
}

// validColumnRef accepts COL or QUALIFIER.COL with plain identifiers.
func validColumnRef(col string) bool {
	return validTableName(strings.TrimSpace(col))
}

func splitQualifier(col string) (string, string) {
	col = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(col), `"`, ""))
	if dot := strings.LastIndex(col, "."); dot != -1 {
		return col[:dot], col[dot+1:]
	}
	return "", col
}

// bareName upper-cases a column reference and drops any qualifier.
func bareName(col string) string {
	_, name := splitQualifier(col)
	return name
}
