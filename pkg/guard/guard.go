// Package guard rejects statements that would fail or mislead at execution
// time: predicates applied to columns of the wrong type, non-SELECT
// statements, and SQL the server cannot parse.
package guard

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// Catalog is the metadata and parse surface the guard needs.
type Catalog interface {
	Column(ctx context.Context, db, table, column string) (schema.ColumnMeta, bool, error)
	Validate(ctx context.Context, db, query string) error
}

// TypeGuardViolation reports a predicate whose column has the wrong type.
type TypeGuardViolation struct {
	Predicate string // TRUNC, LIKE or TO_DATE comparison
	Table     string
	Column    string
	Type      string
	Want      schema.TypeFamily
}

func (v *TypeGuardViolation) Error() string {
	return fmt.Sprintf("%s requires a %s column, but %s.%s is %s", v.Predicate, v.Want, v.Table, v.Column, v.Type)
}

// Guard checks statements before they run.
type Guard struct {
	catalog Catalog
	logger  *zap.Logger
}

// New creates a guard.
func New(catalog Catalog, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{catalog: catalog, logger: logger.Named("predicate-guard")}
}

// wrapperFuncs pass their single column argument through to a LIKE.
var wrapperFuncs = map[string]bool{"UPPER": true, "LOWER": true, "TRIM": true, "LTRIM": true, "RTRIM": true}

// EnforcePredicateTypeCompat returns a *TypeGuardViolation for the first
// TRUNC(col) on a non-date column, col LIKE on a non-character column, or
// col compared with TO_DATE(...) on a non-date column. Columns are resolved
// through the statement's table aliases. Columns that cannot be resolved, or
// whose metadata cannot be read, are let through.
func (g *Guard) EnforcePredicateTypeCompat(ctx context.Context, sqlText, db string) error {
	tokens := sqlutil.Tokenize(sqlText)
	refs := sqlutil.TableRefs(sqlText)
	res := &resolver{
		ctx:     ctx,
		catalog: g.catalog,
		db:      db,
		logger:  g.logger,
		aliases: aliasMap(refs),
		tables:  tableNames(refs),
	}

	for i, t := range tokens {
		var (
			ref       columnRef
			ok        bool
			predicate string
			want      schema.TypeFamily
		)
		switch {
		case t.Is("TRUNC") && i+1 < len(tokens) && tokens[i+1].IsPunct("("):
			ref, ok = soleColumnArg(tokens, i+1)
			predicate, want = "TRUNC", schema.FamilyDate
		case t.Is("LIKE"):
			ref, ok = columnBefore(tokens, i, true)
			predicate, want = "LIKE", schema.FamilyChar
		case (sqlutil.IsComparison(t) || t.Is("BETWEEN")) && i+1 < len(tokens) && tokens[i+1].Is("TO_DATE"):
			ref, ok = columnBefore(tokens, i, false)
			predicate, want = "TO_DATE comparison", schema.FamilyDate
		}
		if !ok {
			continue
		}

		table, meta, found := res.resolve(ref)
		if !found || meta.Family() == want {
			continue
		}
		g.logger.Info("Rejecting type-incompatible predicate",
			zap.String("predicate", predicate),
			zap.String("column", table+"."+meta.Name),
			zap.String("type", meta.OracleType))
		return &TypeGuardViolation{
			Predicate: predicate,
			Table:     table,
			Column:    meta.Name,
			Type:      meta.OracleType,
			Want:      want,
		}
	}
	return nil
}

type columnRef struct {
	qualifier string
	name      string
}

func aliasMap(refs []sqlutil.TableRef) map[string]string {
	aliases := make(map[string]string, len(refs)*2)
	for _, r := range refs {
		name := strings.ToUpper(r.Name)
		if _, ok := aliases[name]; !ok {
			aliases[name] = name
		}
		if short := name[strings.LastIndexByte(name, '.')+1:]; short != name {
			if _, ok := aliases[short]; !ok {
				aliases[short] = name
			}
		}
		if r.Alias != "" {
			aliases[strings.ToUpper(r.Alias)] = name
		}
	}
	return aliases
}

// tableNames lists the distinct tables in statement order.
func tableNames(refs []sqlutil.TableRef) []string {
	seen := make(map[string]bool, len(refs))
	var names []string
	for _, r := range refs {
		name := strings.ToUpper(r.Name)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

type resolver struct {
	ctx     context.Context
	catalog Catalog
	db      string
	logger  *zap.Logger
	aliases map[string]string
	tables  []string
}

// resolve finds the table owning a column reference. Unqualified names are
// looked up in every referenced table, first match wins.
func (r *resolver) resolve(ref columnRef) (string, schema.ColumnMeta, bool) {
	if ref.qualifier != "" {
		table, ok := r.aliases[strings.ToUpper(ref.qualifier)]
		if !ok {
			return "", schema.ColumnMeta{}, false
		}
		meta, ok := r.lookup(table, ref.name)
		return table, meta, ok
	}
	for _, table := range r.tables {
		if meta, ok := r.lookup(table, ref.name); ok {
			return table, meta, true
		}
	}
	return "", schema.ColumnMeta{}, false
}

func (r *resolver) lookup(table, column string) (schema.ColumnMeta, bool) {
	meta, ok, err := r.catalog.Column(r.ctx, r.db, table, column)
	if err != nil {
		r.logger.Debug("Column lookup failed, letting predicate through",
			zap.String("table", table),
			zap.String("column", column),
			zap.String("error", logging.SanitizeError(err)))
		return schema.ColumnMeta{}, false
	}
	return meta, ok
}

// identAt reads a possibly qualified identifier starting at i and returns
// the index just past it.
func identAt(tokens []sqlutil.Token, i int) (columnRef, int, bool) {
	if i >= len(tokens) || !isIdent(tokens[i]) {
		return columnRef{}, i, false
	}
	ref := columnRef{name: tokens[i].Unquoted()}
	if i+2 < len(tokens) && tokens[i+1].IsPunct(".") && isIdent(tokens[i+2]) {
		ref = columnRef{qualifier: ref.name, name: tokens[i+2].Unquoted()}
		return ref, i + 3, true
	}
	return ref, i + 1, true
}

func isIdent(t sqlutil.Token) bool {
	return t.Kind == sqlutil.TokenWord || t.Kind == sqlutil.TokenQuotedIdent
}

// soleColumnArg returns the column when the call opened at tokens[open] takes
// a bare column as its first argument, e.g. TRUNC(col) or TRUNC(p.col,'MM').
func soleColumnArg(tokens []sqlutil.Token, open int) (columnRef, bool) {
	ref, next, ok := identAt(tokens, open+1)
	if !ok || next >= len(tokens) {
		return columnRef{}, false
	}
	if !tokens[next].IsPunct(")") && !tokens[next].IsPunct(",") {
		return columnRef{}, false
	}
	if ref.qualifier == "" && isPseudoColumn(ref.name) {
		return columnRef{}, false
	}
	return ref, true
}

// columnBefore returns the column operand ending just before the operator at
// i. A NOT before the operator is skipped. With unwrap set, a column inside
// UPPER(...) and similar pass-through functions counts too.
func columnBefore(tokens []sqlutil.Token, i int, unwrap bool) (columnRef, bool) {
	j := i - 1
	if j >= 0 && tokens[j].Is("NOT") {
		j--
	}
	if j < 0 {
		return columnRef{}, false
	}

	if tokens[j].IsPunct(")") {
		if !unwrap {
			return columnRef{}, false
		}
		open := matchingOpen(tokens, j)
		if open < 1 || !wrapperFuncs[strings.ToUpper(tokens[open-1].Text)] || tokens[open-1].Kind != sqlutil.TokenWord {
			return columnRef{}, false
		}
		ref, next, ok := identAt(tokens, open+1)
		if !ok || next != j {
			return columnRef{}, false
		}
		return ref, true
	}

	if !isIdent(tokens[j]) {
		return columnRef{}, false
	}
	if tokens[j].Kind == sqlutil.TokenWord && isPseudoColumn(tokens[j].Text) {
		return columnRef{}, false
	}
	ref := columnRef{name: tokens[j].Unquoted()}
	if j >= 2 && tokens[j-1].IsPunct(".") && isIdent(tokens[j-2]) {
		ref.qualifier = tokens[j-2].Unquoted()
	}
	return ref, true
}

func matchingOpen(tokens []sqlutil.Token, closeIdx int) int {
	depth := tokens[closeIdx].Depth
	for k := closeIdx - 1; k >= 0; k-- {
		if tokens[k].IsPunct("(") && tokens[k].Depth == depth {
			return k
		}
	}
	return -1
}

func isPseudoColumn(word string) bool {
	switch strings.ToUpper(word) {
	case "SYSDATE", "SYSTIMESTAMP", "CURRENT_DATE", "CURRENT_TIMESTAMP", "ROWNUM", "NULL":
		return true
	}
	return false
}
