// Package labelfilter adds label and code predicates to generated SQL. Column
// choice is driven by probing the live table for the value, never by
// guessing from column names alone.
package labelfilter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/entities"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/sqlbuild"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/workerpool"
)

// maxProbeColumns caps the text columns probed per table.
const maxProbeColumns = 12

// Catalog is the metadata and probe surface the injector needs.
type Catalog interface {
	TextColumns(ctx context.Context, db, table string) ([]string, error)
	ForeignKeys(ctx context.Context, db, table string) ([]schema.ForeignKey, error)
	Probe(ctx context.Context, db, query string, args ...any) (bool, error)
}

// Injector adds a label predicate for the value a question names.
type Injector struct {
	catalog  Catalog
	entities *entities.Extractor
	pool     *workerpool.Pool
	logger   *zap.Logger
}

// NewInjector creates an injector. A nil extractor uses the default
// organisation synonyms.
func NewInjector(catalog Catalog, extractor *entities.Extractor, pool *workerpool.Pool, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = entities.NewExtractor(nil)
	}
	if pool == nil {
		pool = workerpool.New(workerpool.DefaultConfig(), logger)
	}
	return &Injector{
		catalog:  catalog,
		entities: extractor,
		pool:     pool,
		logger:   logger.Named("label-filter"),
	}
}

// wisePattern matches "floor-wise" style phrasing, which asks for a grouping
// rather than a filter.
var wisePattern = regexp.MustCompile(`(?i)\b[a-z]+[-\s]wise\b`)

// EnsureLabelFilter ANDs a label predicate into sqlText for the most
// specific value in userQuery that some text column actually holds.
// Structured codes are tried before generic literals, and the base table
// before its foreign-key parents. The statement is returned unchanged when
// the question groups "-wise", when WHERE already filters on a text
// literal, or when no probe finds the value.
func (i *Injector) EnsureLabelFilter(ctx context.Context, sqlText, userQuery, db string) string {
	if wisePattern.MatchString(userQuery) {
		return sqlText
	}
	if HasTextLiteralPredicate(sqlText) {
		return sqlText
	}
	base, ok := sqlutil.FirstTable(sqlText)
	if !ok {
		return sqlText
	}

	question := i.entities.ApplyOrgSynonyms(userQuery)

	for _, code := range i.entities.ExtractStructuredCodes(question) {
		if pred, ok := i.predicateFor(ctx, db, base, code.Value, false); ok {
			i.logger.Debug("Injecting structured code filter",
				zap.String("kind", string(code.Kind)),
				zap.String("table", base.Name))
			return sqlutil.InjectPredicate(sqlText, pred)
		}
	}

	for _, literal := range i.entities.ExtractLiterals(question) {
		if pred, ok := i.predicateFor(ctx, db, base, literal, true); ok {
			i.logger.Debug("Injecting label filter",
				zap.String("literal", literal),
				zap.String("table", base.Name))
			return sqlutil.InjectPredicate(sqlText, pred)
		}
	}
	return sqlText
}

// ValueAwareTextFilter returns a predicate matching literal on the text
// column of table that holds it, tolerating hyphen and space variants
// ("North-Side" and "North Side"). ok is false when no column holds it.
func (i *Injector) ValueAwareTextFilter(ctx context.Context, db, table, alias, literal string) (string, bool) {
	value, ok := cleanLiteral(literal)
	if !ok {
		return "", false
	}
	col, ok := i.bestColumn(ctx, db, table, value)
	if !ok {
		return "", false
	}
	return likePredicate(qualify(alias, col), value, true), true
}

// predicateFor tries the base table, then one foreign-key hop.
func (i *Injector) predicateFor(ctx context.Context, db string, base sqlutil.TableRef, literal string, normalize bool) (string, bool) {
	value, ok := cleanLiteral(literal)
	if !ok {
		return "", false
	}

	if col, ok := i.bestColumn(ctx, db, base.Name, value); ok {
		ref := col
		if base.Alias != "" {
			ref = base.Alias + "." + col
		}
		return likePredicate(ref, value, normalize), true
	}

	fks, err := i.catalog.ForeignKeys(ctx, db, base.Name)
	if err != nil {
		i.logger.Debug("Foreign key lookup failed",
			zap.String("table", base.Name),
			zap.String("error", logging.SanitizeError(err)))
		return "", false
	}
	for _, fk := range fks {
		col, ok := i.bestColumn(ctx, db, fk.ParentTable, value)
		if !ok {
			continue
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s lf WHERE lf.%s = %s AND %s)",
			fk.ParentTable, fk.ParentColumn, qualify(base.Ref(), fk.Column),
			likePredicate("lf."+col, value, normalize)), true
	}
	return "", false
}

// bestColumn probes the table's text columns for value and returns the most
// label-like column with a hit. Columns without a hit are never returned.
func (i *Injector) bestColumn(ctx context.Context, db, table, value string) (string, bool) {
	cols, err := i.catalog.TextColumns(ctx, db, table)
	if err != nil || len(cols) == 0 {
		return "", false
	}
	cols = rankColumns(cols)
	if len(cols) > maxProbeColumns {
		cols = cols[:maxProbeColumns]
	}

	pattern := "%" + strings.ToUpper(value) + "%"
	normalized := "%" + strings.ToUpper(normalizeSeparators(value)) + "%"
	items := make([]workerpool.Item[bool], len(cols))
	for n, col := range cols {
		query := fmt.Sprintf("SELECT 1 FROM %s WHERE UPPER(%s) LIKE :1 OR UPPER(REPLACE(%s,'-',' ')) LIKE :2", table, col, col)
		items[n] = workerpool.Item[bool]{
			ID: table + "." + col,
			Execute: func(ctx context.Context) (bool, error) {
				return i.catalog.Probe(ctx, db, query, pattern, normalized)
			},
		}
	}

	idx := workerpool.FirstMatch(ctx, i.pool, items, func(hit bool) bool { return hit })
	if idx < 0 {
		return "", false
	}
	return cols[idx], true
}

// labelHints rank column names that usually hold human-entered labels.
var labelHints = []string{"NAME", "LABEL", "CODE", "TITLE", "DESC", "BUYER", "FLOOR", "LINE", "STYLE", "ORDER", "NO"}

func labelScore(col string) int {
	col = strings.ToUpper(col)
	for n, hint := range labelHints {
		if strings.Contains(col, hint) {
			return len(labelHints) - n
		}
	}
	return 0
}

// rankColumns orders columns by label score, keeping column order on ties.
func rankColumns(cols []string) []string {
	ranked := append([]string(nil), cols...)
	sort.SliceStable(ranked, func(a, b int) bool {
		return labelScore(ranked[a]) > labelScore(ranked[b])
	})
	return ranked
}

// cleanLiteral rejects empty values, and values carrying quote or comment
// characters that libinjection flags.
func cleanLiteral(literal string) (string, bool) {
	value := strings.TrimSpace(literal)
	if value == "" {
		return "", false
	}
	if strings.ContainsAny(value, `'";`) || strings.Contains(value, "--") || strings.Contains(value, "/*") {
		if sqlutil.CheckLiteralForInjection(value) != nil {
			return "", false
		}
	}
	return value, true
}

func normalizeSeparators(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "-", " ")), " ")
}

func likePredicate(ref, value string, normalize bool) string {
	exact := fmt.Sprintf("UPPER(%s) LIKE %s", ref, sqlutil.QuoteLiteral("%"+strings.ToUpper(value)+"%"))
	norm := strings.ToUpper(normalizeSeparators(value))
	if !normalize || norm == strings.ToUpper(value) {
		return exact
	}
	return fmt.Sprintf("(%s OR UPPER(REPLACE(%s,'-',' ')) LIKE %s)", exact, ref, sqlutil.QuoteLiteral("%"+norm+"%"))
}

func qualify(prefix, col string) string {
	if prefix == "" {
		return col
	}
	return prefix + "." + col
}

// HasTextLiteralPredicate reports whether the outermost WHERE clause already
// compares something with a quoted literal outside date handling
// (TO_DATE, TO_CHAR, TRUNC or DATE '...').
func HasTextLiteralPredicate(sqlText string) bool {
	body := sqlutil.WhereClause(sqlText)
	if body == "" {
		return false
	}
	conjuncts, ok := sqlbuild.SplitConjuncts(body)
	if !ok {
		conjuncts = []string{body}
	}
	for _, c := range conjuncts {
		tokens := sqlutil.Tokenize(c)
		hasString, dateish := false, false
		for n, t := range tokens {
			switch {
			case t.Kind == sqlutil.TokenString && !sqlutil.IsDateFunctionArgument(tokens, n):
				hasString = true
			case t.Is("TO_DATE"), t.Is("TO_CHAR"), t.Is("TO_TIMESTAMP"), t.Is("TRUNC"), t.Is("DATE"):
				dateish = true
			}
		}
		if hasString && !dateish {
			return true
		}
	}
	return false
}
