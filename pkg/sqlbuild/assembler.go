package sqlbuild

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/schema"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/workerpool"
)

const (
	// MaxLimit caps FETCH FIRST for assembled statements.
	MaxLimit = 500

	// countAlias is the output column used when metrics degrade to a row count.
	// ROWS is reserved in Oracle, so it is always quoted.
	countAlias = `"ROWS"`
)

// Catalog is the metadata and probe surface the assembler needs.
type Catalog interface {
	Columns(ctx context.Context, db, table string) ([]schema.ColumnMeta, error)
	DateColumns(ctx context.Context, db, table string) ([]string, error)
	Probe(ctx context.Context, db, query string, args ...any) (bool, error)
}

// Assembler turns query plans into Oracle SQL. It is deterministic apart
// from metadata lookups and date-column probes.
type Assembler struct {
	catalog Catalog
	dates   *dates.Extractor
	pool    *workerpool.Pool
	logger  *zap.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(catalog Catalog, extractor *dates.Extractor, pool *workerpool.Pool, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = dates.NewExtractor(0)
	}
	if pool == nil {
		pool = workerpool.New(workerpool.DefaultConfig(), logger)
	}
	return &Assembler{
		catalog: catalog,
		dates:   extractor,
		pool:    pool,
		logger:  logger.Named("sql-assembler"),
	}
}

// toCharFormats are the only bucketing masks accepted in TO_CHAR dimensions.
var toCharFormats = map[string]bool{
	"MON-YY":      true,
	"MON-YYYY":    true,
	"YYYY-MM":     true,
	"YYYY":        true,
	"DD-MON-YYYY": true,
}

var toCharPattern = regexp.MustCompile(`(?i)^\s*TO_CHAR\s*\(\s*([A-Za-z][A-Za-z0-9_$#]*(?:\.[A-Za-z][A-Za-z0-9_$#]*)?)\s*,\s*'([^']+)'\s*\)\s*$`)

// BuildSQLFromPlan renders a plan against database db. The user's question
// supplies the date window, which is attached to the best date column.
// Plans that cannot be rendered faithfully return a *BuildError.
func (a *Assembler) BuildSQLFromPlan(ctx context.Context, plan *QueryPlan, db, userQuery string) (string, error) {
	if plan == nil {
		return "", &BuildError{Field: "plan", Reason: "no plan"}
	}

	sc, err := a.loadScope(ctx, db, plan)
	if err != nil {
		return "", err
	}

	var (
		selectItems []string
		groupItems  []string
		orderable   = map[string]string{}
	)

	for _, d := range plan.Dims {
		item, group, key, err := a.renderDimension(sc, d)
		if err != nil {
			return "", err
		}
		selectItems = append(selectItems, item)
		groupItems = append(groupItems, group)
		orderable[key] = key
	}

	metricItems, metricKeys := a.renderMetrics(sc, plan.Metrics)
	selectItems = append(selectItems, metricItems...)
	for _, k := range metricKeys {
		if k == "ROWS" {
			orderable[k] = countAlias
		} else {
			orderable[k] = k
		}
	}

	var preds []string
	for _, f := range plan.Filters {
		pred, ok, err := a.renderFilter(sc, f, userQuery)
		if err != nil {
			return "", err
		}
		if ok {
			preds = append(preds, pred)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(selectItems) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(selectItems, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(sc.fromClause())
	if len(preds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
	}
	if len(plan.Dims) > 0 && len(plan.Metrics) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupItems, ", "))
	}
	if order := renderOrderBy(plan.OrderBy, orderable); order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(order)
	}
	if plan.Limit != nil {
		fmt.Fprintf(&b, " FETCH FIRST %d ROWS ONLY", ClampLimit(*plan.Limit))
	}
	sqlText := b.String()

	if r, ok := a.dates.ExtractRange(userQuery); ok {
		sqlText = a.attachRange(ctx, db, sc, plan, r, sqlText)
	}

	a.logger.Debug("Assembled SQL from plan",
		zap.String("table", sc.base().name),
		zap.String("sql", logging.SanitizeQuery(sqlText)))
	return sqlText, nil
}

// ClampLimit bounds a requested row limit to [1, MaxLimit].
func ClampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func (a *Assembler) renderDimension(sc *scope, d Dimension) (item, group, key string, err error) {
	if !d.IsExpr() {
		if !validColumnRef(d.Column) {
			return "", "", "", &BuildError{Field: "dims", Value: d.Column, Reason: "not a column name"}
		}
		ref, _, ok := sc.resolve(d.Column)
		if !ok {
			return "", "", "", &BuildError{Field: "dims", Value: d.Column, Reason: "column not found on " + sc.names()}
		}
		return ref, ref, bareName(d.Column), nil
	}

	m := toCharPattern.FindStringSubmatch(d.Expr)
	if m == nil {
		return "", "", "", &BuildError{Field: "dims", Value: d.Expr, Reason: "only TO_CHAR(column,'format') expressions are supported"}
	}
	format := strings.ToUpper(m[2])
	if !toCharFormats[format] {
		return "", "", "", &BuildError{Field: "dims", Value: d.Expr, Reason: "TO_CHAR format " + format + " is not allowed"}
	}
	ref, meta, ok := sc.resolve(m[1])
	if !ok || !meta.IsDate() {
		return "", "", "", &BuildError{Field: "dims", Value: d.Expr, Reason: "TO_CHAR column is not a date or timestamp"}
	}

	alias := strings.ToUpper(strings.TrimSpace(d.As))
	if alias == "" {
		alias = "PERIOD"
	}
	if !sqlutil.IsPlainIdentifier(alias) {
		return "", "", "", &BuildError{Field: "dims", Value: d.As, Reason: "alias is not a plain identifier"}
	}
	expr := fmt.Sprintf("TO_CHAR(%s,'%s')", ref, format)
	return expr + " AS " + alias, expr, alias, nil
}

// renderMetrics sums numeric metric columns. If any metric is not a
// confirmed numeric column the whole list becomes a row count.
func (a *Assembler) renderMetrics(sc *scope, metrics []string) (items, keys []string) {
	if len(metrics) == 0 {
		return nil, nil
	}
	for _, m := range metrics {
		m = strings.TrimSpace(m)
		if !validColumnRef(m) {
			return a.countFallback(m)
		}
		ref, meta, ok := sc.resolve(m)
		if !ok || !meta.IsNumeric() {
			return a.countFallback(m)
		}
		name := bareName(m)
		items = append(items, fmt.Sprintf("SUM(%s) AS %s", ref, name))
		keys = append(keys, name)
	}
	return items, keys
}

func (a *Assembler) countFallback(metric string) ([]string, []string) {
	if !isCountMetric(metric) {
		a.logger.Warn("Metric is not numeric; replacing metrics with a row count",
			zap.String("metric", metric))
	}
	return []string{"COUNT(*) AS " + countAlias}, []string{"ROWS"}
}

func isCountMetric(m string) bool {
	m = strings.ToUpper(strings.ReplaceAll(m, " ", ""))
	return m == "*" || m == "COUNT(*)" || m == "ROWS"
}

func renderOrderBy(order []OrderBy, orderable map[string]string) string {
	var parts []string
	for _, o := range order {
		rendered, ok := orderable[bareName(o.Key)]
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(o.Dir)) {
		case "DESC":
			rendered += " DESC"
		case "ASC":
			rendered += " ASC"
		}
		parts = append(parts, rendered)
	}
	return strings.Join(parts, ", ")
}

// attachRange applies the question's date window once, to the explicitly
// named date column when it is really a date, else to the first date column
// whose probe finds rows. A window no column can hold is discarded.
func (a *Assembler) attachRange(ctx context.Context, db string, sc *scope, plan *QueryPlan, r dates.Range, sqlText string) string {
	base := sc.base()
	dateCols, err := a.catalog.DateColumns(ctx, db, base.name)
	if err != nil || len(dateCols) == 0 {
		a.logger.Debug("No date columns to attach range to", zap.String("table", base.name))
		return sqlText
	}

	column := ""
	for _, explicit := range []string{plan.DateCol, r.Column} {
		if explicit == "" {
			continue
		}
		if meta, ok := base.cols[bareName(explicit)]; ok && meta.IsDate() {
			column = meta.Name
			break
		}
	}
	if column == "" {
		var found bool
		column, found = a.PickBestDateColumn(ctx, db, base.name, r, dateCols)
		if !found {
			a.logger.Info("Discarding date range: no date column has rows in it",
				zap.String("table", base.name),
				zap.String("source", string(r.Source)))
			return sqlText
		}
	}

	for _, f := range plan.Filters {
		if bareName(f.Col) == column && strings.Contains(f.NormalizedOp(), "BETWEEN") {
			return sqlText
		}
	}

	sqlText = DropConflictingDatePredicates(sqlText, column, dateCols)
	return ApplyDateRangeConstraint(sqlText, base.qualify(column), r)
}

// PickBestDateColumn probes each candidate date column for rows inside the
// range and returns the earliest candidate with a hit.
func (a *Assembler) PickBestDateColumn(ctx context.Context, db, table string, r dates.Range, candidates []string) (string, bool) {
	items := make([]workerpool.Item[bool], len(candidates))
	for i, col := range candidates {
		probe := fmt.Sprintf("SELECT 1 FROM %s WHERE %s", table, r.Predicate(col))
		items[i] = workerpool.Item[bool]{
			ID: table + "." + col,
			Execute: func(ctx context.Context) (bool, error) {
				return a.catalog.Probe(ctx, db, probe)
			},
		}
	}
	idx := workerpool.FirstMatch(ctx, a.pool, items, func(hit bool) bool { return hit })
	if idx < 0 {
		return "", false
	}
	return candidates[idx], true
}

// ApplyDateRangeConstraint ANDs "<column> BETWEEN start AND end" into the
// statement's WHERE clause, creating one ahead of GROUP BY, ORDER BY or
// FETCH when needed.
func ApplyDateRangeConstraint(sqlText, column string, r dates.Range) string {
	return sqlutil.InjectPredicate(sqlText, r.Predicate(column))
}
