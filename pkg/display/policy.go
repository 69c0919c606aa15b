// Package display decides how query results are presented and, for short
// browse requests, whether to re-query for every column.
package display

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/entities"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/logging"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// Mode is how a result is rendered to the user.
type Mode string

const (
	ModeSummary Mode = "summary"
	ModeTable   Mode = "table"
	ModeBoth    Mode = "both"
)

const (
	// WidenLimit caps the rows fetched by a widened browse query.
	WidenLimit = 200

	// maxBrowseTokens is the most meaningful tokens a browse request may have.
	maxBrowseTokens = 5
)

var (
	wordPattern = regexp.MustCompile(`[a-z0-9]+`)

	tableWords    = map[string]bool{"show": true, "list": true, "table": true, "grid": true}
	summaryWords  = map[string]bool{"summary": true, "summarize": true, "report": true, "analysis": true, "analyze": true, "status": true}
	questionWords = map[string]bool{"who": true, "what": true, "which": true, "when": true, "where": true, "why": true, "how": true}

	// fieldWords mark a question asking for a specific value a person will want to see.
	fieldWords = map[string]bool{
		"name": true, "date": true, "id": true, "salary": true, "email": true, "phone": true,
		"mobile": true, "address": true, "designation": true, "code": true, "number": true,
		"department": true, "joining": true, "buyer": true, "supervisor": true,
	}
	whoIsPattern   = regexp.MustCompile(`(?i)^\s*(who\s+(is|was|are)|what\s+(is|was|are)\s+the\s+\w+)`)
	aggregateWords = map[string]bool{
		"total": true, "sum": true, "count": true, "average": true, "avg": true, "mean": true,
		"max": true, "min": true, "maximum": true, "minimum": true, "highest": true, "lowest": true,
		"top": true, "bottom": true, "by": true, "per": true, "wise": true, "trend": true, "compare": true,
		"many": true, "much": true,
	}
	filterWords = map[string]bool{
		"where": true, "whose": true, "with": true, "for": true, "from": true, "in": true, "of": true,
		"between": true, "since": true, "before": true, "after": true, "named": true, "than": true,
		"under": true, "at": true, "on": true,
	}
	browseVerbs = map[string]bool{"list": true, "show": true, "display": true, "browse": true, "view": true, "all": true}

	aggregateFuncPattern = regexp.MustCompile(`(?i)\b(SUM|COUNT|AVG|MIN|MAX|LISTAGG|STDDEV|MEDIAN)\s*\(`)
)

// DetermineDisplayMode picks the rendering for a question and its result
// row count. Explicit wording wins; questions default to a summary unless
// they ask for a field-shaped answer.
func DetermineDisplayMode(userQuery string, rowCount int) Mode {
	words := wordPattern.FindAllString(strings.ToLower(userQuery), -1)

	wantTable, wantSummary := false, false
	for _, w := range words {
		if tableWords[w] {
			wantTable = true
		}
		if summaryWords[w] {
			wantSummary = true
		}
	}
	switch {
	case wantTable && wantSummary:
		return ModeBoth
	case wantTable:
		return ModeTable
	case wantSummary:
		return ModeSummary
	}

	if len(words) > 0 && questionWords[words[0]] {
		if whoIsPattern.MatchString(userQuery) {
			return ModeBoth
		}
		for _, w := range words {
			if fieldWords[inflection.Singular(w)] {
				return ModeBoth
			}
		}
		return ModeSummary
	}

	switch {
	case rowCount <= 0:
		return ModeSummary
	case rowCount == 1:
		return ModeBoth
	default:
		return ModeTable
	}
}

// Executor runs a SELECT and returns at most limit rows.
type Executor interface {
	Execute(ctx context.Context, db, query string, limit int) (*datasource.QueryExecutionResult, error)
}

// Policy applies result-shaping decisions that need the database.
type Policy struct {
	executor Executor
	dates    *dates.Extractor
	entities *entities.Extractor
	logger   *zap.Logger
}

// NewPolicy creates a display policy.
func NewPolicy(executor Executor, dateExtractor *dates.Extractor, entityExtractor *entities.Extractor, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dateExtractor == nil {
		dateExtractor = dates.NewExtractor(0)
	}
	if entityExtractor == nil {
		entityExtractor = entities.NewExtractor(nil)
	}
	return &Policy{
		executor: executor,
		dates:    dateExtractor,
		entities: entityExtractor,
		logger:   logger.Named("display-policy"),
	}
}

// IsGenericBrowse reports whether a question is a short unqualified request
// such as "list employees": at most five meaningful tokens, a browse verb or
// a plural noun, no aggregation, no filter wording, no codes and no time
// window, and a statement without aggregates or GROUP BY.
func (p *Policy) IsGenericBrowse(userQuery, sqlText string) bool {
	if aggregateFuncPattern.MatchString(sqlText) || sqlutil.HasTopLevel(sqlText, "GROUP") {
		return false
	}
	if p.dates.HasExplicitTimeWindow(userQuery) || len(p.entities.ExtractStructuredCodes(userQuery)) > 0 {
		return false
	}

	words := wordPattern.FindAllString(strings.ToLower(userQuery), -1)
	meaningful, browse := 0, false
	for _, w := range words {
		switch {
		case aggregateWords[w], filterWords[w]:
			return false
		case strings.IndexFunc(w, isDigit) >= 0:
			return false
		case browseVerbs[w]:
			browse = true
		}
		if entities.IsStopword(w) {
			continue
		}
		meaningful++
		if inflection.Singular(w) != w {
			browse = true
		}
	}
	return browse && meaningful > 0 && meaningful <= maxBrowseTokens
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// WidenResultsIfNeeded re-queries a generic browse request as SELECT * on the
// same base table, keeping its WHERE clause, and returns the widened rows
// with the statement that produced them. The original rows come back when
// the request is not a browse, the statement joins tables or already selects
// everything, or the widened query fails or returns nothing.
func (p *Policy) WidenResultsIfNeeded(ctx context.Context, userQuery, sqlText, db string, rows *datasource.QueryExecutionResult) (*datasource.QueryExecutionResult, string, bool) {
	if !p.IsGenericBrowse(userQuery, sqlText) {
		return rows, sqlText, false
	}
	widened, ok := WidenedStatement(sqlText)
	if !ok {
		return rows, sqlText, false
	}

	result, err := p.executor.Execute(ctx, db, widened, WidenLimit)
	if err != nil {
		p.logger.Warn("Widened browse query failed, keeping original rows",
			zap.String("sql", logging.SanitizeQuery(widened)),
			zap.String("error", logging.SanitizeError(err)))
		return rows, sqlText, false
	}
	if result == nil || len(result.Rows) == 0 {
		p.logger.Debug("Widened browse query returned no rows, keeping original rows")
		return rows, sqlText, false
	}
	p.logger.Debug("Widened browse query",
		zap.String("sql", logging.SanitizeQuery(widened)),
		zap.Int("rows", len(result.Rows)))
	return result, widened, true
}

// WidenedStatement builds SELECT * FROM <base> [WHERE <body>] FETCH FIRST 200
// ROWS ONLY for a single-table statement. ok is false for joins, for
// statements already selecting *, and when no base table is found.
func WidenedStatement(sqlText string) (string, bool) {
	base, ok := sqlutil.FirstTable(sqlText)
	if !ok {
		return "", false
	}
	top := 0
	for _, r := range sqlutil.TableRefs(sqlText) {
		if r.Depth == 0 {
			top++
		}
	}
	if top != 1 {
		return "", false
	}
	if list, ok := sqlutil.SelectListText(sqlText); ok && strings.TrimSpace(list) == "*" {
		return "", false
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(base.Name)
	if base.Alias != "" {
		b.WriteString(" ")
		b.WriteString(base.Alias)
	}
	if where := sqlutil.WhereClause(sqlText); where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	fmt.Fprintf(&b, " FETCH FIRST %d ROWS ONLY", WidenLimit)
	return b.String(), true
}
