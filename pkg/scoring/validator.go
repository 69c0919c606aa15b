package scoring

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/entities"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/guard"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// DefaultLargeTables are ERP tables that should never be scanned unfiltered.
var DefaultLargeTables = []string{
	"T_PROD", "T_PRODUCTION", "T_PROD_DETAIL", "T_DEFECT", "T_TNA", "T_TNA_TASK",
	"T_ATTENDANCE", "T_INV_TXN", "T_STOCK_LEDGER", "T_BARCODE",
}

// SQLValidator is the default Scorer.
type SQLValidator struct {
	weights     Weights
	largeTables map[string]bool
	logger      *zap.Logger
}

// Option configures an SQLValidator.
type Option func(*SQLValidator)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option {
	return func(v *SQLValidator) { v.weights = w }
}

// WithLargeTables replaces DefaultLargeTables.
func WithLargeTables(tables ...string) Option {
	return func(v *SQLValidator) {
		v.largeTables = make(map[string]bool, len(tables))
		for _, t := range tables {
			v.largeTables[strings.ToUpper(t)] = true
		}
	}
}

// NewSQLValidator creates a validator.
func NewSQLValidator(logger *zap.Logger, opts ...Option) *SQLValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &SQLValidator{weights: DefaultWeights(), logger: logger.Named("sql-validator")}
	WithLargeTables(DefaultLargeTables...)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var _ Scorer = (*SQLValidator)(nil)

// Score rates sqlText for the question in qc.
func (v *SQLValidator) Score(sqlText string, qc QueryContext) ResponseMetrics {
	var r reasons
	f := analyze(sqlText)

	m := ResponseMetrics{SQLValidity: AssessSQLValidity(sqlText)}
	if m.SQLValidity == 0 {
		r.add("validity: statement is empty, truncated or has no usable FROM clause")
	} else if m.SQLValidity < 1 {
		r.add("validity: %.2f, structural problems found", m.SQLValidity)
	}

	m.SchemaCompliance = clamp(v.assessSchemaCompliance(f, qc, &r))
	m.BusinessLogic = clamp(v.assessBusinessLogic(f, qc, &r))
	m.Performance = clamp(v.assessPerformance(f, &r))
	m.TechnicalCorrectness = clamp(v.assessTechnicalCorrectness(f, &r))
	m.DomainFit = clamp(v.assessDomainFit(f, qc, &r))
	m.Safety = clamp(v.assessSafety(f, &r))
	m.Relevance = clamp(v.assessRelevance(f, qc, &r))
	m.ExecutionTime = clamp(v.predictExecutionTime(f))
	m.UserSatisfaction = clamp(0.4*m.BusinessLogic + 0.3*m.Relevance + 0.3*m.SQLValidity)

	w := v.weights
	m.OverallScore = clamp(w.Validity*m.SQLValidity +
		w.SchemaCompliance*m.SchemaCompliance +
		w.BusinessLogic*m.BusinessLogic +
		w.Performance*m.Performance +
		w.Technical*m.TechnicalCorrectness +
		w.Domain*m.DomainFit +
		w.Safety*m.Safety +
		w.Relevance*m.Relevance)
	r.add("overall: %.3f", m.OverallScore)
	m.Reasoning = r

	v.logger.Debug("Scored candidate SQL",
		zap.Float64("overall", m.OverallScore),
		zap.Float64("validity", m.SQLValidity),
		zap.Float64("business_logic", m.BusinessLogic))
	return m
}

var (
	fromTablePattern = regexp.MustCompile(`(?is)\bFROM\s+(\(|"[^"]+"|[A-Za-z_][\w$#]*(?:\.[A-Za-z_][\w$#]*)?)`)
	trailingAsBefore = regexp.MustCompile(`(?i)\bAS\s*$`)
	fromKeywords     = map[string]bool{
		"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
		"CROSS": true, "ON": true, "GROUP": true, "ORDER": true, "FETCH": true, "SELECT": true,
		"HAVING": true, "UNION": true, "AS": true,
	}
)

// AssessSQLValidity scores structural soundness. It is exactly 0 for an
// empty statement, an ellipsis, a trailing comma, a statement not starting
// with SELECT or WITH, a missing or malformed FROM clause, and a select list
// left dangling on a comma or AS.
func AssessSQLValidity(sqlText string) float64 {
	s := strings.TrimSpace(sqlText)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if s == "" || strings.Contains(s, "...") || strings.Contains(s, "…") || strings.HasSuffix(s, ",") {
		return 0
	}
	upper := strings.ToUpper(strings.TrimLeft(s, "( \t\n"))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return 0
	}
	m := fromTablePattern.FindStringSubmatch(s)
	if m == nil || fromKeywords[strings.ToUpper(m[1])] {
		return 0
	}
	if list, ok := sqlutil.SelectListText(s); ok {
		list = strings.TrimSpace(list)
		if list == "" || strings.HasSuffix(list, ",") || trailingAsBefore.MatchString(list) {
			return 0
		}
	}

	score := 1.0
	tokens := sqlutil.Tokenize(s)
	open := 0
	for _, t := range tokens {
		switch {
		case t.IsPunct("("):
			open++
		case t.IsPunct(")"):
			open--
		}
	}
	if open != 0 {
		score -= 0.5
	}
	if strings.Count(s, "'")%2 != 0 {
		score -= 0.5
	}
	for i := 1; i < len(tokens); i++ {
		prev, cur := tokens[i-1], tokens[i]
		if prev.Kind == sqlutil.TokenWord && cur.Kind == sqlutil.TokenWord && strings.EqualFold(prev.Text, cur.Text) &&
			(cur.Is("FROM") || cur.Is("WHERE") || cur.Is("AND") || cur.Is("SELECT")) {
			score -= 0.3
			break
		}
		if prev.Is("WHERE") && (cur.Is("AND") || cur.Is("OR")) {
			score -= 0.3
			break
		}
	}
	return clamp(score)
}

var (
	companyColumn = regexp.MustCompile(`(?i)\bCOMPANY(_NAME)?\b`)
	selectDual    = regexp.MustCompile(`(?i)^\s*SELECT\s+1\s+FROM\s+DUAL\s*;?\s*$`)
)

func (v *SQLValidator) assessSchemaCompliance(f features, qc QueryContext, r *reasons) float64 {
	if qc.MultiField && selectDual.MatchString(f.text) {
		r.add("schema: SELECT 1 FROM DUAL cannot answer a multi-field question")
		return 0
	}

	score := 0.8
	tables := f.tableNames()
	for _, t := range tables {
		if strings.Contains(t, "PROD") && companyColumn.MatchString(f.text) {
			score -= 0.4
			r.add("schema: production tables have no COMPANY column, filter on FLOOR_NAME instead")
			break
		}
	}

	if len(qc.Schema) == 0 || len(tables) == 0 {
		return score
	}

	known := 0
	columns := make(map[string]bool)
	for _, t := range tables {
		cols, ok := qc.Schema[t]
		if !ok {
			r.add("schema: table %s is not in the known schema", t)
			continue
		}
		known++
		for _, c := range cols {
			columns[strings.ToUpper(c)] = true
		}
	}
	if known == 0 {
		return score - 0.5
	}
	score += 0.2 * float64(known) / float64(len(tables))
	score -= 0.3 * float64(len(tables)-known) / float64(len(tables))

	unknown := 0
	for i, t := range f.tokens {
		if i < 2 || !f.tokens[i-1].IsPunct(".") || !isIdent(t) {
			continue
		}
		if name := strings.ToUpper(t.Unquoted()); !columns[name] && !isQualifiedTable(f, f.tokens[i-2], name) {
			unknown++
		}
	}
	if unknown > 0 {
		score -= 0.1 * float64(unknown)
		r.add("schema: %d qualified column(s) not found on the referenced tables", unknown)
	}
	return score
}

// isQualifiedTable reports whether owner.name is a schema-qualified table reference.
func isQualifiedTable(f features, owner sqlutil.Token, name string) bool {
	full := strings.ToUpper(owner.Unquoted()) + "." + name
	for _, r := range f.tables {
		if strings.ToUpper(r.Name) == full {
			return true
		}
	}
	return false
}

func isIdent(t sqlutil.Token) bool {
	return t.Kind == sqlutil.TokenWord || t.Kind == sqlutil.TokenQuotedIdent
}

var (
	aggregateAsk  = regexp.MustCompile(`(?i)\b(total|sum|average|avg|mean|count|how\s+many|how\s+much|maximum|minimum|max|min|highest|lowest)\b`)
	groupAsk      = regexp.MustCompile(`(?i)\bby\s+\w+|\b\w+[-\s]wise\b|\bper\s+\w+|\beach\s+\w+`)
	timeAsk       = regexp.MustCompile(`(?i)\b(today|yesterday|last|this|current|previous|since|between|during|week|month|quarter|year|ytd|jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec|january|february|march|april|june|july|august|september|october|november|december|\d{4})\b`)
	topAsk        = regexp.MustCompile(`(?i)\b(top|bottom|best|worst|highest|lowest)\b`)
	datePredicate = regexp.MustCompile(`(?i)\b(TO_DATE|TRUNC|SYSDATE|ADD_MONTHS|BETWEEN|DATE\s*')|_DATE\b|_DT\b`)
)

func (v *SQLValidator) assessBusinessLogic(f features, qc QueryContext, r *reasons) float64 {
	q := qc.Question
	score := 0.6

	if aggregateAsk.MatchString(q) {
		if f.aggregates > 0 {
			score += 0.15
		} else {
			score -= 0.2
			r.add("business: question asks for an aggregate but the SQL has none")
		}
	}

	if groupAsk.MatchString(q) {
		if f.groupBy {
			score += 0.1
		} else if f.aggregates > 0 {
			score -= 0.15
			r.add("business: question asks for a breakdown but the SQL does not group")
		}
	}

	if timeAsk.MatchString(q) {
		if datePredicate.MatchString(f.where) {
			score += 0.1
		} else {
			score -= 0.15
			r.add("business: question names a time window but the SQL has no date filter")
		}
	}

	if topAsk.MatchString(q) && !aggregateAsk.MatchString(q) {
		if f.orderBy {
			score += 0.05
		} else {
			score -= 0.1
			r.add("business: ranking question without ORDER BY")
		}
	}

	if f.having && !f.groupBy {
		score -= 0.1
	}
	return score
}

func (v *SQLValidator) assessPerformance(f features, r *reasons) float64 {
	score := 1.0
	if f.selectStar {
		score -= 0.1
	}
	if f.where == "" {
		for _, t := range f.tableNames() {
			if v.largeTables[t] {
				score -= 0.3
				r.add("performance: unfiltered scan of large table %s", t)
				break
			}
		}
	}
	if f.joins > 2 {
		score -= 0.1 * float64(f.joins-2)
	}
	if f.subqueries > 0 {
		score -= 0.05 * float64(f.subqueries)
	}
	if f.distinct {
		score -= 0.05
	}
	if f.where != "" && wrappedColumn.MatchString(f.where) {
		score -= 0.05
	}
	if leadingWildcard.MatchString(f.where) {
		score -= 0.05
	}
	if !f.limited && f.aggregates == 0 {
		score -= 0.1
	}
	return score
}

var dialectProblems = []struct {
	pattern *regexp.Regexp
	penalty float64
	reason  string
}{
	{regexp.MustCompile(`(?i)\bLIMIT\s+\d+`), 0.4, "LIMIT is not Oracle syntax, use FETCH FIRST"},
	{regexp.MustCompile(`(?i)\bSELECT\s+TOP\s+\d+`), 0.4, "TOP is not Oracle syntax"},
	{regexp.MustCompile("`"), 0.3, "backtick identifiers are not Oracle syntax"},
	{regexp.MustCompile(`(?i)\b(NOW|CURDATE|GETDATE|DATE_SUB|DATEADD|IFNULL)\s*\(|\bILIKE\b`), 0.3, "non-Oracle function"},
	{regexp.MustCompile(`(?i)\b\w*DATE\w*\s*(=|>=|<=|>|<)\s*'\d{4}-\d{2}-\d{2}'`), 0.2, "date compared to a bare string literal"},
}

func (v *SQLValidator) assessTechnicalCorrectness(f features, r *reasons) float64 {
	score := 1.0
	for _, p := range dialectProblems {
		if p.pattern.MatchString(f.text) {
			score -= p.penalty
			r.add("technical: %s", p.reason)
		}
	}

	if f.aggregates > 0 {
		if missing := ungroupedColumns(f); len(missing) > 0 {
			score -= 0.3
			r.add("technical: %s selected without aggregation or GROUP BY", strings.Join(missing, ", "))
		}
	}
	if f.having && !f.groupBy {
		score -= 0.2
		r.add("technical: HAVING without GROUP BY")
	}
	return score
}

// ungroupedColumns lists plain select-list columns that are neither
// aggregated nor grouped in a statement that aggregates.
func ungroupedColumns(f features) []string {
	cols := sqlutil.ParseSelectColumns(f.text)
	groupText := ""
	if idx := strings.Index(f.upper, "GROUP BY"); idx != -1 {
		groupText = f.upper[idx+len("GROUP BY"):]
	}
	var missing []string
	for _, c := range cols {
		expr := strings.TrimSpace(c.Expr)
		if expr == "" || aggregatePattern.MatchString(expr) || expr == "*" || !sqlutil.IsPlainIdentifier(bare(expr)) {
			continue
		}
		if !strings.Contains(groupText, strings.ToUpper(bare(expr))) {
			missing = append(missing, strings.ToUpper(bare(expr)))
		}
	}
	return missing
}

func bare(expr string) string {
	if dot := strings.LastIndexByte(expr, '.'); dot != -1 {
		return expr[dot+1:]
	}
	return expr
}

// domainSignals tie question vocabulary to the tables and columns that answer it.
var domainSignals = []struct {
	question *regexp.Regexp
	sql      *regexp.Regexp
	label    string
}{
	{regexp.MustCompile(`(?i)\b(production|output|produced|pcs|pieces)\b`), regexp.MustCompile(`(?i)PROD|OUTPUT|QTY`), "production"},
	{regexp.MustCompile(`(?i)\b(defects?|dhu|reject|rework|quality)\b`), regexp.MustCompile(`(?i)DEFECT|DHU|REJECT|QC`), "quality"},
	{regexp.MustCompile(`(?i)\b(efficiency|eff)\b`), regexp.MustCompile(`(?i)EFF`), "efficiency"},
	{regexp.MustCompile(`(?i)\b(tna|task|ctl-\d|milestone)\b`), regexp.MustCompile(`(?i)TNA|TASK`), "TNA"},
	{regexp.MustCompile(`(?i)\b(employees?|salary|staff|attendance|leave|designation)\b`), regexp.MustCompile(`(?i)EMP|HR_|SALARY|ATTEND|STAFF`), "HR"},
	{regexp.MustCompile(`(?i)\b(inventory|stock|store|warehouse|barcode)\b`), regexp.MustCompile(`(?i)INV|STOCK|STORE|BARCODE|ITEM`), "inventory"},
	{regexp.MustCompile(`(?i)\b(buyer|style|order)\b`), regexp.MustCompile(`(?i)BUYER|STYLE|ORDER_NO|PO_`), "merchandising"},
}

func (v *SQLValidator) assessDomainFit(f features, qc QueryContext, r *reasons) float64 {
	expected, matched := 0, 0
	for _, s := range domainSignals {
		if !s.question.MatchString(qc.Question) {
			continue
		}
		expected++
		if s.sql.MatchString(f.text) {
			matched++
		} else {
			r.add("domain: %s question but no %s tables or columns used", s.label, s.label)
		}
	}
	if expected == 0 {
		return 0.7
	}
	return 0.4 + 0.6*float64(matched)/float64(expected)
}

var commentPattern = regexp.MustCompile(`--|/\*`)

func (v *SQLValidator) assessSafety(f features, r *reasons) float64 {
	if guard.HasDestructiveKeyword(f.text) {
		r.add("safety: data-changing statement")
		return 0
	}
	if kind := guard.DetectStatementType(f.text); kind != guard.StatementSelect {
		r.add("safety: %s statement", kind)
		return 0
	}

	score := 1.0
	if n := len(sqlutil.SuspiciousLiterals(f.text)); n > 0 {
		score -= 0.5
		r.add("safety: %d literal(s) look like SQL injection", n)
	}
	if strings.Count(f.text, "'")%2 != 0 {
		score -= 0.3
		r.add("safety: unbalanced string quote")
	}
	if commentPattern.MatchString(stripLiterals(f)) {
		score -= 0.2
		r.add("safety: embedded SQL comment")
	}
	if f.where == "" {
		for _, t := range f.tableNames() {
			if v.largeTables[t] {
				score -= 0.2
				break
			}
		}
	}
	return score
}

// stripLiterals removes string literal text so comment markers inside
// values are not counted.
func stripLiterals(f features) string {
	var b strings.Builder
	last := 0
	for _, t := range f.tokens {
		if t.Kind == sqlutil.TokenString {
			b.WriteString(f.text[last:t.Pos])
			b.WriteString("''")
			last = t.End
		}
	}
	if last <= len(f.text) {
		b.WriteString(f.text[last:])
	}
	return b.String()
}

var questionWord = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]*`)

func (v *SQLValidator) assessRelevance(f features, qc QueryContext, r *reasons) float64 {
	var terms []string
	for _, w := range questionWord.FindAllString(qc.Question, -1) {
		lw := strings.ToLower(w)
		if len(lw) < 3 || entities.IsStopword(lw) {
			continue
		}
		terms = append(terms, strings.ToUpper(inflection.Singular(lw)))
	}
	if len(terms) == 0 {
		return 0.7
	}

	haystack := f.upper
	for _, lit := range f.stringLiterals() {
		haystack += " " + strings.ToUpper(lit)
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	ratio := float64(hits) / float64(len(terms))
	if ratio < 0.2 {
		r.add("relevance: few question terms appear in the SQL")
	}
	return 0.3 + 0.7*ratio
}

// predictExecutionTime estimates relative speed from table-size priors,
// joins, aggregation and indexed predicates. 1 is fastest.
func (v *SQLValidator) predictExecutionTime(f features) float64 {
	cost := 0.1
	for _, t := range f.tableNames() {
		if v.largeTables[t] {
			cost += 0.2
		}
	}
	cost += 0.1 * float64(f.joins)
	cost += 0.05 * float64(f.aggregates)
	cost += 0.05 * float64(f.subqueries)
	if f.where == "" {
		cost += 0.2
	} else if indexedColumn.MatchString(f.where) {
		cost -= 0.1
	}
	if f.limited {
		cost -= 0.05
	}
	return 1 - cost
}
