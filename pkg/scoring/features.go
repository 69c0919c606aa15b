package scoring

import (
	"regexp"
	"strings"

	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

var (
	aggregatePattern = regexp.MustCompile(`(?i)\b(SUM|COUNT|AVG|MIN|MAX|LISTAGG|MEDIAN|STDDEV)\s*\(`)
	fetchPattern     = regexp.MustCompile(`(?i)\bFETCH\s+(FIRST|NEXT)\s+\d+\s+ROWS?\s+ONLY\b|\bROWNUM\s*<=?\s*\d+`)
	leadingWildcard  = regexp.MustCompile(`(?i)\bLIKE\s+'%`)
	wrappedColumn    = regexp.MustCompile(`(?i)\b(UPPER|LOWER|TRUNC|TO_CHAR|NVL|SUBSTR)\s*\(\s*[A-Za-z_][\w$#]*(\.[A-Za-z_][\w$#]*)?\s*[,)]`)
	indexedColumn    = regexp.MustCompile(`(?i)\b[A-Za-z_][\w$#]*_(ID|CODE|NO|DATE)\b\s*(=|IN\b|BETWEEN\b|>=|<=|>|<)`)
)

// features are the static properties of a statement the dimensions share.
type features struct {
	text       string
	upper      string
	tokens     []sqlutil.Token
	tables     []sqlutil.TableRef
	where      string
	joins      int
	aggregates int
	subqueries int
	groupBy    bool
	having     bool
	orderBy    bool
	limited    bool
	selectStar bool
	distinct   bool
}

func analyze(sqlText string) features {
	f := features{
		text:   strings.TrimSpace(sqlText),
		upper:  strings.ToUpper(sqlText),
		tokens: sqlutil.Tokenize(sqlText),
		tables: sqlutil.TableRefs(sqlText),
		where:  sqlutil.WhereClause(sqlText),
	}
	f.aggregates = len(aggregatePattern.FindAllStringIndex(sqlText, -1))
	f.limited = fetchPattern.MatchString(sqlText)

	for i, t := range f.tokens {
		switch {
		case t.Is("JOIN"):
			f.joins++
		case t.Is("SELECT") && t.Depth > 0:
			f.subqueries++
		case t.Is("GROUP") && t.Depth == 0:
			f.groupBy = true
		case t.Is("HAVING") && t.Depth == 0:
			f.having = true
		case t.Is("ORDER") && t.Depth == 0:
			f.orderBy = true
		case t.Is("DISTINCT"):
			f.distinct = true
		case t.Kind == sqlutil.TokenOperator && t.Text == "*" && i > 0 && t.Depth == 0 &&
			(f.tokens[i-1].Is("SELECT") || f.tokens[i-1].IsPunct(".")):
			f.selectStar = true
		}
	}
	return f
}

// tableNames returns the distinct upper-case table names, without schema prefix.
func (f features) tableNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range f.tables {
		name := strings.ToUpper(r.Name)
		if dot := strings.LastIndexByte(name, '.'); dot != -1 {
			name = name[dot+1:]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// words returns the unquoted, upper-case identifiers in the statement.
func (f features) words() map[string]bool {
	out := make(map[string]bool, len(f.tokens))
	for _, t := range f.tokens {
		if t.Kind == sqlutil.TokenWord || t.Kind == sqlutil.TokenQuotedIdent {
			out[strings.ToUpper(t.Unquoted())] = true
		}
	}
	return out
}

// stringLiterals returns the literal bodies that are not date function arguments.
func (f features) stringLiterals() []string {
	var out []string
	for i, t := range f.tokens {
		if t.Kind == sqlutil.TokenString && !sqlutil.IsDateFunctionArgument(f.tokens, i) {
			out = append(out, t.Unquoted())
		}
	}
	return out
}
