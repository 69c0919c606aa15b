package sql

import (
	"regexp"
	"strings"
)

// ParsedColumn represents a column extracted from a SELECT list.
type ParsedColumn struct {
	Name string // Column name or alias, upper-cased as Oracle reports it
	Expr string // Original expression text
}

// SelectListText returns the raw text between the outermost SELECT and its FROM.
// ok is false when either keyword is missing.
func SelectListText(sqlQuery string) (string, bool) {
	tokens := Tokenize(sqlQuery)
	start := -1
	for i, t := range tokens {
		if t.Depth != 0 {
			continue
		}
		if start < 0 && t.Is("SELECT") {
			start = t.End
			if i+1 < len(tokens) && (tokens[i+1].Is("DISTINCT") || tokens[i+1].Is("UNIQUE") || tokens[i+1].Is("ALL")) {
				start = tokens[i+1].End
			}
			continue
		}
		if start >= 0 && t.Is("FROM") {
			return strings.TrimSpace(sqlQuery[start:t.Pos]), true
		}
	}
	return "", false
}

// ParseSelectColumns splits the outermost SELECT list into its expressions.
//
// Examples:
//   - "SELECT FLOOR_NAME, SUM(QTY) AS QTY FROM T" → [FLOOR_NAME, QTY]
//   - "SELECT e.name FROM EMP e" → [NAME]
//   - "SELECT TO_CHAR(d, 'MON-YYYY') m FROM T" → [M]
func ParseSelectColumns(sqlQuery string) []ParsedColumn {
	list, ok := SelectListText(sqlQuery)
	if !ok || list == "" {
		return nil
	}

	var columns []ParsedColumn
	for _, expr := range SplitTopLevel(list) {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		columns = append(columns, parseColumnExpression(expr))
	}
	return columns
}

// SplitTopLevel splits text on commas that sit outside parentheses and string literals.
func SplitTopLevel(text string) []string {
	var parts []string
	last := 0
	for _, t := range Tokenize(text) {
		if t.Depth == 0 && t.IsPunct(",") {
			parts = append(parts, text[last:t.Pos])
			last = t.End
		}
	}
	return append(parts, text[last:])
}

var (
	asAliasPattern = regexp.MustCompile(`(?i)\s+as\s+("?[A-Za-z_][\w$#]*"?)\s*$`)
	funcPattern    = regexp.MustCompile(`^(\w+)\s*\(`)
	nonWordPattern = regexp.MustCompile(`[^\w$#]`)
)

func parseColumnExpression(expr string) ParsedColumn {
	if m := asAliasPattern.FindStringSubmatch(expr); m != nil {
		return ParsedColumn{Name: normalizeAlias(m[1]), Expr: expr}
	}

	// Implicit alias: "COUNT(*) total"
	tokens := Tokenize(expr)
	if len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		prev := tokens[len(tokens)-2]
		if (last.Kind == TokenWord || last.Kind == TokenQuotedIdent) && last.Depth == 0 &&
			!prev.IsPunct(".") && prev.Kind != TokenOperator && !last.Is("END") {
			return ParsedColumn{Name: normalizeAlias(last.Text), Expr: expr}
		}
	}

	return ParsedColumn{Name: extractColumnName(expr), Expr: expr}
}

func normalizeAlias(alias string) string {
	if strings.HasPrefix(alias, `"`) {
		return strings.Trim(alias, `"`)
	}
	return strings.ToUpper(alias)
}

// extractColumnName derives the name Oracle would report for an unaliased expression.
func extractColumnName(expr string) string {
	expr = strings.TrimSpace(expr)
	if m := funcPattern.FindStringSubmatch(expr); m != nil {
		return strings.ToUpper(expr)
	}
	if dot := strings.LastIndex(expr, "."); dot != -1 {
		expr = expr[dot+1:]
	}
	if strings.HasPrefix(expr, `"`) {
		return strings.Trim(expr, `"`)
	}
	return strings.ToUpper(nonWordPattern.ReplaceAllString(expr, ""))
}
