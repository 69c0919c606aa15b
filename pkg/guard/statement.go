package guard

import (
	"regexp"
	"strings"
)

// StatementType represents the kind of SQL statement.
type StatementType string

const (
	StatementSelect  StatementType = "SELECT"
	StatementInsert  StatementType = "INSERT"
	StatementUpdate  StatementType = "UPDATE"
	StatementDelete  StatementType = "DELETE"
	StatementMerge   StatementType = "MERGE"
	StatementDDL     StatementType = "DDL"     // CREATE, ALTER, DROP, TRUNCATE, RENAME
	StatementPLSQL   StatementType = "PLSQL"   // BEGIN, DECLARE, CALL, EXEC
	StatementUnknown StatementType = "UNKNOWN" // Unrecognized or blocked statement types
)

// modifyingCTEPattern matches WITH clauses that wrap a data-modifying statement.
// Example: WITH d AS (DELETE FROM ...) SELECT * FROM d
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

// DetectStatementType determines the type of a statement from its first keyword.
// WITH statements hiding a data-modifying CTE are reported as unknown.
func DetectStatementType(sqlText string) StatementType {
	normalized := strings.ToUpper(strings.TrimLeft(strings.TrimSpace(sqlText), "( \t\n"))

	switch {
	case strings.HasPrefix(normalized, "SELECT"):
		return StatementSelect

	case strings.HasPrefix(normalized, "WITH"):
		if modifyingCTEPattern.MatchString(sqlText) {
			return StatementUnknown
		}
		return StatementSelect

	case strings.HasPrefix(normalized, "INSERT"):
		return StatementInsert
	case strings.HasPrefix(normalized, "UPDATE"):
		return StatementUpdate
	case strings.HasPrefix(normalized, "DELETE"):
		return StatementDelete
	case strings.HasPrefix(normalized, "MERGE"):
		return StatementMerge

	case strings.HasPrefix(normalized, "CREATE"),
		strings.HasPrefix(normalized, "ALTER"),
		strings.HasPrefix(normalized, "DROP"),
		strings.HasPrefix(normalized, "TRUNCATE"),
		strings.HasPrefix(normalized, "RENAME"):
		return StatementDDL

	case strings.HasPrefix(normalized, "BEGIN"),
		strings.HasPrefix(normalized, "DECLARE"),
		strings.HasPrefix(normalized, "CALL"),
		strings.HasPrefix(normalized, "EXEC"):
		return StatementPLSQL

	default:
		return StatementUnknown
	}
}

// destructivePattern finds data-changing keywords anywhere in a statement,
// including after a semicolon or inside a subquery.
var destructivePattern = regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|DELETE|INSERT|UPDATE|MERGE|ALTER|GRANT|REVOKE|CREATE)\s`)

// HasDestructiveKeyword reports whether any data-changing statement keyword
// appears outside string literals.
func HasDestructiveKeyword(sqlText string) bool {
	return destructivePattern.MatchString(stripStrings(sqlText))
}

// stripStrings blanks out the bodies of single-quoted literals.
func stripStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	in := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\'' {
			if in && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			in = !in
			b.WriteByte(ch)
			continue
		}
		if !in {
			b.WriteByte(ch)
		}
	}
	return b.String()
}
