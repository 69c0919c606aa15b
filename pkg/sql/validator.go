// Package sql provides Oracle SQL lexing, validation and splicing utilities.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

// MaxStatementLength bounds the size of a statement accepted for execution.
const MaxStatementLength = 100_000

var (
	// ErrMultipleStatements indicates the query contains a semicolon outside string literals.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates the query is empty after trimming.
	ErrEmptyStatement = errors.New("empty SQL statement")
	// ErrNotSelect indicates the query is not a SELECT or WITH statement.
	ErrNotSelect = errors.New("only SELECT or WITH statements are allowed")
	// ErrBindPlaceholder indicates the query still contains :name, :1 or ? placeholders.
	ErrBindPlaceholder = errors.New("unresolved bind placeholder in SQL")
	// ErrOrphanLiteral indicates a WHERE clause holding nothing but a string literal.
	ErrOrphanLiteral = errors.New("WHERE clause contains an orphan string literal")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize strips a trailing semicolon and rejects any semicolon
// left outside string literals.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if HasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// CheckReadOnlyStatement runs the static checks a statement must pass before
// it is sent to Oracle. It does not contact the database.
func CheckReadOnlyStatement(sqlQuery string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return ErrEmptyStatement
	}
	if len(trimmed) > MaxStatementLength {
		return fmt.Errorf("statement is %d bytes, limit is %d", len(trimmed), MaxStatementLength)
	}

	tokens := Tokenize(trimmed)
	if len(tokens) == 0 {
		return ErrEmptyStatement
	}
	first := tokens[0]
	for k := 0; first.IsPunct("(") && k+1 < len(tokens); k++ {
		first = tokens[k+1]
	}
	if !first.Is("SELECT") && !first.Is("WITH") {
		return ErrNotSelect
	}

	if HasSemicolonOutsideStrings(trimmed) {
		return ErrMultipleStatements
	}
	if HasBindPlaceholders(trimmed) {
		return ErrBindPlaceholder
	}

	if where := WhereClause(trimmed); where != "" {
		whereTokens := Tokenize(where)
		if len(whereTokens) == 1 && whereTokens[0].Kind == TokenString {
			return ErrOrphanLiteral
		}
	}

	return nil
}

// HasBindPlaceholders reports whether the statement contains :name, :1 or ?
// placeholders outside string literals.
func HasBindPlaceholders(sqlQuery string) bool {
	for _, t := range Tokenize(sqlQuery) {
		if t.Kind == TokenBind {
			return true
		}
	}
	return false
}

// HasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
func HasSemicolonOutsideStrings(sqlQuery string) bool {
	for _, t := range Tokenize(sqlQuery) {
		if t.IsPunct(";") {
			return true
		}
	}
	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

// QuoteLiteral renders s as an Oracle string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
