package sql

import (
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a literal that libinjection flagged.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // The value that was checked
}

// CheckLiteralForInjection runs libinjection over a value that is about to be
// embedded as a string literal. Returns nil when the value is clean.
//
// Example:
//
//	CheckLiteralForInjection("Chorka Apparels")        // nil
//	CheckLiteralForInjection("x' OR '1'='1")           // IsSQLi == true
func CheckLiteralForInjection(value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Value:       value,
	}
}

// SuspiciousLiterals returns the string literals in a statement whose content
// libinjection flags. Literals that are arguments to TO_DATE or TO_CHAR are skipped.
func SuspiciousLiterals(sqlQuery string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	tokens := Tokenize(sqlQuery)
	for i, t := range tokens {
		if t.Kind != TokenString || IsDateFunctionArgument(tokens, i) {
			continue
		}
		if r := CheckLiteralForInjection(t.Unquoted()); r != nil {
			results = append(results, r)
		}
	}
	return results
}

// IsDateFunctionArgument reports whether token i is a literal passed to
// TO_DATE, TO_CHAR or TO_TIMESTAMP, or is the body of a DATE '...' literal.
func IsDateFunctionArgument(tokens []Token, i int) bool {
	if i > 0 && (tokens[i-1].Is("DATE") || tokens[i-1].Is("TIMESTAMP")) {
		return true
	}
	return insideFunction(tokens, i, "TO_DATE", "TO_CHAR", "TO_TIMESTAMP")
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_$#]{0,127}$`)

// IsPlainIdentifier reports whether s can be spliced into SQL unquoted as a
// table or column name.
func IsPlainIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
