package sqlbuild

import (
	"strings"

	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

// DropConflictingDatePredicates removes equality and LIKE conjuncts on date
// columns other than keep from the outermost WHERE clause, so a range
// attached to keep cannot contradict them. A WHERE body with a top-level OR
// is left alone. The WHERE keyword goes too if nothing remains.
func DropConflictingDatePredicates(sqlText, keep string, dateCols []string) string {
	others := make(map[string]bool, len(dateCols))
	keep = bareName(keep)
	for _, c := range dateCols {
		if name := bareName(c); name != keep {
			others[name] = true
		}
	}
	if len(others) == 0 {
		return sqlText
	}

	start, end, ok := sqlutil.WhereSpan(sqlText)
	if !ok {
		return sqlText
	}
	body := sqlText[start:end]
	conjuncts, ok := SplitConjuncts(body)
	if !ok {
		return sqlText
	}

	kept := conjuncts[:0]
	for _, c := range conjuncts {
		if !conflicts(c, others) {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(conjuncts) {
		return sqlText
	}

	tail := strings.TrimSpace(sqlText[end:])
	var out string
	if len(kept) == 0 {
		out = strings.TrimRight(sqlText[:start-len("WHERE")], " \t\n")
	} else {
		out = sqlText[:start] + " " + strings.Join(kept, " AND ")
	}
	if tail != "" {
		out += " " + tail
	}
	return out
}

// SplitConjuncts splits a WHERE body on top-level AND, keeping the AND of a
// BETWEEN with its predicate. It reports false when the body has a
// top-level OR, since dropping one side would change the meaning.
func SplitConjuncts(body string) ([]string, bool) {
	tokens := sqlutil.Tokenize(body)
	var (
		parts       []string
		from        int
		pendingBetw bool
	)
	for _, t := range tokens {
		if t.Depth != 0 {
			continue
		}
		switch {
		case t.Is("OR"):
			return nil, false
		case t.Is("BETWEEN"):
			pendingBetw = true
		case t.Is("AND"):
			if pendingBetw {
				pendingBetw = false
				continue
			}
			parts = append(parts, strings.TrimSpace(body[from:t.Pos]))
			from = t.End
		}
	}
	if last := strings.TrimSpace(body[from:]); last != "" {
		parts = append(parts, last)
	}
	return parts, true
}

// conflicts reports whether a conjunct is an equality or LIKE test touching
// one of the given columns.
func conflicts(conjunct string, columns map[string]bool) bool {
	tokens := sqlutil.Tokenize(conjunct)
	touches, matches := false, false
	for _, t := range tokens {
		switch {
		case t.Kind == sqlutil.TokenWord && columns[strings.ToUpper(t.Text)]:
			touches = true
		case t.Kind == sqlutil.TokenQuotedIdent && columns[strings.ToUpper(t.Unquoted())]:
			touches = true
		case t.Kind == sqlutil.TokenOperator && t.Text == "=":
			matches = true
		case t.Is("LIKE"):
			matches = true
		}
	}
	return touches && matches
}
