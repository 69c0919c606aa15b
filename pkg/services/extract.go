package services

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/scoring"
)

var (
	statementStart  = regexp.MustCompile(`(?im)(?:^|:)[ \t]*(SELECT\b|WITH\s+\w+(?:\s*\([^)]*\))?\s+AS\s*\()`)
	paragraphBreak  = regexp.MustCompile(`\n[ \t]*\n`)
	continuesClause = regexp.MustCompile(`(?i)^\s*(FROM|WHERE|GROUP|ORDER|HAVING|FETCH|JOIN|INNER|LEFT|RIGHT|FULL|CROSS|ON|AND|OR|UNION|MINUS|INTERSECT|CONNECT|START|,|\))`)
)

// ExtractSQLFromResponse pulls the first usable SELECT or WITH statement out
// of a model answer. Reasoning blocks are dropped and fenced code is tried
// before prose. A statement ends at the first semicolon outside a string,
// a closing fence, or a blank line not followed by another clause. ok is
// false when no statement passes scoring.AssessSQLValidity, so truncated
// output yields nothing.
func ExtractSQLFromResponse(raw string) (string, bool) {
	text := llm.StripThinking(raw)
	if text == "" {
		return "", false
	}
	for _, candidate := range append(llm.CodeBlocks(text), text) {
		for _, stmt := range statements(candidate) {
			if scoring.AssessSQLValidity(stmt) > 0 {
				return stmt, true
			}
		}
	}
	return "", false
}

// statements returns the statement-shaped spans of text in order. A span
// starts at SELECT or at WITH name AS ( opening a line or following a
// colon, and the next span is searched for only after the previous one ends.
func statements(text string) []string {
	var out []string
	for {
		loc := statementStart.FindStringSubmatchIndex(text)
		if loc == nil {
			return out
		}
		stmt, n := statementAt(text[loc[2]:])
		if stmt != "" {
			out = append(out, stmt)
		}
		text = text[loc[2]+n:]
	}
}

// statementAt reads one statement from the start of body and returns it
// with the number of bytes consumed.
func statementAt(body string) (string, int) {
	end := len(body)
	if i := strings.Index(body, "```"); i >= 0 {
		end = i
	}
	if i := terminatorIndex(body[:end]); i >= 0 {
		end = i
	}

	for _, br := range paragraphBreak.FindAllStringIndex(body[:end], -1) {
		if !continuesClause.MatchString(body[br[1]:end]) {
			end = br[0]
			break
		}
	}

	lines := strings.Split(body[:end], "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), max(end, 1)
}

// terminatorIndex returns the index of the first semicolon outside a quoted
// string, or -1.
func terminatorIndex(s string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}
