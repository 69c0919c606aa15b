package sql

import (
	"strings"
	"unicode"
)

// TokenKind classifies a lexical token of an Oracle SQL statement.
type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenQuotedIdent
	TokenString
	TokenNumber
	TokenOperator
	TokenPunct
	TokenBind
)

// Token is a single lexical unit. Pos and End are byte offsets into the
// original statement. Depth is the parenthesis nesting level the token sits
// at; both parentheses of a pair carry the depth of their enclosing level.
type Token struct {
	Kind  TokenKind
	Text  string
	Pos   int
	End   int
	Depth int
}

// Is reports whether the token is the given keyword or identifier, ignoring case.
func (t Token) Is(word string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, word)
}

// IsPunct reports whether the token is the given punctuation character.
func (t Token) IsPunct(p string) bool {
	return t.Kind == TokenPunct && t.Text == p
}

// Unquoted returns the body of a string literal with doubled quotes collapsed.
// For other token kinds it returns the raw text.
func (t Token) Unquoted() string {
	switch t.Kind {
	case TokenString:
		if len(t.Text) >= 2 {
			return strings.ReplaceAll(t.Text[1:len(t.Text)-1], "''", "'")
		}
		return ""
	case TokenQuotedIdent:
		if len(t.Text) >= 2 {
			return strings.ReplaceAll(t.Text[1:len(t.Text)-1], `""`, `"`)
		}
		return ""
	}
	return t.Text
}

// Tokenize splits a statement into tokens, dropping whitespace and comments.
// Unterminated strings run to the end of input rather than failing.
func Tokenize(query string) []Token {
	var tokens []Token
	depth := 0
	i := 0
	n := len(query)

	for i < n {
		ch := query[i]

		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++

		case ch == '-' && i+1 < n && query[i+1] == '-':
			for i < n && query[i] != '\n' {
				i++
			}

		case ch == '/' && i+1 < n && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += end + 4
			}

		case ch == '\'':
			start := i
			i++
			for i < n {
				if query[i] == '\'' {
					if i+1 < n && query[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: query[start:i], Pos: start, End: i, Depth: depth})

		case ch == '"':
			start := i
			i++
			for i < n && query[i] != '"' {
				i++
			}
			if i < n {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenQuotedIdent, Text: query[start:i], Pos: start, End: i, Depth: depth})

		case isWordStart(rune(ch)):
			start := i
			for i < n && isWordPart(rune(query[i])) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenWord, Text: query[start:i], Pos: start, End: i, Depth: depth})

		case ch >= '0' && ch <= '9':
			start := i
			for i < n && (query[i] >= '0' && query[i] <= '9' || query[i] == '.') {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: query[start:i], Pos: start, End: i, Depth: depth})

		case ch == ':' && i+1 < n && (isWordStart(rune(query[i+1])) || query[i+1] >= '0' && query[i+1] <= '9'):
			start := i
			i++
			for i < n && isWordPart(rune(query[i])) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenBind, Text: query[start:i], Pos: start, End: i, Depth: depth})

		case ch == '?':
			tokens = append(tokens, Token{Kind: TokenBind, Text: "?", Pos: i, End: i + 1, Depth: depth})
			i++

		case ch == '(':
			tokens = append(tokens, Token{Kind: TokenPunct, Text: "(", Pos: i, End: i + 1, Depth: depth})
			depth++
			i++

		case ch == ')':
			if depth > 0 {
				depth--
			}
			tokens = append(tokens, Token{Kind: TokenPunct, Text: ")", Pos: i, End: i + 1, Depth: depth})
			i++

		case ch == ',' || ch == ';' || ch == '.':
			tokens = append(tokens, Token{Kind: TokenPunct, Text: string(ch), Pos: i, End: i + 1, Depth: depth})
			i++

		default:
			start := i
			if i+1 < n {
				two := query[i : i+2]
				switch two {
				case "<=", ">=", "<>", "!=", "||":
					tokens = append(tokens, Token{Kind: TokenOperator, Text: two, Pos: start, End: i + 2, Depth: depth})
					i += 2
					continue
				}
			}
			tokens = append(tokens, Token{Kind: TokenOperator, Text: string(ch), Pos: start, End: i + 1, Depth: depth})
			i++
		}
	}

	return tokens
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || r == '#' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsComparison reports whether the token is a comparison operator.
func IsComparison(t Token) bool {
	if t.Kind != TokenOperator {
		return false
	}
	switch t.Text {
	case "=", "<", ">", "<=", ">=", "<>", "!=":
		return true
	}
	return false
}

// clauseKeywords end a WHERE body or mark where a new WHERE must be placed.
var clauseKeywords = map[string]bool{
	"GROUP": true, "ORDER": true, "FETCH": true, "OFFSET": true, "HAVING": true,
	"UNION": true, "INTERSECT": true, "MINUS": true, "CONNECT": true, "START": true,
	"LIMIT": true, "MODEL": true, "WINDOW": true,
}

// tableStopWords cannot be aliases following a table reference.
var tableStopWords = map[string]bool{
	"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "OUTER": true, "ON": true, "USING": true, "NATURAL": true,
	"GROUP": true, "ORDER": true, "FETCH": true, "OFFSET": true, "HAVING": true,
	"UNION": true, "INTERSECT": true, "MINUS": true, "CONNECT": true, "START": true,
	"LIMIT": true, "SELECT": true, "FROM": true, "PARTITION": true,
}

// TableRef is a table reference found after FROM or JOIN.
type TableRef struct {
	Name  string
	Alias string
	Depth int
}

// Ref returns the alias when present, else the table name.
func (r TableRef) Ref() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Name
}

// TableRefs lists every plain table reference in the statement, including
// comma-joined tables and tables inside subqueries. Subquery sources are skipped.
func TableRefs(query string) []TableRef {
	tokens := Tokenize(query)
	var refs []TableRef

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if !t.Is("FROM") && !t.Is("JOIN") {
			continue
		}
		if t.Is("FROM") && insideFunction(tokens, i, "EXTRACT", "TRIM") {
			continue
		}
		j := i + 1
		for j < len(tokens) {
			ref, next, ok := readTableRef(tokens, j)
			if ok {
				refs = append(refs, ref)
			}
			if !t.Is("FROM") || next >= len(tokens) || !tokens[next].IsPunct(",") || tokens[next].Depth != t.Depth {
				break
			}
			j = next + 1
		}
	}

	return refs
}

// insideFunction reports whether token i sits directly inside a call to one
// of the named functions, e.g. the FROM in EXTRACT(YEAR FROM col).
func insideFunction(tokens []Token, i int, names ...string) bool {
	depth := tokens[i].Depth
	if depth == 0 {
		return false
	}
	for j := i - 1; j > 0; j-- {
		if tokens[j].IsPunct("(") && tokens[j].Depth == depth-1 {
			for _, name := range names {
				if tokens[j-1].Is(name) {
					return true
				}
			}
			return false
		}
	}
	return false
}

// FirstTable returns the first table referenced by the outermost FROM.
func FirstTable(query string) (TableRef, bool) {
	tokens := Tokenize(query)
	for i, t := range tokens {
		if t.Depth == 0 && t.Is("FROM") {
			ref, _, ok := readTableRef(tokens, i+1)
			return ref, ok
		}
	}
	return TableRef{}, false
}

func readTableRef(tokens []Token, i int) (TableRef, int, bool) {
	if i >= len(tokens) {
		return TableRef{}, i, false
	}
	t := tokens[i]
	if t.Kind != TokenWord && t.Kind != TokenQuotedIdent {
		return TableRef{}, i, false
	}
	if t.Kind == TokenWord && tableStopWords[strings.ToUpper(t.Text)] {
		return TableRef{}, i, false
	}

	name := t.Unquoted()
	i++
	for i+1 < len(tokens) && tokens[i].IsPunct(".") &&
		(tokens[i+1].Kind == TokenWord || tokens[i+1].Kind == TokenQuotedIdent) {
		name += "." + tokens[i+1].Unquoted()
		i += 2
	}

	ref := TableRef{Name: name, Depth: t.Depth}
	if i < len(tokens) && tokens[i].Is("AS") {
		i++
	}
	if i < len(tokens) && (tokens[i].Kind == TokenWord || tokens[i].Kind == TokenQuotedIdent) {
		if tokens[i].Kind == TokenQuotedIdent || !tableStopWords[strings.ToUpper(tokens[i].Text)] {
			ref.Alias = tokens[i].Unquoted()
			i++
		}
	}
	return ref, i, true
}

// WhereSpan locates the body of the outermost WHERE clause. start is the
// offset just past the WHERE keyword and end is where the body stops.
func WhereSpan(query string) (start, end int, ok bool) {
	tokens := Tokenize(query)
	for i, t := range tokens {
		if t.Depth != 0 || !t.Is("WHERE") {
			continue
		}
		start = t.End
		end = len(query)
		for _, next := range tokens[i+1:] {
			if next.Depth == 0 && (next.Kind == TokenWord && clauseKeywords[strings.ToUpper(next.Text)] || next.IsPunct(";")) {
				end = next.Pos
				break
			}
		}
		return start, end, true
	}
	return 0, 0, false
}

// WhereClause returns the trimmed body of the outermost WHERE clause.
func WhereClause(query string) string {
	start, end, ok := WhereSpan(query)
	if !ok {
		return ""
	}
	return strings.TrimSpace(query[start:end])
}

// HasTopLevel reports whether the keyword appears outside any parentheses.
func HasTopLevel(query, keyword string) bool {
	for _, t := range Tokenize(query) {
		if t.Depth == 0 && t.Is(keyword) {
			return true
		}
	}
	return false
}

// InjectPredicate ANDs a predicate into the outermost WHERE clause, creating
// the clause ahead of any GROUP BY, ORDER BY or FETCH when it is missing.
// An existing body containing a top-level OR is parenthesized.
func InjectPredicate(query, predicate string) string {
	if start, end, ok := WhereSpan(query); ok {
		body := strings.TrimSpace(query[start:end])
		if body == "" {
			return strings.TrimRight(query[:start], " ") + " " + predicate + " " + strings.TrimLeft(query[end:], " ")
		}
		if hasTopLevelOr(body) {
			body = "(" + body + ")"
		}
		tail := strings.TrimSpace(query[end:])
		out := query[:start] + " " + predicate + " AND " + body
		if tail != "" {
			out += " " + tail
		}
		return out
	}

	tokens := Tokenize(query)
	seenFrom := false
	for _, t := range tokens {
		if t.Depth != 0 {
			continue
		}
		if t.Is("FROM") {
			seenFrom = true
			continue
		}
		if seenFrom && (t.Kind == TokenWord && clauseKeywords[strings.ToUpper(t.Text)] || t.IsPunct(";")) {
			return strings.TrimRight(query[:t.Pos], " \t\n") + " WHERE " + predicate + " " + query[t.Pos:]
		}
	}
	return strings.TrimRight(query, " \t\n") + " WHERE " + predicate
}

func hasTopLevelOr(body string) bool {
	for _, t := range Tokenize(body) {
		if t.Depth == 0 && t.Is("OR") {
			return true
		}
	}
	return false
}
