// Package entities mines user questions for the literal values a query
// should filter on: organisation short codes, multi-word names and structured
// identifiers such as CTL codes, barcodes and challan numbers.
package entities

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
)

// MaxPhraseTokens caps the number of tokens in the longest emitted phrase.
const MaxPhraseTokens = 6

// CodeKind names a family of structured identifiers.
type CodeKind string

const (
	CodeCTL       CodeKind = "ctl"
	CodeChallan   CodeKind = "challan"
	CodeInventory CodeKind = "inventory_id"
	CodeBarcode   CodeKind = "barcode"
)

// Code is a structured identifier found in a question.
type Code struct {
	Kind  CodeKind
	Value string
}

// DefaultOrgSynonyms maps organisation names as users write them onto the
// short codes stored in the ERP.
func DefaultOrgSynonyms() map[string]string {
	return map[string]string{
		"chorka apparels limited": "CAL",
		"chorka apparels ltd":     "CAL",
		"chorka apparels":         "CAL",
		"chorka textile limited":  "CTL",
		"chorka textile ltd":      "CTL",
		"chorka textile":          "CTL",
	}
}

var stopwords = toSet(
	"a", "an", "the", "and", "or", "of", "for", "in", "on", "at", "to", "from", "by", "with",
	"vs", "versus", "per", "wise", "show", "list", "give", "get", "find", "display", "me", "all",
	"what", "which", "who", "whom", "whose", "when", "where", "why", "how", "is", "are", "was",
	"were", "be", "do", "does", "did", "much", "many", "please", "can", "could", "would", "tell",
	"about", "details", "detail", "info", "information", "report", "summary", "summarize",
	"between", "during", "than", "this", "that", "these", "those", "my", "our", "their", "its",
	"top", "bottom", "highest", "lowest", "max", "min", "maximum", "minimum", "average", "avg",
	"sum", "count", "number", "total", "compare", "comparison", "each", "every", "any", "some",
	"it", "i", "we", "you", "there", "here", "as", "into", "status", "current", "latest",
)

// genericTerms are domain words that describe what to measure rather than
// which rows to keep. They are compared after singularization.
var genericTerms = toSet(
	"floor", "line", "qty", "quantity", "department", "dept", "production", "defect", "output",
	"efficiency", "dhu", "employee", "staff", "worker", "salary", "attendance", "leave", "task",
	"tna", "order", "buyer", "style", "item", "inventory", "stock", "store", "warehouse", "date",
	"day", "month", "year", "week", "quarter", "record", "row", "data", "table", "value", "amount",
	"rate", "target", "achievement", "plan", "name", "designation", "section", "unit", "factory",
	"company", "organization", "organisation", "barcode", "challan", "code", "id", "trend",
	"performance", "result", "piece", "pcs", "hour", "shift", "operator", "machine",
)

var (
	tokenPattern     = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9&._'-]*`)
	upperCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{2,5}$`)
	digitsOnly       = regexp.MustCompile(`^\d+$`)

	ctlPattern       = regexp.MustCompile(`(?i)\bCTL-\d{2}-\d{5,6}\b`)
	challanPattern   = regexp.MustCompile(`(?i)\bchallan\s*(?:no\.?|number|#)?\s*[:#-]?\s*([A-Z0-9][A-Z0-9/-]{2,})`)
	inventoryPattern = regexp.MustCompile(`(?i)\binventory\s+id\s*[:#-]?\s*(\d+)\b`)
	barcodePattern   = regexp.MustCompile(`\b\d{11,14}\b`)
)

// Extractor pulls candidate filter literals from questions.
type Extractor struct {
	synonyms []orgSynonym
}

type orgSynonym struct {
	pattern *regexp.Regexp
	code    string
}

// NewExtractor builds an Extractor. A nil map selects DefaultOrgSynonyms.
func NewExtractor(orgSynonyms map[string]string) *Extractor {
	if orgSynonyms == nil {
		orgSynonyms = DefaultOrgSynonyms()
	}
	names := make([]string, 0, len(orgSynonyms))
	for name := range orgSynonyms {
		names = append(names, name)
	}
	// Longest names first so "chorka apparels ltd" wins over "chorka apparels".
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	e := &Extractor{}
	for _, name := range names {
		e.synonyms = append(e.synonyms, orgSynonym{
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\b\.?`),
			code:    orgSynonyms[name],
		})
	}
	return e
}

// ApplyOrgSynonyms replaces full organisation names with their short codes.
func (e *Extractor) ApplyOrgSynonyms(text string) string {
	for _, syn := range e.synonyms {
		text = syn.pattern.ReplaceAllString(text, syn.code)
	}
	return text
}

// ExtractLiterals returns candidate filter values from a question, most
// specific first: short upper-case codes, then the leading two- and
// three-token phrases, then a phrase of up to MaxPhraseTokens tokens.
// Date phrases, stopwords and generic domain terms never appear.
func (e *Extractor) ExtractLiterals(question string) []string {
	text := dates.StripDateTokens(e.ApplyOrgSynonyms(question))
	for _, p := range []*regexp.Regexp{ctlPattern, barcodePattern} {
		text = p.ReplaceAllString(text, " ")
	}

	var kept []string
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		tok = strings.Trim(tok, ".'-")
		if tok == "" || digitsOnly.MatchString(tok) {
			continue
		}
		if IsStopword(tok) || IsGenericTerm(tok) {
			continue
		}
		kept = append(kept, tok)
	}

	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		key := strings.ToUpper(s)
		if seen[key] {
			return
		}
		if len(s) < 4 && !upperCodePattern.MatchString(s) {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	for _, tok := range kept {
		if upperCodePattern.MatchString(tok) {
			add(tok)
		}
	}
	if len(kept) >= 2 {
		add(strings.Join(kept[:2], " "))
	}
	if len(kept) >= 3 {
		add(strings.Join(kept[:3], " "))
	}
	if len(kept) > 0 {
		add(strings.Join(kept[:min(len(kept), MaxPhraseTokens)], " "))
	}

	return out
}

// ExtractStructuredCodes returns CTL codes, challan numbers, inventory ids
// and barcodes found in the text, in that order.
func (e *Extractor) ExtractStructuredCodes(text string) []Code {
	var codes []Code
	seen := make(map[string]bool)
	add := func(kind CodeKind, value string) {
		value = strings.ToUpper(strings.TrimSpace(value))
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		codes = append(codes, Code{Kind: kind, Value: value})
	}

	for _, m := range ctlPattern.FindAllString(text, -1) {
		add(CodeCTL, m)
	}
	for _, m := range challanPattern.FindAllStringSubmatch(text, -1) {
		if strings.ContainsAny(m[1], "0123456789") {
			add(CodeChallan, m[1])
		}
	}
	for _, m := range inventoryPattern.FindAllStringSubmatch(text, -1) {
		add(CodeInventory, m[1])
	}
	for _, m := range barcodePattern.FindAllString(text, -1) {
		add(CodeBarcode, m)
	}
	return codes
}

// IsStopword reports whether the token carries no filtering meaning.
func IsStopword(tok string) bool {
	return stopwords[strings.ToLower(tok)]
}

// IsGenericTerm reports whether the token is a generic domain word, in
// singular or plural form.
func IsGenericTerm(tok string) bool {
	lower := strings.ToLower(tok)
	if genericTerms[lower] {
		return true
	}
	return genericTerms[inflection.Singular(lower)]
}

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
