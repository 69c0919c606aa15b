package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Source records which rule produced a Range.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceSingleDay Source = "single_day"
	SourceMonth     Source = "month"
	SourceRelative  Source = "relative"
	SourceYear      Source = "year"
	SourceDefault   Source = "default"
)

// Range is an inclusive day window. Column is set only when the question
// named the column the window applies to.
type Range struct {
	Column string
	Start  time.Time
	End    time.Time
	Source Source
}

// StartLiteral renders the start day as a canonical TO_DATE literal.
func (r Range) StartLiteral() string { return Literal(r.Start) }

// EndLiteral renders the end day as a canonical TO_DATE literal.
func (r Range) EndLiteral() string { return Literal(r.End) }

// Predicate renders "<column> BETWEEN <start> AND <end>".
func (r Range) Predicate(column string) string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", column, r.StartLiteral(), r.EndLiteral())
}

// boundTokenExpr matches one end of an explicit range: a day, a month
// ("May 2024", "MAY-24") or a bare year.
var boundTokenExpr = dayTokenExpr + `|` + monthRe + `(?:[-'](?:\d{4}|\d{2})|\s+\d{4})|(?:19|20)\d{2}`

var (
	betweenPattern  = regexp.MustCompile(`(?i)(?:\b([A-Za-z_][A-Za-z0-9_$#]*)\s+)?\bbetween\s+(` + boundTokenExpr + `)\s+and\s+(` + boundTokenExpr + `)\b`)
	fromToPattern   = regexp.MustCompile(`(?i)\bfrom\s+(` + boundTokenExpr + `)\s+(?:to|until|till|through|thru)\s+(` + boundTokenExpr + `)\b`)
	dayTokenPattern = regexp.MustCompile(`(?i)\b(?:` + dayTokenExpr + `)\b`)
	monthTokenRe    = regexp.MustCompile(`(?i)\b(` + monthRe + `)(?:[-'](\d{4}|\d{2})|\s+(\d{4}))\b`)
	yearTokenRe     = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

	lastNPattern        = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d{1,4})\s+(day|week|month|year)s?\b`)
	todayPattern        = regexp.MustCompile(`(?i)\btoday\b`)
	yesterdayPattern    = regexp.MustCompile(`(?i)\byesterday\b`)
	lastWeekPattern     = regexp.MustCompile(`(?i)\b(?:last|previous)\s+week\b`)
	thisWeekPattern     = regexp.MustCompile(`(?i)\b(?:this|current)\s+week\b`)
	lastMonthPattern    = regexp.MustCompile(`(?i)\b(?:last|previous)\s+month\b`)
	thisMonthPattern    = regexp.MustCompile(`(?i)\b(?:this|current)\s+month\b|\bmonth\s+to\s+date\b|\bmtd\b`)
	lastQuarterPattern  = regexp.MustCompile(`(?i)\b(?:last|previous)\s+quarter\b`)
	thisQuarterPattern  = regexp.MustCompile(`(?i)\b(?:this|current)\s+quarter\b`)
	lastYearPattern     = regexp.MustCompile(`(?i)\b(?:last|previous)\s+year\b`)
	thisYearPattern     = regexp.MustCompile(`(?i)\b(?:this|current)\s+year\b|\byear\s+to\s+date\b|\bytd\b`)
	relativeStripGroups = []*regexp.Regexp{
		lastNPattern, todayPattern, yesterdayPattern, lastWeekPattern, thisWeekPattern,
		lastMonthPattern, thisMonthPattern, lastQuarterPattern, thisQuarterPattern,
		lastYearPattern, thisYearPattern,
	}
	betweenStripPattern = regexp.MustCompile(`(?i)\bbetween\s+(?:` + boundTokenExpr + `)\s+and\s+(?:` + boundTokenExpr + `)\b`)
	spacePattern        = regexp.MustCompile(`\s+`)
)

// Extractor resolves date windows from free text relative to a clock.
type Extractor struct {
	// Now is the clock; tests pin it.
	Now func() time.Time
	// DefaultWindowDays is the trailing window used when the text names no
	// time at all. Zero disables the default window.
	DefaultWindowDays int
}

// NewExtractor creates an Extractor on the wall clock.
func NewExtractor(defaultWindowDays int) *Extractor {
	return &Extractor{Now: time.Now, DefaultWindowDays: defaultWindowDays}
}

func (e *Extractor) today() time.Time {
	if e.Now == nil {
		return StartOfDay(time.Now().UTC())
	}
	return StartOfDay(e.Now().UTC())
}

// ExtractRange resolves the window a question asks about. Rules are tried in
// order and the first hit wins: an explicit "between/from ... and/to" range,
// a single absolute day, a month token, a relative phrase, a bare year and
// finally the default trailing window.
func (e *Extractor) ExtractRange(text string) (Range, bool) {
	if r, ok := e.explicitRange(text); ok {
		return r, true
	}
	if r, ok := e.singleDay(text); ok {
		return r, true
	}
	if r, ok := e.monthToken(text); ok {
		return r, true
	}
	if r, ok := e.relative(text); ok {
		return r, true
	}
	if r, ok := e.bareYear(text); ok {
		return r, true
	}
	if e.DefaultWindowDays > 0 {
		today := e.today()
		return Range{Start: today.AddDate(0, 0, -e.DefaultWindowDays), End: today, Source: SourceDefault}, true
	}
	return Range{}, false
}

// HasExplicitTimeWindow reports whether the text itself names a time window,
// ignoring the default trailing window.
func (e *Extractor) HasExplicitTimeWindow(text string) bool {
	r, ok := e.ExtractRange(text)
	return ok && r.Source != SourceDefault
}

func (e *Extractor) explicitRange(text string) (Range, bool) {
	if m := betweenPattern.FindStringSubmatch(text); m != nil {
		if r, ok := orderedRange(m[2], m[3]); ok {
			if m[1] != "" && !strings.EqualFold(m[1], "dates") && !strings.EqualFold(m[1], "date") {
				r.Column = strings.ToUpper(m[1])
			}
			return r, true
		}
	}
	if m := fromToPattern.FindStringSubmatch(text); m != nil {
		return orderedRange(m[1], m[2])
	}
	return Range{}, false
}

// orderedRange builds the window spanned by two bounds in either order. A
// month or year bound covers its whole period, so "May 2024 and July 2024"
// runs to 31 July.
func orderedRange(a, b string) (Range, bool) {
	aStart, ag, ok1 := ParseHumanDate(a)
	bStart, bg, ok2 := ParseHumanDate(b)
	if !ok1 || !ok2 {
		return Range{}, false
	}
	start, end := aStart, lastDay(bStart, bg)
	if bStart.Before(aStart) {
		start, end = bStart, lastDay(aStart, ag)
	}
	return Range{Start: start, End: end, Source: SourceExplicit}, true
}

// lastDay is the final day of the period starting at t.
func lastDay(t time.Time, g Granularity) time.Time {
	switch g {
	case GranularityMonth:
		return EndOfMonth(t)
	case GranularityYear:
		return time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

func (e *Extractor) singleDay(text string) (Range, bool) {
	for _, tok := range dayTokenPattern.FindAllString(text, -1) {
		if t, g, ok := ParseHumanDate(tok); ok && g == GranularityDay {
			return Range{Start: t, End: t, Source: SourceSingleDay}, true
		}
	}
	return Range{}, false
}

func (e *Extractor) monthToken(text string) (Range, bool) {
	m := monthTokenRe.FindStringSubmatch(text)
	if m == nil {
		return Range{}, false
	}
	month, ok := LookupMonth(m[1])
	if !ok {
		return Range{}, false
	}
	yearText := m[2]
	if yearText == "" {
		yearText = m[3]
	}
	year, _ := strconv.Atoi(yearText)
	start := time.Date(ExpandYear(year), month, 1, 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: EndOfMonth(start), Source: SourceMonth}, true
}

func (e *Extractor) relative(text string) (Range, bool) {
	today := e.today()
	rel := func(start, end time.Time) (Range, bool) {
		return Range{Start: start, End: end, Source: SourceRelative}, true
	}

	if m := lastNPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch strings.ToLower(m[2]) {
		case "day":
			return rel(today.AddDate(0, 0, -n), today)
		case "week":
			return rel(today.AddDate(0, 0, -7*n), today)
		case "month":
			return rel(today.AddDate(0, -n, 0), today)
		case "year":
			return rel(today.AddDate(-n, 0, 0), today)
		}
	}

	switch {
	case yesterdayPattern.MatchString(text):
		y := today.AddDate(0, 0, -1)
		return rel(y, y)
	case todayPattern.MatchString(text):
		return rel(today, today)
	case lastWeekPattern.MatchString(text):
		monday := weekStart(today).AddDate(0, 0, -7)
		return rel(monday, monday.AddDate(0, 0, 6))
	case thisWeekPattern.MatchString(text):
		return rel(weekStart(today), today)
	case lastMonthPattern.MatchString(text):
		first := time.Date(today.Year(), today.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		return rel(first, EndOfMonth(first))
	case thisMonthPattern.MatchString(text):
		return rel(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), today)
	case lastQuarterPattern.MatchString(text):
		start := quarterStart(today).AddDate(0, -3, 0)
		return rel(start, start.AddDate(0, 3, -1))
	case thisQuarterPattern.MatchString(text):
		return rel(quarterStart(today), today)
	case lastYearPattern.MatchString(text):
		y := today.Year() - 1
		return rel(time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC))
	case thisYearPattern.MatchString(text):
		return rel(time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), today)
	}
	return Range{}, false
}

func (e *Extractor) bareYear(text string) (Range, bool) {
	for _, loc := range yearTokenRe.FindAllStringIndex(text, -1) {
		if partOfCode(text, loc[0], loc[1]) {
			continue
		}
		y, _ := strconv.Atoi(text[loc[0]:loc[1]])
		return Range{
			Start:  time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
			Source: SourceYear,
		}, true
	}
	return Range{}, false
}

// partOfCode reports whether the digits at [start,end) are glued to a code
// such as CTL-24-2024 or 2024/17 rather than standing alone.
func partOfCode(text string, start, end int) bool {
	if start > 0 && strings.ContainsRune("-/_.", rune(text[start-1])) {
		return true
	}
	if end < len(text) && strings.ContainsRune("-/_", rune(text[end])) {
		return true
	}
	return false
}

func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func quarterStart(t time.Time) time.Time {
	q := (int(t.Month()) - 1) / 3
	return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// StripDateTokens removes every date, month, year and relative-time phrase
// from the text so the remainder can be mined for entity names.
func StripDateTokens(text string) string {
	out := betweenStripPattern.ReplaceAllString(text, " ")
	out = fromToPattern.ReplaceAllString(out, " ")
	out = dayTokenPattern.ReplaceAllString(out, " ")
	out = monthTokenRe.ReplaceAllString(out, " ")
	for _, p := range relativeStripGroups {
		out = p.ReplaceAllString(out, " ")
	}

	var b strings.Builder
	last := 0
	for _, loc := range yearTokenRe.FindAllStringIndex(out, -1) {
		if partOfCode(out, loc[0], loc[1]) {
			continue
		}
		b.WriteString(out[last:loc[0]])
		b.WriteString(" ")
		last = loc[1]
	}
	b.WriteString(out[last:])

	return strings.TrimSpace(spacePattern.ReplaceAllString(b.String(), " "))
}

// FindDateMentions returns the raw date phrases found in the text, in order.
func FindDateMentions(text string) []string {
	var found []string
	for _, p := range []*regexp.Regexp{betweenStripPattern, fromToPattern, dayTokenPattern, monthTokenRe} {
		found = append(found, p.FindAllString(text, -1)...)
	}
	for _, p := range relativeStripGroups {
		found = append(found, p.FindAllString(text, -1)...)
	}
	return found
}
