// Package dates canonicalizes Oracle date literals and resolves the time
// window a natural-language question asks about.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OracleFormat is the canonical TO_DATE format mask.
const OracleFormat = "DD-MON-YYYY"

// Granularity describes how much of a calendar date a literal pins down.
type Granularity int

const (
	GranularityNone Granularity = iota
	GranularityDay
	GranularityMonth
	GranularityYear
)

// Literal renders a day as TO_DATE('DD-MON-YYYY','DD-MON-YYYY').
func Literal(t time.Time) string {
	return fmt.Sprintf("TO_DATE('%s','%s')", FormatDay(t), OracleFormat)
}

// FormatDay renders a day as DD-MON-YYYY with an upper-case month.
func FormatDay(t time.Time) string {
	return strings.ToUpper(t.Format("02-Jan-2006"))
}

// ExpandYear maps a two-digit year onto a full year: values below 50 land in
// the 2000s and the rest in the 1900s. Years of three or more digits pass through.
func ExpandYear(y int) int {
	if y >= 100 {
		return y
	}
	if y < 50 {
		return 2000 + y
	}
	return 1900 + y
}

// oracleLayouts maps the Oracle format masks we rewrite onto Go layouts.
// Masks with a two-digit year are flagged so the pivot can be applied.
var oracleLayouts = map[string]struct {
	layout  string
	twoYear bool
}{
	"DD-MON-YYYY": {"02-Jan-2006", false},
	"DD-MON-YY":   {"02-Jan-06", true},
	"DD-MON-RR":   {"02-Jan-06", true},
	"YYYY-MM-DD":  {"2006-01-02", false},
	"DD/MM/YYYY":  {"02/01/2006", false},
	"MM/DD/YYYY":  {"01/02/2006", false},
	"DD-MM-YYYY":  {"02-01-2006", false},
	"DD.MM.YYYY":  {"02.01.2006", false},
	"YYYYMMDD":    {"20060102", false},
	"DD/MM/YY":    {"02/01/06", true},
	"DD-MM-YY":    {"02-01-06", true},
	"DD MON YYYY": {"02 Jan 2006", false},
	"MON-YYYY":    {"Jan-2006", false},
	"MON-YY":      {"Jan-06", true},
}

var toDatePattern = regexp.MustCompile(`(?i)TO_DATE\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)`)

// NormalizeDates rewrites every TO_DATE('<literal>','<mask>') whose literal
// parses under its mask into TO_DATE('DD-MON-YYYY','DD-MON-YYYY'). Literals
// that do not parse are left exactly as written. The rewrite is idempotent.
func NormalizeDates(sqlQuery string) string {
	return toDatePattern.ReplaceAllStringFunc(sqlQuery, func(match string) string {
		m := toDatePattern.FindStringSubmatch(match)
		t, ok := ParseWithMask(m[1], m[2])
		if !ok {
			return match
		}
		return Literal(t)
	})
}

// ParseWithMask parses value under an Oracle format mask. Only the masks in
// oracleLayouts are understood; anything else reports false.
func ParseWithMask(value, mask string) (time.Time, bool) {
	spec, ok := oracleLayouts[strings.ToUpper(strings.TrimSpace(mask))]
	if !ok {
		return time.Time{}, false
	}
	value = strings.TrimSpace(value)
	t, err := time.Parse(spec.layout, value)
	if err != nil {
		// Oracle accepts an unpadded day where Go's 02 does not.
		t, err = time.Parse(strings.Replace(spec.layout, "02", "2", 1), value)
		if err != nil {
			return time.Time{}, false
		}
	}
	if spec.twoYear {
		t = time.Date(ExpandYear(t.Year()%100), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t, true
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// LookupMonth resolves a month name or three-letter abbreviation.
func LookupMonth(name string) (time.Month, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < 3 {
		return 0, false
	}
	m, ok := monthNames[name[:3]]
	if !ok {
		return 0, false
	}
	full := strings.ToLower(m.String())
	if name != name[:3] && name != "sept" && !strings.HasPrefix(full, name) {
		return 0, false
	}
	return m, true
}

const monthRe = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	isoDayPattern     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	numericDayPattern = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{2}|\d{4})$`)
	dayMonYearPattern = regexp.MustCompile(`(?i)^(\d{1,2})(?:st|nd|rd|th)?[-\s]+(` + monthRe + `)[-\s,]+(\d{2}|\d{4})$`)
	monDayYearPattern = regexp.MustCompile(`(?i)^(` + monthRe + `)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})$`)
	monYearPattern    = regexp.MustCompile(`(?i)^(` + monthRe + `)[-\s']+(\d{2}|\d{4})$`)
	yearOnlyPattern   = regexp.MustCompile(`^(19|20)\d{2}$`)
	dayTokenExpr      = `\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.-]\d{1,2}[/.-](?:\d{4}|\d{2})|\d{1,2}(?:st|nd|rd|th)?[-\s]+` + monthRe + `[-\s,]+(?:\d{4}|\d{2})|` + monthRe + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}`
)

// ParseHumanDate parses a date as users and models tend to write it:
// 2024-05-01, 01/05/2024 (day first), 01-May-2024, 1 May 2024, May 1, 2024,
// MAY-24, May 2024 or 2024. It reports the granularity the text pinned down.
func ParseHumanDate(s string) (time.Time, Granularity, bool) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "%"))

	if m := isoDayPattern.FindStringSubmatch(s); m != nil {
		return buildDay(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := numericDayPattern.FindStringSubmatch(s); m != nil {
		return buildDay(ExpandYear(atoi(m[3])), atoi(m[2]), atoi(m[1]))
	}
	if m := dayMonYearPattern.FindStringSubmatch(s); m != nil {
		month, ok := LookupMonth(m[2])
		if !ok {
			return time.Time{}, GranularityNone, false
		}
		return buildDay(ExpandYear(atoi(m[3])), int(month), atoi(m[1]))
	}
	if m := monDayYearPattern.FindStringSubmatch(s); m != nil {
		month, ok := LookupMonth(m[1])
		if !ok {
			return time.Time{}, GranularityNone, false
		}
		return buildDay(atoi(m[3]), int(month), atoi(m[2]))
	}
	if m := monYearPattern.FindStringSubmatch(s); m != nil {
		month, ok := LookupMonth(m[1])
		if !ok {
			return time.Time{}, GranularityNone, false
		}
		return time.Date(ExpandYear(atoi(m[2])), month, 1, 0, 0, 0, 0, time.UTC), GranularityMonth, true
	}
	if yearOnlyPattern.MatchString(s) {
		return time.Date(atoi(s), time.January, 1, 0, 0, 0, 0, time.UTC), GranularityYear, true
	}
	return time.Time{}, GranularityNone, false
}

func buildDay(year, month, day int) (time.Time, Granularity, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, GranularityNone, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, GranularityNone, false
	}
	return t, GranularityDay, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// OracleRendering returns an Oracle expression for a parsed literal. ISO input
// renders as a DATE literal, anything else as a canonical TO_DATE call.
func OracleRendering(raw string) (string, bool) {
	t, g, ok := ParseHumanDate(raw)
	if !ok || g != GranularityDay {
		return "", false
	}
	if isoDayPattern.MatchString(strings.TrimSpace(raw)) {
		return fmt.Sprintf("DATE '%s'", t.Format("2006-01-02")), true
	}
	return Literal(t), true
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last day of t's month.
func EndOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}
