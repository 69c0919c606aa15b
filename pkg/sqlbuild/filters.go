package sqlbuild

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/dates"
	sqlutil "github.com/ekaya-inc/ekaya-erp-assistant/pkg/sql"
)

var supportedOps = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true,
	"LIKE": true, "NOT LIKE": true, "IN": true, "NOT IN": true,
	"BETWEEN": true, "NOT BETWEEN": true, "IS NULL": true, "IS NOT NULL": true,
}

// renderFilter turns one plan filter into a predicate. ok is false when the
// filter is skipped: unknown column, unusable value, or a date literal the
// question gave no reason to filter on.
func (a *Assembler) renderFilter(sc *scope, f Filter, userQuery string) (string, bool, error) {
	op := f.NormalizedOp()
	if !supportedOps[op] {
		return "", false, &BuildError{Field: "filters", Value: f.Op, Reason: "unsupported operator"}
	}
	if !validColumnRef(f.Col) {
		return "", false, &BuildError{Field: "filters", Value: f.Col, Reason: "not a column name"}
	}

	ref, meta, ok := sc.resolve(f.Col)
	if !ok {
		a.logger.Warn("Skipping filter on unknown column",
			zap.String("column", f.Col),
			zap.String("tables", sc.names()))
		return "", false, nil
	}

	if op == "IS NULL" || op == "IS NOT NULL" {
		return ref + " " + op, true, nil
	}

	if meta.IsDate() {
		pred, ok := a.renderDateFilter(ref, op, f.Val, userQuery)
		if !ok {
			a.logger.Debug("Skipping date filter",
				zap.String("column", ref),
				zap.String("op", op))
		}
		return pred, ok, nil
	}
	pred, ok := renderPlainFilter(ref, op, f.Val)
	return pred, ok, nil
}

func renderPlainFilter(ref, op string, val any) (string, bool) {
	switch op {
	case "IN", "NOT IN":
		lits, ok := renderList(val)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s (%s)", ref, op, strings.Join(lits, ", ")), true

	case "BETWEEN", "NOT BETWEEN":
		lits, ok := renderList(val)
		if !ok || len(lits) != 2 {
			return "", false
		}
		return fmt.Sprintf("%s %s %s AND %s", ref, op, lits[0], lits[1]), true
	}

	if val == nil {
		switch op {
		case "=":
			return ref + " IS NULL", true
		case "!=", "<>":
			return ref + " IS NOT NULL", true
		}
		return "", false
	}
	lit, ok := renderValue(val)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s %s %s", ref, op, lit), true
}

// renderValue renders a scalar plan value as a SQL literal.
func renderValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return sqlutil.QuoteLiteral(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return "", false
		}
		return x.String(), true
	case bool:
		if x {
			return "1", true
		}
		return "0", true
	}
	return "", false
}

// renderList renders a list value, or a lone scalar as a one-element list.
func renderList(v any) ([]string, bool) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	default:
		items = []any{v}
	}
	if len(items) == 0 {
		return nil, false
	}
	lits := make([]string, 0, len(items))
	for _, item := range items {
		lit, ok := renderValue(item)
		if !ok {
			return nil, false
		}
		lits = append(lits, lit)
	}
	return lits, true
}

// likeFormats is the TO_CHAR mask used to match a LIKE literal of each granularity.
var likeFormats = map[dates.Granularity]string{
	dates.GranularityDay:   "DD-MON-YYYY",
	dates.GranularityMonth: "MON-YYYY",
	dates.GranularityYear:  "YYYY",
}

// renderDateFilter emits type-correct predicates for a date column. Values
// that do not parse as dates are skipped rather than compared as text.
func (a *Assembler) renderDateFilter(ref, op string, val any, userQuery string) (string, bool) {
	switch op {
	case "BETWEEN", "NOT BETWEEN":
		pair, ok := stringPair(val)
		if !ok {
			return "", false
		}
		lo, ok := periodBound(pair[0], false)
		if !ok {
			return "", false
		}
		hi, ok := periodBound(pair[1], true)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s %s AND %s", ref, op, lo, hi), true

	case "LIKE", "NOT LIKE":
		s, ok := val.(string)
		if !ok {
			return "", false
		}
		t, g, ok := dates.ParseHumanDate(s)
		if !ok {
			return "", false
		}
		if !a.dates.HasExplicitTimeWindow(userQuery) {
			return "", false
		}
		mask := likeFormats[g]
		return fmt.Sprintf("UPPER(TO_CHAR(%s,'%s')) %s UPPER('%%%s%%')", ref, mask, op, renderMask(t, g)), true

	case "IN", "NOT IN":
		list, ok := val.([]any)
		if !ok || len(list) == 0 {
			return "", false
		}
		lits := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return "", false
			}
			lit, ok := dates.OracleRendering(s)
			if !ok {
				return "", false
			}
			lits = append(lits, lit)
		}
		return fmt.Sprintf("TRUNC(%s) %s (%s)", ref, op, strings.Join(lits, ", ")), true
	}

	s, ok := val.(string)
	if !ok {
		return "", false
	}
	t, g, ok := dates.ParseHumanDate(s)
	if !ok {
		return "", false
	}
	if g == dates.GranularityDay {
		lit, _ := dates.OracleRendering(s)
		return fmt.Sprintf("TRUNC(%s) %s %s", ref, op, lit), true
	}

	start, end := period(t, g)
	switch op {
	case "=":
		return fmt.Sprintf("TRUNC(%s) BETWEEN %s AND %s", ref, dates.Literal(start), dates.Literal(end)), true
	case "!=", "<>":
		return fmt.Sprintf("TRUNC(%s) NOT BETWEEN %s AND %s", ref, dates.Literal(start), dates.Literal(end)), true
	case "<", ">=":
		return fmt.Sprintf("TRUNC(%s) %s %s", ref, op, dates.Literal(start)), true
	default:
		return fmt.Sprintf("TRUNC(%s) %s %s", ref, op, dates.Literal(end)), true
	}
}

func stringPair(v any) ([2]string, bool) {
	var out [2]string
	switch x := v.(type) {
	case []any:
		if len(x) != 2 {
			return out, false
		}
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return out, false
			}
			out[i] = s
		}
		return out, true
	case []string:
		if len(x) != 2 {
			return out, false
		}
		return [2]string{x[0], x[1]}, true
	}
	return out, false
}

// periodBound renders the first or last day a literal covers. Day literals
// keep their DATE or TO_DATE rendering.
func periodBound(s string, end bool) (string, bool) {
	t, g, ok := dates.ParseHumanDate(s)
	if !ok {
		return "", false
	}
	if g == dates.GranularityDay {
		return dates.OracleRendering(s)
	}
	start, last := period(t, g)
	if end {
		return dates.Literal(last), true
	}
	return dates.Literal(start), true
}

func period(t time.Time, g dates.Granularity) (time.Time, time.Time) {
	switch g {
	case dates.GranularityMonth:
		return t, dates.EndOfMonth(t)
	case dates.GranularityYear:
		return t, time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	return t, t
}

func renderMask(t time.Time, g dates.Granularity) string {
	switch g {
	case dates.GranularityMonth:
		return strings.ToUpper(t.Format("Jan-2006"))
	case dates.GranularityYear:
		return t.Format("2006")
	}
	return dates.FormatDay(t)
}
