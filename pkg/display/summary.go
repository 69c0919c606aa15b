package display

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
)

var averagePattern = regexp.MustCompile(`(?i)\b(average|avg|mean)\b`)

// efficiencyHints rank numeric columns for an "average" question.
var efficiencyHints = []string{"EFF", "DHU", "RATE", "PCT", "PERCENT", "AVG", "ACHIEV"}

// SummarizeResults writes a one-line narrative for a result. A single cell
// renders as "<Column>: <value>". An average question reports that one
// metric, with the lowest and highest labelled rows when a label column
// exists. Anything else gets a row count.
func SummarizeResults(userQuery string, result *datasource.QueryExecutionResult) string {
	if result == nil || len(result.Rows) == 0 {
		return "No matching records found."
	}
	cols := columnOrder(result)

	if len(result.Rows) == 1 && len(cols) == 1 {
		return fmt.Sprintf("%s: %s", humanize(cols[0]), formatValue(result.Rows[0][cols[0]]))
	}

	if averagePattern.MatchString(userQuery) {
		if line, ok := summarizeAverage(result, cols); ok {
			return line
		}
	}

	if len(result.Rows) == 1 {
		return "Found 1 matching record."
	}
	return fmt.Sprintf("Found %d matching records.", len(result.Rows))
}

func summarizeAverage(result *datasource.QueryExecutionResult, cols []string) (string, bool) {
	metric, ok := pickMetricColumn(result, cols)
	if !ok {
		return "", false
	}
	label, hasLabel := pickLabelColumn(result, cols, metric)

	var (
		sum       float64
		n         int
		low, high float64
		lowLabel  string
		highLabel string
	)
	for _, row := range result.Rows {
		v, ok := toFloat(row[metric])
		if !ok {
			continue
		}
		if n == 0 || v < low {
			low, lowLabel = v, labelOf(row, label)
		}
		if n == 0 || v > high {
			high, highLabel = v, labelOf(row, label)
		}
		sum += v
		n++
	}
	if n == 0 {
		return "", false
	}

	line := fmt.Sprintf("Average %s: %s", humanize(metric), strconv.FormatFloat(sum/float64(n), 'f', 2, 64))
	if hasLabel && n > 1 && lowLabel != "" && highLabel != "" {
		line += fmt.Sprintf(" (lowest: %s at %s, highest: %s at %s)",
			lowLabel, strconv.FormatFloat(low, 'f', 2, 64),
			highLabel, strconv.FormatFloat(high, 'f', 2, 64))
	}
	return line + ".", true
}

// pickMetricColumn prefers efficiency-like numeric columns, then the first
// numeric column.
func pickMetricColumn(result *datasource.QueryExecutionResult, cols []string) (string, bool) {
	numeric := make([]string, 0, len(cols))
	for _, c := range cols {
		if isNumericColumn(result, c) {
			numeric = append(numeric, c)
		}
	}
	if len(numeric) == 0 {
		return "", false
	}
	for _, hint := range efficiencyHints {
		for _, c := range numeric {
			if strings.Contains(strings.ToUpper(c), hint) {
				return c, true
			}
		}
	}
	return numeric[0], true
}

func pickLabelColumn(result *datasource.QueryExecutionResult, cols []string, metric string) (string, bool) {
	for _, c := range cols {
		if c == metric {
			continue
		}
		if _, ok := result.Rows[0][c].(string); ok {
			return c, true
		}
	}
	return "", false
}

func isNumericColumn(result *datasource.QueryExecutionResult, col string) bool {
	seen := false
	for _, row := range result.Rows {
		v := row[col]
		if v == nil {
			continue
		}
		if _, ok := v.(string); ok {
			return false
		}
		if _, ok := toFloat(v); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func labelOf(row map[string]any, col string) string {
	if col == "" {
		return ""
	}
	return formatValue(row[col])
}

// columnOrder returns the result's declared columns, or the row keys when
// none were declared.
func columnOrder(result *datasource.QueryExecutionResult) []string {
	if names := result.ColumnNames(); len(names) > 0 {
		return names
	}
	var names []string
	for k := range result.Rows[0] {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "none"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

// humanize turns TOTAL_QTY into "Total Qty".
func humanize(col string) string {
	parts := strings.FieldsFunc(col, func(r rune) bool { return r == '_' || r == ' ' })
	for i, p := range parts {
		p = strings.ToLower(p)
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}
