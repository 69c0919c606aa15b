package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Saturday, 15 June 2024.
func pinnedExtractor(defaultDays int) *Extractor {
	return &Extractor{
		Now:               func() time.Time { return time.Date(2024, time.June, 15, 14, 30, 0, 0, time.UTC) },
		DefaultWindowDays: defaultDays,
	}
}

func TestNormalizeDates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "iso mask",
			input: "WHERE D = TO_DATE('2024-05-01','YYYY-MM-DD')",
			want:  "WHERE D = TO_DATE('01-MAY-2024','DD-MON-YYYY')",
		},
		{
			name:  "day first slashes with spacing",
			input: "WHERE D > to_date( '31/12/2023' , 'DD/MM/YYYY' )",
			want:  "WHERE D > TO_DATE('31-DEC-2023','DD-MON-YYYY')",
		},
		{
			name:  "two digit year below pivot",
			input: "TO_DATE('01-AUG-49','DD-MON-YY')",
			want:  "TO_DATE('01-AUG-2049','DD-MON-YYYY')",
		},
		{
			name:  "two digit year at pivot",
			input: "TO_DATE('01-AUG-50','DD-MON-YY')",
			want:  "TO_DATE('01-AUG-1950','DD-MON-YYYY')",
		},
		{
			name:  "lower case month",
			input: "TO_DATE('5-aug-2024','DD-MON-YYYY')",
			want:  "TO_DATE('05-AUG-2024','DD-MON-YYYY')",
		},
		{
			name:  "unparsable literal left alone",
			input: "TO_DATE('not a date','YYYY-MM-DD')",
			want:  "TO_DATE('not a date','YYYY-MM-DD')",
		},
		{
			name:  "unknown mask left alone",
			input: "TO_DATE('2024-05-01 10:00','YYYY-MM-DD HH24:MI')",
			want:  "TO_DATE('2024-05-01 10:00','YYYY-MM-DD HH24:MI')",
		},
		{
			name:  "impossible day left alone",
			input: "TO_DATE('31-FEB-2024','DD-MON-YYYY')",
			want:  "TO_DATE('31-FEB-2024','DD-MON-YYYY')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeDates(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeDates(got), "normalization must be idempotent")
		})
	}
}

func TestExpandYear(t *testing.T) {
	assert.Equal(t, 2000, ExpandYear(0))
	assert.Equal(t, 2049, ExpandYear(49))
	assert.Equal(t, 1950, ExpandYear(50))
	assert.Equal(t, 1999, ExpandYear(99))
	assert.Equal(t, 2024, ExpandYear(2024))
}

func TestParseHumanDate(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
		gran  Granularity
	}{
		{"2024-05-01", day(2024, time.May, 1), GranularityDay},
		{"01/05/2024", day(2024, time.May, 1), GranularityDay},
		{"01-May-2024", day(2024, time.May, 1), GranularityDay},
		{"1st May 2024", day(2024, time.May, 1), GranularityDay},
		{"May 1, 2024", day(2024, time.May, 1), GranularityDay},
		{"01-MAY-24", day(2024, time.May, 1), GranularityDay},
		{"MAY-24", day(2024, time.May, 1), GranularityMonth},
		{"September 2023", day(2023, time.September, 1), GranularityMonth},
		{"%2024%", day(2024, time.January, 1), GranularityYear},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, gran, ok := ParseHumanDate(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.gran, gran)
		})
	}

	_, _, ok := ParseHumanDate("31/02/2024")
	assert.False(t, ok)
	_, _, ok = ParseHumanDate("floor 3")
	assert.False(t, ok)
}

func TestOracleRendering(t *testing.T) {
	got, ok := OracleRendering("2024-05-01")
	require.True(t, ok)
	assert.Equal(t, "DATE '2024-05-01'", got)

	got, ok = OracleRendering("01/05/2024")
	require.True(t, ok)
	assert.Equal(t, "TO_DATE('01-MAY-2024','DD-MON-YYYY')", got)

	_, ok = OracleRendering("May 2024")
	assert.False(t, ok)
}

func TestExtractRange(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		start  time.Time
		end    time.Time
		source Source
		column string
	}{
		{
			name:   "month token with four digit year",
			text:   "CAL production vs defect for May 2024 by floor",
			start:  day(2024, time.May, 1),
			end:    day(2024, time.May, 31),
			source: SourceMonth,
		},
		{
			name:   "month token with two digit year",
			text:   "defects in FEB-24",
			start:  day(2024, time.February, 1),
			end:    day(2024, time.February, 29),
			source: SourceMonth,
		},
		{
			name:   "explicit between with column",
			text:   "output where prod_date between 2024-05-10 and 2024-05-01",
			start:  day(2024, time.May, 1),
			end:    day(2024, time.May, 10),
			source: SourceExplicit,
			column: "PROD_DATE",
		},
		{
			name:   "explicit from to",
			text:   "defects from 01-May-2024 to 15-May-2024",
			start:  day(2024, time.May, 1),
			end:    day(2024, time.May, 15),
			source: SourceExplicit,
		},
		{
			name:   "explicit month range covers the last month",
			text:   "dhu between May 2024 and July 2024",
			start:  day(2024, time.May, 1),
			end:    day(2024, time.July, 31),
			source: SourceExplicit,
			column: "DHU",
		},
		{
			name:   "explicit two digit month range reversed",
			text:   "defects from MAR-24 to JAN-24",
			start:  day(2024, time.January, 1),
			end:    day(2024, time.March, 31),
			source: SourceExplicit,
		},
		{
			name:   "explicit year range",
			text:   "output from 2022 to 2023",
			start:  day(2022, time.January, 1),
			end:    day(2023, time.December, 31),
			source: SourceExplicit,
		},
		{
			name:   "explicit day to month",
			text:   "between 2024-05-10 and June 2024 show output",
			start:  day(2024, time.May, 10),
			end:    day(2024, time.June, 30),
			source: SourceExplicit,
		},
		{
			name:   "explicit beats relative",
			text:   "between 2024-01-01 and 2024-01-31 compared to last month",
			start:  day(2024, time.January, 1),
			end:    day(2024, time.January, 31),
			source: SourceExplicit,
		},
		{
			name:   "single day",
			text:   "attendance on 5 June 2024",
			start:  day(2024, time.June, 5),
			end:    day(2024, time.June, 5),
			source: SourceSingleDay,
		},
		{
			name:   "single day beats month",
			text:   "production on 2024-03-02 for March 2024",
			start:  day(2024, time.March, 2),
			end:    day(2024, time.March, 2),
			source: SourceSingleDay,
		},
		{
			name:   "last month",
			text:   "efficiency last month",
			start:  day(2024, time.May, 1),
			end:    day(2024, time.May, 31),
			source: SourceRelative,
		},
		{
			name:   "last week is the previous calendar week",
			text:   "defects last week",
			start:  day(2024, time.June, 3),
			end:    day(2024, time.June, 9),
			source: SourceRelative,
		},
		{
			name:   "last n days",
			text:   "output for the last 7 days",
			start:  day(2024, time.June, 8),
			end:    day(2024, time.June, 15),
			source: SourceRelative,
		},
		{
			name:   "last quarter",
			text:   "DHU last quarter",
			start:  day(2024, time.January, 1),
			end:    day(2024, time.March, 31),
			source: SourceRelative,
		},
		{
			name:   "last year",
			text:   "production last year",
			start:  day(2023, time.January, 1),
			end:    day(2023, time.December, 31),
			source: SourceRelative,
		},
		{
			name:   "bare year",
			text:   "total output 2023",
			start:  day(2023, time.January, 1),
			end:    day(2023, time.December, 31),
			source: SourceYear,
		},
		{
			name:   "default window",
			text:   "production by floor",
			start:  day(2024, time.May, 16),
			end:    day(2024, time.June, 15),
			source: SourceDefault,
		},
	}

	e := pinnedExtractor(30)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := e.ExtractRange(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.start, r.Start)
			assert.Equal(t, tt.end, r.End)
			assert.Equal(t, tt.source, r.Source)
			assert.Equal(t, tt.column, r.Column)
		})
	}
}

func TestExtractRange_NoDefault(t *testing.T) {
	e := pinnedExtractor(0)

	_, ok := e.ExtractRange("list employees")
	assert.False(t, ok)

	_, ok = e.ExtractRange("status of CTL-24-2024 task")
	assert.False(t, ok, "a year glued to a code is not a time window")
}

func TestHasExplicitTimeWindow(t *testing.T) {
	e := pinnedExtractor(30)
	assert.True(t, e.HasExplicitTimeWindow("output in May 2024"))
	assert.True(t, e.HasExplicitTimeWindow("output yesterday"))
	assert.False(t, e.HasExplicitTimeWindow("list employees"))
}

func TestRangePredicate(t *testing.T) {
	r := Range{Start: day(2024, time.May, 1), End: day(2024, time.May, 31)}
	assert.Equal(t,
		"PROD_DATE BETWEEN TO_DATE('01-MAY-2024','DD-MON-YYYY') AND TO_DATE('31-MAY-2024','DD-MON-YYYY')",
		r.Predicate("PROD_DATE"))
}

func TestStripDateTokens(t *testing.T) {
	assert.Equal(t, "CAL production vs defect for by floor",
		StripDateTokens("CAL production vs defect for May 2024 by floor"))
	assert.Equal(t, "output for North-Side",
		StripDateTokens("output for North-Side last 7 days"))
	assert.Equal(t, "status of CTL-24-2024",
		StripDateTokens("status of CTL-24-2024 yesterday"))
}
