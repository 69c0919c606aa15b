package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractLiterals(t *testing.T) {
	e := NewExtractor(nil)

	tests := []struct {
		name     string
		question string
		want     []string
	}{
		{
			name:     "org code survives, dates and generic terms dropped",
			question: "CAL production vs defect for May 2024 by floor",
			want:     []string{"CAL"},
		},
		{
			name:     "full org name maps to its short code",
			question: "Chorka Apparels Ltd efficiency last month",
			want:     []string{"CAL"},
		},
		{
			name:     "hyphenated label kept whole",
			question: "output for North-Side Knit unit",
			want:     []string{"North-Side Knit"},
		},
		{
			name:     "plural generic terms are dropped",
			question: "employees in Accounts",
			want:     []string{"Accounts"},
		},
		{
			name:     "short lower-case tokens are dropped",
			question: "defects for Tee",
			want:     nil,
		},
		{
			name:     "phrases are prefix-capped",
			question: "Rahim Uddin Ahmed Chowdhury Knitting Sewing Finishing Zone",
			want: []string{
				"Rahim Uddin",
				"Rahim Uddin Ahmed",
				"Rahim Uddin Ahmed Chowdhury Knitting Sewing",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ExtractLiterals(tt.question))
		})
	}
}

func TestExtractLiterals_NeverEmitsDateFragments(t *testing.T) {
	e := NewExtractor(nil)
	for _, q := range []string{
		"CAL output between 2024-05-01 and 2024-05-31",
		"defects on 01-May-2024 for Knit Zone",
		"production last 7 days for Knit Zone",
	} {
		for _, lit := range e.ExtractLiterals(q) {
			assert.NotContains(t, lit, "2024", q)
			assert.NotContains(t, lit, "May", q)
			assert.NotContains(t, lit, "days", q)
		}
	}
}

func TestApplyOrgSynonyms(t *testing.T) {
	e := NewExtractor(map[string]string{"Acme Garments": "AGL"})
	assert.Equal(t, "AGL output", e.ApplyOrgSynonyms("acme garments output"))
	assert.Equal(t, "Acme output", e.ApplyOrgSynonyms("Acme output"))
}

func TestExtractStructuredCodes(t *testing.T) {
	e := NewExtractor(nil)
	codes := e.ExtractStructuredCodes("status of CTL-24-012345 with barcode 123456789012, challan no: CH/2024/17 and inventory id 5521")

	assert.Equal(t, []Code{
		{Kind: CodeCTL, Value: "CTL-24-012345"},
		{Kind: CodeChallan, Value: "CH/2024/17"},
		{Kind: CodeInventory, Value: "5521"},
		{Kind: CodeBarcode, Value: "123456789012"},
	}, codes)
}

func TestExtractStructuredCodes_ChallanNeedsDigits(t *testing.T) {
	e := NewExtractor(nil)
	assert.Empty(t, e.ExtractStructuredCodes("challan number for floor 3"))
}

func TestIsGenericTerm(t *testing.T) {
	assert.True(t, IsGenericTerm("Floors"))
	assert.True(t, IsGenericTerm("defects"))
	assert.True(t, IsGenericTerm("QTY"))
	assert.False(t, IsGenericTerm("Knit"))
}
