package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain object",
			input:    `{"table": "T_PROD", "limit": 10}`,
			expected: `{"table": "T_PROD", "limit": 10}`,
		},
		{
			name:     "fenced",
			input:    "```json\n{\"table\": \"T_PROD\", \"dims\": [\"FLOOR_NAME\"]}\n```",
			expected: `{"table": "T_PROD", "dims": ["FLOOR_NAME"]}`,
		},
		{
			name:     "think block with braces",
			input:    "<think>maybe {\"table\": \"WRONG\"}</think>{\"table\": \"T_PROD\"}",
			expected: `{"table": "T_PROD"}`,
		},
		{
			name:     "text around object",
			input:    "Here is the plan:\n{\"table\": \"EMP\", \"dims\": [\"DEPT\"]}\nLet me know.",
			expected: `{"table": "EMP", "dims": ["DEPT"]}`,
		},
		{
			name:     "braces and escaped quotes in strings",
			input:    `{"filter": "name LIKE '{A}%' and \"x\" }"}`,
			expected: `{"filter": "name LIKE '{A}%' and \"x\" }"}`,
		},
		{
			name:     "invalid brace group skipped",
			input:    `use {FLOOR} then {"table": "T_PROD"}`,
			expected: `{"table": "T_PROD"}`,
		},
		{
			name:     "nested",
			input:    `prefix {"dims": [{"expr": "TO_CHAR(PROD_DATE,'MON-YY')", "as": "MONTH"}]} suffix`,
			expected: `{"dims": [{"expr": "TO_CHAR(PROD_DATE,'MON-YY')", "as": "MONTH"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSONObject(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExtractJSONObject_Errors(t *testing.T) {
	for _, input := range []string{
		"",
		"SELECT 1 FROM DUAL",
		`{"table": "T_PROD"`,
		`["T_PROD"]`,
		"<think>{\"a\":1}</think>",
	} {
		_, err := ExtractJSONObject(input)
		assert.ErrorIs(t, err, ErrNoJSONObject, input)
	}
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM DUAL", StripThinking("<think>hmm</think>\nSELECT 1 FROM DUAL"))
	assert.Equal(t, "a  b", StripThinking("a <think>x</think> b"))
	assert.Equal(t, "answer", StripThinking("answer\n<think>ran out of tok"))
	assert.Equal(t, "plain", StripThinking("  plain  "))
}

func TestCodeBlocks(t *testing.T) {
	response := "First:\n```sql\nSELECT A FROM T\n```\nthen\n```\nSELECT B FROM U\n```\n```\n```"
	assert.Equal(t, []string{"SELECT A FROM T", "SELECT B FROM U"}, CodeBlocks(response))
	assert.Empty(t, CodeBlocks("no fences"))
}
