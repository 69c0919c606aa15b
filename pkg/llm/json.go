package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when a response carries no parseable object.
var ErrNoJSONObject = errors.New("no JSON object in response")

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\n?(.*?)```")
)

// StripThinking removes reasoning blocks. An unterminated <think> (the
// model ran out of tokens mid-thought) drops everything after it.
func StripThinking(response string) string {
	out := thinkBlock.ReplaceAllString(response, "")
	if i := strings.Index(out, "<think>"); i >= 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out)
}

// CodeBlocks returns the bodies of all fenced code blocks, in order.
func CodeBlocks(response string) []string {
	var blocks []string
	for _, m := range codeFence.FindAllStringSubmatch(response, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			blocks = append(blocks, body)
		}
	}
	return blocks
}

// ExtractJSONObject returns the first balanced, valid JSON object in an
// LLM response after reasoning blocks are removed. Fences and surrounding
// prose are skipped over.
func ExtractJSONObject(response string) (string, error) {
	text := StripThinking(response)
	for from := 0; from < len(text); {
		i := strings.IndexByte(text[from:], '{')
		if i < 0 {
			break
		}
		start := from + i
		if end := objectEnd(text, start); end > 0 {
			if candidate := text[start:end]; json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		from = start + 1
	}
	return "", ErrNoJSONObject
}

// objectEnd scans from the '{' at start and returns the index just past
// its matching '}', or -1 when the object never closes. Braces inside
// string literals are ignored.
func objectEnd(s string, start int) int {
	depth := 0
	quoted := false
	for i := start; i < len(s); i++ {
		switch c := s[i]; {
		case quoted && c == '\\':
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
