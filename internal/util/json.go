package util

import (
	"regexp"
	"strings"
)

var codeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractJSON pulls a JSON object or array out of a model response that may
// wrap it in markdown code fences or surrounding prose.
func ExtractJSON(s string) string {
	if m := codeBlockRegex.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	} else {
		s = strings.TrimSpace(s)
	}

	if start := strings.Index(s, "{"); start != -1 {
		if end := matchBracket(s, start, '{', '}'); end != -1 {
			return s[start : end+1]
		}
	}
	if start := strings.Index(s, "["); start != -1 {
		if end := matchBracket(s, start, '[', ']'); end != -1 {
			return s[start : end+1]
		}
	}
	return s
}

// matchBracket returns the index of the closing bracket matching the opener
// at start, skipping bracket characters inside string literals. Returns -1
// when the structure is truncated.
func matchBracket(s string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// SanitizeJSON escapes literal newlines inside string values, a common
// defect in model-produced JSON.
func SanitizeJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			b.WriteByte(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			b.WriteByte(ch)
			escaped = true
		case ch == '"':
			b.WriteByte(ch)
			inString = !inString
		case inString && (ch == '\n' || ch == '\r'):
			b.WriteString("\\n")
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
