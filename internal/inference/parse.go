package inference

import (
	"errors"
	"strings"
)

var (
	// ErrNoJSONArray indicates the response contained no complete JSON array.
	ErrNoJSONArray = errors.New("no JSON array in response")

	// ErrNoCodeBlock indicates the response contained no fenced code block.
	ErrNoCodeBlock = errors.New("no code block in response")
)

// ExtractJSONArray returns the first complete top-level JSON array in s.
// Models wrap JSON in prose or markdown fences; this scans past that noise.
// Bracket depth is tracked outside string literals so nested arrays and
// bracket characters inside strings don't truncate the result.
func ExtractJSONArray(s string) (string, error) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", ErrNoJSONArray
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}

	return "", ErrNoJSONArray
}

// ExtractCodeBlock returns the contents of the first fenced code block in s.
// A language tag after the opening fence is stripped. The fence must be
// closed; an unterminated block is an error.
func ExtractCodeBlock(s string) (string, error) {
	const fence = "```"

	start := strings.Index(s, fence)
	if start < 0 {
		return "", ErrNoCodeBlock
	}

	rest := s[start+len(fence):]

	// Drop the language tag line if present.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if isLanguageTag(firstLine) {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, fence)
	if end < 0 {
		return "", ErrNoCodeBlock
	}

	return rest[:end], nil
}

// isLanguageTag reports whether a fence header line looks like a language
// identifier (```go, ```python) rather than code starting on the same line.
func isLanguageTag(line string) bool {
	if line == "" {
		return true
	}
	for _, r := range line {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '#' || r == '.') {
			return false
		}
	}
	return true
}
