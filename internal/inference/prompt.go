package inference

import (
	"fmt"
	"strings"
)

// NumberLines renders source content with 1-based line numbers in the form
// "   3 | code". Scanner and fixer prompts share this rendering so the
// model's line references line up with reported bug locations.
func NumberLines(content string) string {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, line)
	}
	return b.String()
}
