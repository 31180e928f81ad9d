package fixer

import (
	"fmt"
	"strings"

	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/inference"
)

// fixSystemPrompt is the system instruction for file rewriting.
const fixSystemPrompt = `You are an expert software engineer fixing specific reported bugs.

Rules:
- Make the minimal change that fixes the listed bugs.
- Do not refactor, rename, reformat, or restructure anything else.
- Preserve all exports, function signatures, imports, and the formatting of untouched lines.
- Do not make edits unrelated to the listed bugs.

Respond with exactly one fenced code block containing the complete corrected file. Do not add commentary outside the code block.`

// filePrompt renders the per-file fix request: the bug list, optional test
// output for context, and the numbered source.
func filePrompt(path, content string, bugs []healing.Bug, testOutput string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\nBugs to fix:\n", path)
	for _, bug := range bugs {
		fmt.Fprintf(&b, "- line %d [%s/%s]: %s\n", bug.Line, bug.Category, bug.Severity, bug.Message)
	}

	if testOutput != "" {
		b.WriteString("\nRecent test output:\n")
		b.WriteString(testOutput)
		if !strings.HasSuffix(testOutput, "\n") {
			b.WriteString("\n")
		}
	}

	b.WriteString("\nCurrent content with line numbers:\n")
	b.WriteString(inference.NumberLines(content))
	return b.String()
}
