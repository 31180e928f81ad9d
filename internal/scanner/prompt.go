package scanner

import (
	"fmt"
	"strings"

	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/inference"
)

// scanSystemPrompt is the system instruction for batch bug scanning.
const scanSystemPrompt = `You are an expert bug hunter reviewing source code for real defects.

Report every genuine bug you find: syntax errors, broken imports, type errors, runtime hazards, and logic mistakes. Do not report style preferences, missing features, or speculative improvements.

Respond ONLY with a JSON array. Each element must be an object with exactly these keys:
- "category": one of "SYNTAX", "LINTING", "RUNTIME", "LOGIC", "IMPORT", "TYPE", "DEPENDENCY"
- "filePath": the file path exactly as shown in the input
- "line": the 1-based line number of the defect
- "message": a one-sentence description of the bug
- "severity": one of "critical", "high", "medium", "low", "info"

If no bugs exist, respond with [].`

// batchPrompt renders one batch of files, preceded by structured
// test-failure context when available.
func batchPrompt(files []sourceFile, failures []healing.TestFailure) string {
	var b strings.Builder
	b.WriteString("Analyze the following files for bugs.\n")

	if len(failures) > 0 {
		b.WriteString("\nTest failures observed in this repository:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "- %s:%d: %s\n", f.FilePath, f.Line, failureMessage(f))
		}
	}

	for _, file := range files {
		fmt.Fprintf(&b, "\nFile: %s\n", file.Path)
		b.WriteString(inference.NumberLines(file.Content))
	}
	return b.String()
}
