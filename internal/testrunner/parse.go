package testrunner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fixpointlabs/healerd/internal/healing"
)

// Failure-location patterns across the supported ecosystems. Each yields a
// file path, a line number, and the trailing message.
var (
	// Go test / tsc style: "foo_test.go:12: expected 3, got 4" or
	// "src/app.ts(14,8): error TS2322: ..."
	colonLineRe = regexp.MustCompile(`(?m)^\s*([\w./\\-]+\.[A-Za-z]{1,4}):(\d+)(?::\d+)?:\s*(.+)$`)

	// Node stack frames: "at Object.<anonymous> (/app/src/index.js:7:15)"
	nodeFrameRe = regexp.MustCompile(`\(([\w./\\-]+\.[cm]?[jt]sx?):(\d+):\d+\)`)

	// pytest summary: "FAILED tests/test_calc.py::test_add - AssertionError: ..."
	pytestRe = regexp.MustCompile(`(?m)^FAILED\s+([\w./\\-]+\.py)::\S+(?:\s+-\s+(.+))?$`)

	// pytest tracebacks: 'File "tests/test_calc.py", line 14'
	pyTracebackRe = regexp.MustCompile(`File "([\w./\\-]+\.py)", line (\d+)`)
)

const maxParsedFailures = 50

// ParseFailures extracts structured failure locations from raw test output.
// Output that matches nothing yields an empty slice; a failing run with zero
// parsed locations is still a failing run.
func ParseFailures(output string) []healing.TestFailure {
	var failures []healing.TestFailure
	seen := make(map[healing.BugKey]struct{})
	seenFiles := make(map[string]struct{})

	add := func(file string, line int, message, typ string) {
		if len(failures) >= maxParsedFailures {
			return
		}
		file = strings.TrimSpace(file)
		if file == "" {
			return
		}
		key := healing.BugKey{FilePath: file, Line: line}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		seenFiles[file] = struct{}{}
		failures = append(failures, healing.TestFailure{
			FilePath: file,
			Line:     line,
			Message:  strings.TrimSpace(message),
			Type:     typ,
		})
	}

	for _, m := range colonLineRe.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[2])
		add(m[1], line, m[3], "assertion")
	}

	for _, m := range nodeFrameRe.FindAllStringSubmatch(output, -1) {
		if strings.Contains(m[1], "node_modules") || strings.HasPrefix(m[1], "node:") {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		add(m[1], line, "", "runtime")
	}

	for _, m := range pyTracebackRe.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[2])
		add(m[1], line, "", "runtime")
	}

	// pytest summary lines carry no line number; only fall back to them for
	// files with no located failure yet.
	for _, m := range pytestRe.FindAllStringSubmatch(output, -1) {
		if _, located := seenFiles[m[1]]; located {
			continue
		}
		add(m[1], 1, m[2], "assertion")
	}

	return failures
}
