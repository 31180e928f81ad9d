package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/inference"
)

// fakeClient returns scripted replies/errors in call order.
type fakeClient struct {
	replies  []string
	errs     []error
	requests []inference.Request
}

func (f *fakeClient) Complete(_ context.Context, req inference.Request) (string, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "[]", nil
}

func (f *fakeClient) Model() string { return "fake-model" }

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		MaxFiles:     25,
		MaxFileBytes: 50 * 1024,
		BatchSize:    4,
		Extensions:   []string{".ts", ".js", ".py", ".go"},
		SkipDirs:     []string{"node_modules", "vendor", "dist"},
	}
}

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestScan_ReportsBugs(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"src/calc.ts": "export function add(a, b) {\n  return a - b\n}\n",
	})
	client := &fakeClient{replies: []string{
		`Here is what I found:
[{"category": "LOGIC", "filePath": "src/calc.ts", "line": 2, "message": "add subtracts its operands", "severity": "high"}]`,
	}}

	report := New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), dir, nil)

	assert.Equal(t, 1, report.FilesScanned)
	assert.Equal(t, 1, report.Batches)
	assert.False(t, report.Degraded)
	require.Len(t, report.Bugs, 1)

	bug := report.Bugs[0]
	assert.NotEmpty(t, bug.ID)
	assert.Equal(t, healing.CategoryLogic, bug.Category)
	assert.Equal(t, "src/calc.ts", bug.FilePath)
	assert.Equal(t, 2, bug.Line)
	assert.Equal(t, healing.SeverityHigh, bug.Severity)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Contains(t, req.System, "JSON array")
	assert.Contains(t, req.Prompt, "File: src/calc.ts")
	assert.Contains(t, req.Prompt, "   2 |   return a - b")
}

func TestScan_SkipsExcludedPaths(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"app.ts":                 "let x = 1\n",
		"node_modules/dep.js":    "module.exports = {}\n",
		".git/hooks/pre.js":      "hook\n",
		"docs/readme.md":         "# docs\n",
		".hidden.ts":             "secret\n",
		"vendor/lib/oversize.go": "package lib\n",
	})
	cfg := testScannerConfig()
	client := &fakeClient{}

	report := New(cfg, client, zap.NewNop()).Scan(context.Background(), dir, nil)

	assert.Equal(t, 1, report.FilesScanned)
	require.Len(t, client.requests, 1)
	prompt := client.requests[0].Prompt
	assert.Contains(t, prompt, "File: app.ts")
	assert.NotContains(t, prompt, "node_modules")
	assert.NotContains(t, prompt, "readme.md")
	assert.NotContains(t, prompt, ".hidden.ts")
}

func TestScan_RespectsFileCaps(t *testing.T) {
	big := strings.Repeat("x", 200)
	dir := writeWorkspace(t, map[string]string{
		"a.ts":   "let a = 1\n",
		"b.ts":   "let b = 2\n",
		"c.ts":   "let c = 3\n",
		"big.ts": big,
	})
	cfg := testScannerConfig()
	cfg.MaxFiles = 2
	cfg.MaxFileBytes = 100

	report := New(cfg, &fakeClient{}, zap.NewNop()).Scan(context.Background(), dir, nil)

	assert.Equal(t, 2, report.FilesScanned)
}

func TestScan_Batching(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"a.ts": "1\n", "b.ts": "2\n", "c.ts": "3\n", "d.ts": "4\n", "e.ts": "5\n",
	})
	cfg := testScannerConfig()
	cfg.BatchSize = 2
	client := &fakeClient{}

	report := New(cfg, client, zap.NewNop()).Scan(context.Background(), dir, nil)

	assert.Equal(t, 5, report.FilesScanned)
	assert.Equal(t, 3, report.Batches)
	assert.Len(t, client.requests, 3)
}

func TestScan_MalformedBatchSkipped(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"a.ts": "1\n", "b.ts": "2\n",
	})
	cfg := testScannerConfig()
	cfg.BatchSize = 1
	client := &fakeClient{replies: []string{
		"I could not find anything structured to say.",
		`[{"category": "SYNTAX", "filePath": "b.ts", "line": 1, "message": "bad token", "severity": "medium"}]`,
	}}

	report := New(cfg, client, zap.NewNop()).Scan(context.Background(), dir, nil)

	assert.True(t, report.Degraded)
	assert.Equal(t, 2, report.Batches)
	require.Len(t, report.Bugs, 1)
	assert.Equal(t, "b.ts", report.Bugs[0].FilePath)
}

func TestScan_TotalFailureDegradesToTestBugs(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"a.ts": "1\n"})
	client := &fakeClient{errs: []error{errors.New("endpoint unreachable")}}
	failures := []healing.TestFailure{
		{FilePath: "a.ts", Line: 1, Message: "expected 2, got 1", Type: "assertion"},
		{FilePath: "b.ts", Line: 7, Type: "runtime"},
	}

	report := New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), dir, failures)

	assert.True(t, report.Degraded)
	require.Len(t, report.Bugs, 2)

	assert.Equal(t, healing.CategoryLogic, report.Bugs[0].Category)
	assert.Equal(t, healing.SeverityHigh, report.Bugs[0].Severity)
	assert.Equal(t, "expected 2, got 1", report.Bugs[0].Message)

	assert.Equal(t, healing.CategoryRuntime, report.Bugs[1].Category)
	assert.Equal(t, "test failure at b.ts:7", report.Bugs[1].Message)
}

func TestScan_ReconciliationSkipsCoveredLocations(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"a.ts": "1\n"})
	client := &fakeClient{replies: []string{
		`[{"category": "TYPE", "filePath": "a.ts", "line": 10, "message": "mismatch", "severity": "low"}]`,
	}}
	failures := []healing.TestFailure{
		{FilePath: "a.ts", Line: 10, Message: "also failed here", Type: "assertion"},
		{FilePath: "b.ts", Line: 5, Message: "uncovered", Type: "assertion"},
	}

	report := New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), dir, failures)

	require.Len(t, report.Bugs, 2)
	// The AI-reported bug keeps its own category; only the uncovered
	// failure is synthesized.
	assert.Equal(t, healing.CategoryType, report.Bugs[0].Category)
	assert.Equal(t, healing.SeverityLow, report.Bugs[0].Severity)
	assert.Equal(t, "b.ts", report.Bugs[1].FilePath)
	assert.Equal(t, healing.SeverityHigh, report.Bugs[1].Severity)
}

func TestScan_DeduplicatesWithinReply(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"a.ts": "1\n"})
	client := &fakeClient{replies: []string{
		`[{"category": "LOGIC", "filePath": "a.ts", "line": 3, "message": "first", "severity": "high"},
		  {"category": "RUNTIME", "filePath": "a.ts", "line": 3, "message": "duplicate", "severity": "low"}]`,
	}}

	report := New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), dir, nil)

	require.Len(t, report.Bugs, 1)
	assert.Equal(t, "first", report.Bugs[0].Message)
}

func TestScan_NormalizesModelOutput(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"a.ts": "1\n"})
	client := &fakeClient{replies: []string{
		`[{"category": "syntax", "filePath": "./a.ts", "line": 1, "message": "lowercase category", "severity": "urgent"},
		  {"category": "INVENTED", "filePath": "a.ts", "line": 2, "message": "unknown category", "severity": "HIGH"},
		  {"category": "LOGIC", "filePath": "", "line": 3, "message": "no path", "severity": "high"},
		  {"category": "LOGIC", "filePath": "a.ts", "line": 0, "message": "no line", "severity": "high"}]`,
	}}

	report := New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), dir, nil)

	require.Len(t, report.Bugs, 2)
	assert.Equal(t, healing.CategorySyntax, report.Bugs[0].Category)
	assert.Equal(t, "a.ts", report.Bugs[0].FilePath)
	assert.Equal(t, healing.SeverityMedium, report.Bugs[0].Severity)
	assert.Equal(t, healing.CategoryLogic, report.Bugs[1].Category)
	assert.Equal(t, healing.SeverityHigh, report.Bugs[1].Severity)
}

func TestScan_EmptyWorkspace(t *testing.T) {
	client := &fakeClient{}
	report := New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), t.TempDir(), nil)

	assert.Zero(t, report.FilesScanned)
	assert.Zero(t, report.Batches)
	assert.Empty(t, report.Bugs)
	assert.False(t, report.Degraded)
	assert.Empty(t, client.requests)
}

func TestScan_FailureContextInPrompt(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"a.ts": "1\n"})
	client := &fakeClient{}
	failures := []healing.TestFailure{{FilePath: "a.ts", Line: 1, Message: "boom", Type: "assertion"}}

	New(testScannerConfig(), client, zap.NewNop()).Scan(context.Background(), dir, failures)

	require.Len(t, client.requests, 1)
	prompt := client.requests[0].Prompt
	assert.Contains(t, prompt, "Test failures observed")
	assert.Contains(t, prompt, "- a.ts:1: boom")
}
