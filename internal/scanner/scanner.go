// Package scanner discovers bug candidates in a staged workspace. It walks
// the source tree under strict size caps, asks the inference endpoint to
// review files in batches, and reconciles the model's findings with concrete
// test failures so every failing location is represented. The scanner
// degrades instead of failing: a dead endpoint yields test-derived bugs
// only, never an error.
package scanner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/inference"
)

// Report is the outcome of one scan. Degraded marks that at least one batch
// was lost to an inference or parse failure.
type Report struct {
	Bugs         []healing.Bug
	FilesScanned int
	Batches      int
	Degraded     bool
}

// Scanner finds bug candidates for the current repository state.
type Scanner struct {
	cfg    config.ScannerConfig
	llm    inference.Client
	logger *zap.Logger

	extensions map[string]struct{}
	skipDirs   map[string]struct{}
}

// New creates a Scanner. The logger may be nil.
func New(cfg config.ScannerConfig, llm inference.Client, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	extensions := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extensions[ext] = struct{}{}
	}
	skipDirs := make(map[string]struct{}, len(cfg.SkipDirs))
	for _, dir := range cfg.SkipDirs {
		skipDirs[dir] = struct{}{}
	}

	return &Scanner{
		cfg:        cfg,
		llm:        llm,
		logger:     logger,
		extensions: extensions,
		skipDirs:   skipDirs,
	}
}

// Scan walks the workspace, batches discovered files through the inference
// endpoint, and returns a deduplicated bug report. Test failures supplied by
// the caller are folded in: any failing location the model missed is
// synthesized as a high-severity bug. Scan never fails; total inference
// failure degrades to test-derived bugs only.
func (s *Scanner) Scan(ctx context.Context, workspacePath string, failures []healing.TestFailure) Report {
	var report Report

	files := s.discoverFiles(workspacePath)
	report.FilesScanned = len(files)

	seen := make(map[healing.BugKey]struct{})
	for start := 0; start < len(files); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			report.Degraded = true
			break
		}
		end := min(start+s.cfg.BatchSize, len(files))
		batch := files[start:end]
		report.Batches++

		reply, err := s.llm.Complete(ctx, inference.Request{
			System: scanSystemPrompt,
			Prompt: batchPrompt(batch, failures),
		})
		if err != nil {
			s.logger.Warn("scan batch failed",
				zap.Int("batch", report.Batches),
				zap.Error(err))
			report.Degraded = true
			continue
		}

		raw, err := parseBugs(reply)
		if err != nil {
			s.logger.Warn("scan batch reply unparseable",
				zap.Int("batch", report.Batches),
				zap.Error(err))
			report.Degraded = true
			continue
		}

		for _, rb := range raw {
			bug, ok := normalizeBug(rb)
			if !ok {
				continue
			}
			if _, dup := seen[bug.Key()]; dup {
				continue
			}
			seen[bug.Key()] = struct{}{}
			report.Bugs = append(report.Bugs, bug)
		}
	}

	// Every concrete test failure is represented even when the model scan
	// missed it entirely.
	for _, f := range failures {
		key := healing.BugKey{FilePath: f.FilePath, Line: f.Line}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		report.Bugs = append(report.Bugs, healing.Bug{
			ID:       uuid.New().String(),
			Category: categoryForFailure(f.Type),
			FilePath: f.FilePath,
			Line:     f.Line,
			Message:  failureMessage(f),
			Severity: healing.SeverityHigh,
		})
	}

	return report
}

func categoryForFailure(failureType string) healing.Category {
	if failureType == "assertion" {
		return healing.CategoryLogic
	}
	return healing.CategoryRuntime
}

func failureMessage(f healing.TestFailure) string {
	if f.Message != "" {
		return f.Message
	}
	return fmt.Sprintf("test failure at %s:%d", f.FilePath, f.Line)
}
