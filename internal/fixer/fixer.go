// Package fixer rewrites files to resolve reported bugs. For each affected
// file it asks the inference endpoint for a complete corrected replacement,
// validates the reply, and overwrites the file in place. Every bug gets an
// explicit applied/not-applied outcome; nothing here raises an error to the
// orchestrator, because a fix that cannot be applied is a normal result.
package fixer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/inference"
)

// Outcome reports one bug's fix attempt. Applied outcomes carry a generated
// description; failed ones carry the reason the fix was not applied.
type Outcome struct {
	Bug         healing.Bug
	Applied     bool
	Description string
	Reason      string
}

// Result aggregates a fix round.
type Result struct {
	Outcomes     []Outcome
	FilesChanged int
	BugsFixed    int
}

// Fixer is the fix engineer.
type Fixer struct {
	cfg    config.FixerConfig
	llm    inference.Client
	logger *zap.Logger
}

// New creates a Fixer. The logger may be nil.
func New(cfg config.FixerConfig, llm inference.Client, logger *zap.Logger) *Fixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fixer{cfg: cfg, llm: llm, logger: logger}
}

// Fix groups the bugs by file and rewrites each affected file sequentially,
// pausing between files to respect endpoint rate limits. testOutput, when
// non-empty, is included in prompts as failure context.
func (f *Fixer) Fix(ctx context.Context, workspacePath string, bugs []healing.Bug, testOutput string) Result {
	var result Result

	byFile := make(map[string][]healing.Bug)
	for _, b := range bugs {
		byFile[b.FilePath] = append(byFile[b.FilePath], b)
	}
	paths := make([]string, 0, len(byFile))
	for path := range byFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for i, path := range paths {
		if i > 0 && f.cfg.InterFileDelay.Duration() > 0 {
			select {
			case <-time.After(f.cfg.InterFileDelay.Duration()):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			for _, p := range paths[i:] {
				result.Outcomes = append(result.Outcomes, failOutcomes(byFile[p], "fix run canceled")...)
			}
			break
		}

		outcomes, changed := f.fixFile(ctx, workspacePath, path, byFile[path], testOutput)
		result.Outcomes = append(result.Outcomes, outcomes...)
		if changed {
			result.FilesChanged++
		}
	}

	for _, o := range result.Outcomes {
		if o.Applied {
			result.BugsFixed++
		}
	}
	return result
}

// fixFile runs the per-file protocol: read, prompt, validate, overwrite.
func (f *Fixer) fixFile(ctx context.Context, workspacePath, path string, bugs []healing.Bug, testOutput string) ([]Outcome, bool) {
	fullPath, ok := resolvePath(workspacePath, path)
	if !ok {
		return failOutcomes(bugs, "path escapes workspace"), false
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return failOutcomes(bugs, "file not found"), false
	}
	original, err := os.ReadFile(fullPath)
	if err != nil {
		return failOutcomes(bugs, "file not readable"), false
	}

	reply, err := f.llm.Complete(ctx, inference.Request{
		System: fixSystemPrompt,
		Prompt: filePrompt(path, string(original), bugs, testOutput),
	})
	if err != nil {
		f.logger.Warn("fix inference failed",
			zap.String("file", path),
			zap.Error(err))
		return failOutcomes(bugs, "inference failed"), false
	}

	fixed, err := inference.ExtractCodeBlock(reply)
	if err != nil {
		return failOutcomes(bugs, "model reply contained no code block"), false
	}
	if strings.TrimSpace(fixed) == strings.TrimSpace(string(original)) {
		return failOutcomes(bugs, "model returned the file unchanged"), false
	}

	if !strings.HasSuffix(fixed, "\n") {
		fixed += "\n"
	}
	if err := os.WriteFile(fullPath, []byte(fixed), info.Mode().Perm()); err != nil {
		return failOutcomes(bugs, "file not writable"), false
	}

	f.logger.Info("file rewritten",
		zap.String("file", path),
		zap.Int("bugs", len(bugs)))

	outcomes := make([]Outcome, 0, len(bugs))
	for _, b := range bugs {
		outcomes = append(outcomes, Outcome{
			Bug:         b,
			Applied:     true,
			Description: appliedDescription(b),
		})
	}
	return outcomes, true
}

func appliedDescription(b healing.Bug) string {
	return fmt.Sprintf("Fixed %s error at line %d", b.Category, b.Line)
}

func failOutcomes(bugs []healing.Bug, reason string) []Outcome {
	outcomes := make([]Outcome, 0, len(bugs))
	for _, b := range bugs {
		outcomes = append(outcomes, Outcome{Bug: b, Reason: reason})
	}
	return outcomes
}

// resolvePath joins a workspace-relative path and rejects anything that
// escapes the workspace root.
func resolvePath(workspacePath, rel string) (string, bool) {
	path := filepath.Join(workspacePath, filepath.FromSlash(rel))
	root := filepath.Clean(workspacePath) + string(filepath.Separator)
	if !strings.HasPrefix(path, root) {
		return "", false
	}
	return path, true
}
