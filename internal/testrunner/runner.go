// Package testrunner executes a workspace's test suite and parses failures
// into structured locations.
//
// Subprocess execution sits behind the CommandRunner interface so the loop
// can be tested without spawning real toolchains. A non-zero exit status is a
// failing test run, not an error; errors are reserved for workspaces that
// cannot be tested at all.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/redact"
)

// ErrNoTestCommand indicates no test command could be detected for the
// workspace and none was configured.
var ErrNoTestCommand = errors.New("no test command detected")

// Command is a single subprocess invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// String renders the invocation for logs and attempt records.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandRunner executes commands. Implementations return combined
// stdout/stderr output.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecCommandRunner runs commands via os/exec.
type ExecCommandRunner struct{}

func (r ExecCommandRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	command := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Dir != "" {
		command.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		command.Env = append(os.Environ(), cmd.Env...)
	}
	return command.CombinedOutput()
}

// Result is the outcome of one test run.
type Result struct {
	Passed   bool
	Output   string
	Command  string
	Duration time.Duration
	Failures []healing.TestFailure
}

// Runner detects and executes the workspace test command.
type Runner struct {
	cfg      config.TestRunnerConfig
	runner   CommandRunner
	scrubber *redact.Scrubber
	logger   *zap.Logger
}

// New creates a Runner. runner may be nil, in which case subprocesses are
// executed directly; scrubber may be nil to skip output redaction.
func New(cfg config.TestRunnerConfig, runner CommandRunner, scrubber *redact.Scrubber, logger *zap.Logger) *Runner {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		runner:   runner,
		scrubber: scrubber,
		logger:   logger,
	}
}

// Run executes the workspace's test suite.
//
// The command comes from config when set, otherwise from marker-file
// detection. Output is capped and redacted before it is returned, so callers
// can embed it in events, prompts, and persisted attempts as-is.
func (r *Runner) Run(ctx context.Context, workspacePath string) (*Result, error) {
	info, err := os.Stat(workspacePath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace not usable: %s", workspacePath)
	}

	cmd, err := r.resolveCommand(workspacePath)
	if err != nil {
		return nil, err
	}
	cmd.Dir = workspacePath
	cmd.Env = []string{
		"CI=true",
		"GIT_TERMINAL_PROMPT=0",
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Timeout.Duration() > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout.Duration())
		defer cancel()
	}

	r.logger.Debug("running tests",
		zap.String("command", cmd.String()),
		zap.String("workspace", workspacePath),
	)

	start := time.Now()
	output, runErr := r.runner.Run(runCtx, cmd)
	duration := time.Since(start)

	text := r.prepareOutput(string(output))

	if runErr != nil {
		timedOut := runCtx.Err() == context.DeadlineExceeded
		if timedOut && len(output) == 0 {
			return nil, fmt.Errorf("test run timed out after %s with no output", r.cfg.Timeout.Duration())
		}
		if timedOut {
			text += fmt.Sprintf("\n[test run timed out after %s]", r.cfg.Timeout.Duration())
		}

		var exitErr *exec.ExitError
		if !timedOut && !errors.As(runErr, &exitErr) {
			// Command could not be started at all (binary missing etc).
			return nil, fmt.Errorf("test command failed to run: %w", runErr)
		}

		return &Result{
			Passed:   false,
			Output:   text,
			Command:  cmd.String(),
			Duration: duration,
			Failures: ParseFailures(text),
		}, nil
	}

	return &Result{
		Passed:   true,
		Output:   text,
		Command:  cmd.String(),
		Duration: duration,
	}, nil
}

// resolveCommand picks the configured override or falls back to detection.
func (r *Runner) resolveCommand(workspacePath string) (Command, error) {
	if r.cfg.Command != "" {
		fields := strings.Fields(r.cfg.Command)
		return Command{Name: fields[0], Args: fields[1:]}, nil
	}

	cmd, ok := DetectCommand(workspacePath)
	if !ok {
		return Command{}, ErrNoTestCommand
	}
	return cmd, nil
}

// prepareOutput caps and redacts raw test output.
func (r *Runner) prepareOutput(output string) string {
	if limit := r.cfg.OutputLimit; limit > 0 && len(output) > limit {
		// Failures usually print near the end; keep head and tail.
		head := limit / 2
		tail := limit - head
		output = output[:head] + "\n... [output truncated] ...\n" + output[len(output)-tail:]
	}
	if r.scrubber != nil {
		output = r.scrubber.Scrub(output)
	}
	return output
}
