package testrunner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpointlabs/healerd/internal/config"
)

// fakeRunner scripts subprocess behavior.
type fakeRunner struct {
	output  []byte
	err     error
	waitCtx bool // block until the context is done before returning

	gotCmd Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	f.gotCmd = cmd
	if f.waitCtx {
		<-ctx.Done()
		return f.output, ctx.Err()
	}
	return f.output, f.err
}

// realExitError produces a genuine *exec.ExitError for fakes to return.
func realExitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit 1").Run()
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	return err
}

func testConfig() config.TestRunnerConfig {
	return config.TestRunnerConfig{
		Command:     "true",
		Timeout:     config.Duration(5 * time.Second),
		OutputLimit: 10 * 1024,
	}
}

func TestRunner_PassingRun(t *testing.T) {
	fake := &fakeRunner{output: []byte("ok  \texample.com/calc\t0.01s\n")}
	r := New(testConfig(), fake, nil, nil)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Contains(t, result.Output, "ok")
	assert.Empty(t, result.Failures)
	assert.Equal(t, "true", result.Command)
}

func TestRunner_FailingRun(t *testing.T) {
	out := "--- FAIL: TestAdd\n    calc_test.go:12: expected 4, got 5\nFAIL\n"
	fake := &fakeRunner{output: []byte(out), err: realExitError(t)}
	r := New(testConfig(), fake, nil, nil)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err, "non-zero exit is a result, not an error")

	assert.False(t, result.Passed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "calc_test.go", result.Failures[0].FilePath)
	assert.Equal(t, 12, result.Failures[0].Line)
	assert.Equal(t, "expected 4, got 5", result.Failures[0].Message)
}

func TestRunner_SetsNonInteractiveEnv(t *testing.T) {
	fake := &fakeRunner{output: []byte("ok\n")}
	r := New(testConfig(), fake, nil, nil)

	ws := t.TempDir()
	_, err := r.Run(context.Background(), ws)
	require.NoError(t, err)

	assert.Equal(t, ws, fake.gotCmd.Dir)
	assert.Contains(t, fake.gotCmd.Env, "CI=true")
	assert.Contains(t, fake.gotCmd.Env, "GIT_TERMINAL_PROMPT=0")
}

func TestRunner_MissingWorkspace(t *testing.T) {
	r := New(testConfig(), &fakeRunner{}, nil, nil)

	_, err := r.Run(context.Background(), "/definitely/not/a/dir")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace not usable")
}

func TestRunner_NoTestCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Command = ""
	r := New(cfg, &fakeRunner{}, nil, nil)

	_, err := r.Run(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrNoTestCommand)
}

func TestRunner_StartFailureIsError(t *testing.T) {
	fake := &fakeRunner{err: errors.New(`exec: "npm": executable file not found`)}
	r := New(testConfig(), fake, nil, nil)

	_, err := r.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run")
}

func TestRunner_TimeoutWithOutput(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = config.Duration(50 * time.Millisecond)
	fake := &fakeRunner{output: []byte("partial output before hang\n"), waitCtx: true}
	r := New(cfg, fake, nil, nil)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Contains(t, result.Output, "partial output")
	assert.Contains(t, result.Output, "timed out")
}

func TestRunner_TimeoutWithoutOutput(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = config.Duration(50 * time.Millisecond)
	fake := &fakeRunner{waitCtx: true}
	r := New(cfg, fake, nil, nil)

	_, err := r.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunner_OutputCapped(t *testing.T) {
	cfg := testConfig()
	cfg.OutputLimit = 1024
	big := strings.Repeat("x", 16*1024) + "\nFAIL tail marker\n"
	fake := &fakeRunner{output: []byte(big), err: realExitError(t)}
	r := New(cfg, fake, nil, nil)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Less(t, len(result.Output), 2048)
	assert.Contains(t, result.Output, "[output truncated]")
	assert.Contains(t, result.Output, "tail marker", "tail of output must survive capping")
}

func TestRunner_CommandOverrideSplitsFields(t *testing.T) {
	cfg := testConfig()
	cfg.Command = "npm run test:ci --silent"
	fake := &fakeRunner{output: []byte("ok\n")}
	r := New(cfg, fake, nil, nil)

	_, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "npm", fake.gotCmd.Name)
	assert.Equal(t, []string{"run", "test:ci", "--silent"}, fake.gotCmd.Args)
}

func TestExecCommandRunner(t *testing.T) {
	out, err := ExecCommandRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = ExecCommandRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "exit 7"},
	})
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
}
