package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/fixer"
	"github.com/fixpointlabs/healerd/internal/gitops"
	"github.com/fixpointlabs/healerd/internal/inference"
	"github.com/fixpointlabs/healerd/internal/orchestrator"
	"github.com/fixpointlabs/healerd/internal/progress"
	"github.com/fixpointlabs/healerd/internal/scanner"
	"github.com/fixpointlabs/healerd/internal/session"
	"github.com/fixpointlabs/healerd/internal/testrunner"
)

// The target repository staged by the tests: a one-function node project
// whose test script fails until add() actually adds.
const brokenAppJS = `function add(a, b) {
  return a - b;
}

module.exports = { add };
`

const fixedAppJS = `function add(a, b) {
  return a + b;
}

module.exports = { add };
`

const testScript = `#!/bin/sh
if grep -q 'return a + b;' app.js; then
  echo 'ok: add'
  exit 0
fi
echo 'app.js:2: expected add(2, 3) to equal 5, got -1'
exit 1
`

// requireGitTransport skips tests that clone or push through go-git's file
// transport, which shells out to the git pack binaries.
func requireGitTransport(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"git-upload-pack", "git-receive-pack"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not on PATH", bin)
		}
	}
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

// initOriginRepo builds the repository the loop will heal and returns its
// path, which stands in for the remote origin.
func initOriginRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte(brokenAppJS), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.sh"), []byte(testScript), 0o755))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "upstream", Email: "upstream@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

// scriptedClient plays back canned completions in call order. Calls past the
// end of the script get an empty JSON array, which the scanner reads as a
// clean batch and the fixer as an unusable reply.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (c *scriptedClient) Complete(_ context.Context, _ inference.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.replies) == 0 {
		return "[]", nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

// localRepoManager routes every clone to a fixed local origin so sessions
// can carry GitHub-shaped repository URLs while the test stays offline.
type localRepoManager struct {
	*gitops.Manager
	origin string
}

func (m *localRepoManager) Clone(ctx context.Context, _ string, sessionID, token string) (string, error) {
	return m.Manager.Clone(ctx, m.origin, sessionID, token)
}

// healEnv wires a full healing stack against an embedded NATS server: real
// git staging, real test execution, real scanner and fixer, with only the
// inference endpoint scripted.
type healEnv struct {
	svc   *orchestrator.Service
	store session.Store
	bus   *progress.Bus
	repos *localRepoManager
}

func newHealEnv(t *testing.T, origin string, llm inference.Client, maxAttempts int) *healEnv {
	t.Helper()

	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	bus := progress.New(nc, 250*time.Millisecond, nil)
	store := session.NewMemoryStore()

	gitCfg := config.GitConfig{
		CloneTimeout: config.Duration(30 * time.Second),
		PushTimeout:  config.Duration(30 * time.Second),
		AuthorName:   "healerd",
		AuthorEmail:  "healerd@localhost",
	}
	repos := &localRepoManager{
		Manager: gitops.New(gitCfg, t.TempDir(), nil, zap.NewNop()),
		origin:  origin,
	}

	runner := testrunner.New(config.TestRunnerConfig{
		Command: "sh test.sh",
		Timeout: config.Duration(30 * time.Second),
	}, nil, nil, zap.NewNop())

	bugScanner := scanner.New(config.ScannerConfig{
		MaxFiles:     50,
		MaxFileBytes: 64 * 1024,
		BatchSize:    4,
		Extensions:   []string{".js"},
		SkipDirs:     []string{".git", "node_modules"},
	}, llm, zap.NewNop())

	fixEngineer := fixer.New(config.FixerConfig{}, llm, zap.NewNop())

	svc, err := orchestrator.New(orchestrator.Config{MaxAttempts: maxAttempts},
		store, repos, runner, bugScanner, fixEngineer, bus, nil, zap.NewNop())
	require.NoError(t, err)

	return &healEnv{svc: svc, store: store, bus: bus, repos: repos}
}

// collectEvents drains the subscription until done matches an envelope or
// the deadline passes. Delivery is asynchronous, so the caller names the
// envelope that ends the stream rather than counting on Heal having
// returned.
func collectEvents(t *testing.T, sub *progress.Subscription, done func(progress.Envelope) bool) []progress.Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var events []progress.Envelope
	for {
		select {
		case env := <-sub.C:
			events = append(events, env)
			if done(env) {
				return events
			}
		case <-deadline:
			t.Fatalf("event stream incomplete after 5s: got %d events", len(events))
			return nil
		}
	}
}

func eventTypes(events []progress.Envelope) []string {
	types := make([]string, len(events))
	for i, env := range events {
		types[i] = env.Type
	}
	return types
}
