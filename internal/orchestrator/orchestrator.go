// Package orchestrator drives the healing loop: the attempt-bounded state
// machine that stages a repository, alternates test runs with AI bug
// discovery and AI fixes, pushes verified work, scores the run, and opens a
// pull request. It owns each session's lifecycle end to end and is the only
// writer of its persisted record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/fixer"
	"github.com/fixpointlabs/healerd/internal/gitops"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/ledger"
	"github.com/fixpointlabs/healerd/internal/progress"
	"github.com/fixpointlabs/healerd/internal/scanner"
	"github.com/fixpointlabs/healerd/internal/session"
	"github.com/fixpointlabs/healerd/internal/testrunner"
)

const instrumentationName = "github.com/fixpointlabs/healerd/internal/orchestrator"

const maxAttemptsLimit = 10

// ErrRepoURLRequired is returned by Start for a blank repository URL. The
// HTTP layer maps it to a 400.
var ErrRepoURLRequired = errors.New("repository URL is required")

// RepoManager stages the session workspace and publishes its results.
type RepoManager interface {
	Clone(ctx context.Context, remoteURL, sessionID, token string) (string, error)
	CreateBranch(ctx context.Context, workspacePath string) (string, error)
	Commit(ctx context.Context, workspacePath, message string) (string, error)
	Push(ctx context.Context, workspacePath, branch string) error
	CommitCount(ctx context.Context, workspacePath, branch string) int
	Cleanup(sessionID string)
	Fork(ctx context.Context, owner, repo string) (string, error)
	CreatePullRequest(ctx context.Context, in gitops.PullRequestInput) gitops.PullRequestResult
}

// TestRunner executes the target repository's tests.
type TestRunner interface {
	Run(ctx context.Context, workspacePath string) (*testrunner.Result, error)
}

// BugScanner discovers bugs in the workspace.
type BugScanner interface {
	Scan(ctx context.Context, workspacePath string, failures []healing.TestFailure) scanner.Report
}

// FixEngineer rewrites files to resolve bugs.
type FixEngineer interface {
	Fix(ctx context.Context, workspacePath string, bugs []healing.Bug, testOutput string) fixer.Result
}

// ProgressBus broadcasts session events to observers.
type ProgressBus interface {
	Open(sessionID string)
	Publish(sessionID string, event progress.Event)
	Teardown(sessionID string)
}

// Config holds the loop policy.
type Config struct {
	// MaxAttempts bounds the test→scan→fix→push loop. Zero selects the
	// default of 5; values above 10 are rejected.
	MaxAttempts int

	// Fork makes sessions work from a fork of the target repository
	// instead of pushing branches to it directly.
	Fork bool
}

// Service coordinates healing sessions.
type Service struct {
	cfg     Config
	store   session.Store
	repos   RepoManager
	runner  TestRunner
	scanner BugScanner
	fixer   FixEngineer
	bus     ProgressBus
	ledger  ledger.Recorder
	logger  *zap.Logger
	tracer  trace.Tracer

	// cloneTokens holds per-request access tokens between Start and Heal.
	// Tokens are never persisted; they live here only until the loop
	// consumes them.
	cloneTokens sync.Map
}

// New creates the orchestrator. The ledger recorder and logger are optional;
// every other collaborator is required.
func New(cfg Config, store session.Store, repos RepoManager, runner TestRunner,
	bugScanner BugScanner, fixEngineer FixEngineer, bus ProgressBus,
	recorder ledger.Recorder, logger *zap.Logger) (*Service, error) {

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > maxAttemptsLimit {
		return nil, fmt.Errorf("max attempts must be between 1 and %d, got %d", maxAttemptsLimit, cfg.MaxAttempts)
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if repos == nil {
		return nil, errors.New("repo manager is required")
	}
	if runner == nil {
		return nil, errors.New("test runner is required")
	}
	if bugScanner == nil {
		return nil, errors.New("bug scanner is required")
	}
	if fixEngineer == nil {
		return nil, errors.New("fix engineer is required")
	}
	if bus == nil {
		return nil, errors.New("progress bus is required")
	}
	if recorder == nil {
		recorder = ledger.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		cfg:     cfg,
		store:   store,
		repos:   repos,
		runner:  runner,
		scanner: bugScanner,
		fixer:   fixEngineer,
		bus:     bus,
		ledger:  recorder,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}, nil
}

// StartRequest describes a new healing session. Token, when set, overrides
// the daemon-wide git token for this session's clone and push operations.
type StartRequest struct {
	RepoURL string
	UserID  string
	Token   string
}

// Start creates and persists a queued session and returns immediately. The
// caller runs Heal on its own goroutine to execute the loop.
func (s *Service) Start(ctx context.Context, req StartRequest) (*healing.Session, error) {
	if strings.TrimSpace(req.RepoURL) == "" {
		return nil, ErrRepoURLRequired
	}

	sess := healing.NewSession(req.RepoURL, req.UserID, s.cfg.MaxAttempts)
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if req.Token != "" {
		s.cloneTokens.Store(sess.ID, req.Token)
	}

	sessionsStarted.Inc()
	s.logger.Info("session queued",
		zap.String("session_id", sess.ID),
		zap.String("repo_url", req.RepoURL))
	return sess, nil
}

// Get returns the current session record.
func (s *Service) Get(ctx context.Context, id string) (*healing.Session, error) {
	return s.store.Get(ctx, id)
}

// List returns sessions matching the filter, newest first.
func (s *Service) List(ctx context.Context, f session.Filter) ([]*healing.Session, error) {
	return s.store.List(ctx, f)
}
