// Package gitops carries every version-control side effect of the healing
// loop: staging an isolated workspace per session, branching, committing,
// pushing, and the GitHub API calls for forks and pull requests. Local
// operations run through go-git; nothing here shells out.
package gitops

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fixpointlabs/healerd/internal/config"
)

// BranchName is the deterministic branch every healing session works on.
// Reusing one well-known name keeps session retries idempotent.
const BranchName = "healerd/autofix"

// Manager performs git and GitHub operations for healing sessions. Each
// session gets a sandbox directory named by its ID under the workspace root.
type Manager struct {
	cfg    config.GitConfig
	root   string
	gh     *github.Client
	logger *zap.Logger
}

// New creates a Manager rooted at workspaceRoot. gh may be nil when no
// GitHub token is configured; Fork and CreatePullRequest then fail with a
// configuration error instead of calling the API.
func New(cfg config.GitConfig, workspaceRoot string, gh *github.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, root: workspaceRoot, gh: gh, logger: logger}
}

// NewGitHubClient creates a GitHub API client authenticated with the token.
func NewGitHubClient(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return github.NewClient(oauth2.NewClient(ctx, ts)), nil
}

// WorkspacePath returns the sandbox directory for a session.
func (m *Manager) WorkspacePath(sessionID string) string {
	return filepath.Join(m.root, sessionID)
}
