package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// Clone stages the remote repository into the session sandbox, clearing any
// stale copy from a prior run. The clone is shallow (configured depth) and
// authenticates with token when one is supplied, falling back to the
// configured token. The configured clone timeout is enforced as a hard
// wall-clock bound.
func (m *Manager) Clone(ctx context.Context, remoteURL, sessionID, token string) (string, error) {
	path := m.WorkspacePath(sessionID)
	if err := os.RemoveAll(path); err != nil {
		return "", &RepositoryError{Op: "clone", Err: fmt.Errorf("clearing stale workspace: %w", err)}
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", &RepositoryError{Op: "clone", Err: err}
	}

	if d := m.cfg.CloneTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if token == "" {
		token = m.cfg.Token.Value()
	}
	_, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:   remoteURL,
		Depth: m.cfg.CloneDepth,
		Tags:  git.NoTags,
		Auth:  authFor(remoteURL, token),
	})
	if err != nil {
		os.RemoveAll(path)
		return "", &RepositoryError{Op: "clone", Err: err}
	}

	m.logger.Info("repository cloned",
		zap.String("session_id", sessionID),
		zap.String("workspace", path))
	return path, nil
}

// CreateBranch checks out the healing branch in the workspace. A branch left
// behind by a prior run of the same session is reused; a branch already
// pushed to the remote is continued from its tip; otherwise the branch is
// created at HEAD.
func (m *Manager) CreateBranch(ctx context.Context, workspacePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return "", &RepositoryError{Op: "branch", Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", &RepositoryError{Op: "branch", Err: err}
	}

	branchRef := plumbing.NewBranchReferenceName(BranchName)
	if _, err := repo.Reference(branchRef, false); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
			return "", &RepositoryError{Op: "branch", Err: err}
		}
		return BranchName, nil
	}

	opts := &git.CheckoutOptions{Branch: branchRef, Create: true}
	if ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", BranchName), true); err == nil {
		opts.Hash = ref.Hash()
	}
	if err := wt.Checkout(opts); err != nil {
		return "", &RepositoryError{Op: "branch", Err: err}
	}
	return BranchName, nil
}

// Commit stages all working-tree changes and commits them. It returns
// ("", nil) when nothing is staged: the fix round produced no diff, which is
// a no-op rather than an error.
func (m *Manager) Commit(ctx context.Context, workspacePath, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return "", &RepositoryError{Op: "commit", Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", &RepositoryError{Op: "commit", Err: err}
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", &RepositoryError{Op: "commit", Err: err}
	}
	status, err := wt.Status()
	if err != nil {
		return "", &RepositoryError{Op: "commit", Err: err}
	}
	if status.IsClean() {
		return "", nil
	}

	sha, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  m.cfg.AuthorName,
			Email: m.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", &RepositoryError{Op: "commit", Err: err}
	}
	return sha.String(), nil
}

// Push force-pushes the branch to origin under the configured push timeout.
// Failures propagate: without a pushed commit the attempt's work is
// unverifiable, so the caller must not report success.
func (m *Manager) Push(ctx context.Context, workspacePath, branch string) error {
	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return &RepositoryError{Op: "push", Err: err}
	}

	if d := m.cfg.PushTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	spec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       authFor(remoteURLOf(repo), m.cfg.Token.Value()),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return &RepositoryError{Op: "push", Err: err}
	}
	return nil
}

// CommitCount reports how many commits are unique to the healing branch
// relative to the remote default branch tip. It is used only for scoring and
// returns 0 on any git error.
func (m *Manager) CommitCount(ctx context.Context, workspacePath, branch string) int {
	if ctx.Err() != nil {
		return 0
	}
	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return 0
	}
	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return 0
	}
	baseHash, ok := defaultBranchTip(repo)
	if !ok {
		return 0
	}
	if baseHash == branchRef.Hash() {
		return 0
	}

	base, err := repo.CommitObject(baseHash)
	if err != nil {
		return 0
	}
	seen := make(map[plumbing.Hash]bool)
	err = object.NewCommitPreorderIter(base, nil, nil).ForEach(func(c *object.Commit) error {
		seen[c.Hash] = true
		return nil
	})
	// A shallow clone grafts parents away; the boundary ends the walk.
	if err != nil && !errors.Is(err, plumbing.ErrObjectNotFound) {
		return 0
	}

	tip, err := repo.CommitObject(branchRef.Hash())
	if err != nil {
		return 0
	}
	count := 0
	err = object.NewCommitPreorderIter(tip, seen, nil).ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil && !errors.Is(err, plumbing.ErrObjectNotFound) {
		return 0
	}
	return count
}

// Cleanup removes the session sandbox. Best effort: failures are logged and
// swallowed.
func (m *Manager) Cleanup(sessionID string) {
	if sessionID == "" {
		return
	}
	path := m.WorkspacePath(sessionID)
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("workspace cleanup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// defaultBranchTip resolves the remote default branch tip, trying
// origin/HEAD first and falling back to the conventional branch names.
func defaultBranchTip(repo *git.Repository) (plumbing.Hash, bool) {
	for _, name := range []plumbing.ReferenceName{
		"refs/remotes/origin/HEAD",
		plumbing.NewRemoteReferenceName("origin", "main"),
		plumbing.NewRemoteReferenceName("origin", "master"),
	} {
		if ref, err := repo.Reference(name, true); err == nil {
			return ref.Hash(), true
		}
	}
	return plumbing.ZeroHash, false
}

// authFor returns basic-auth credentials for http(s) remotes. Local and ssh
// remotes get no auth method; tokens only make sense over http.
func authFor(remoteURL, token string) transport.AuthMethod {
	if token == "" || !strings.HasPrefix(remoteURL, "http") {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

func remoteURLOf(repo *git.Repository) string {
	remote, err := repo.Remote("origin")
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return remote.Config().URLs[0]
}
