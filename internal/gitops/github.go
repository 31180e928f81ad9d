package gitops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/healing"
)

// ErrNoGitHubClient is returned by API operations when the Manager was
// built without a GitHub token.
var ErrNoGitHubClient = errors.New("github client not configured")

// PullRequestInput describes the pull request to open for a finished
// session. ForkOwner is set when the healing branch lives on a fork.
type PullRequestInput struct {
	Owner     string
	Repo      string
	Branch    string
	ForkOwner string
	Score     healing.Score
}

// PullRequestResult reports the outcome of CreatePullRequest. A failed PR
// is a degraded but acceptable outcome, so the error rides in the result
// instead of aborting the session.
type PullRequestResult struct {
	Success bool
	URL     string
	Number  int
	Err     error
}

// Fork creates a fork of owner/repo under the authenticated user and
// returns the fork owner's login. GitHub processes forks asynchronously;
// an accepted-but-pending response counts as success.
func (m *Manager) Fork(ctx context.Context, owner, repo string) (string, error) {
	if m.gh == nil {
		return "", ErrNoGitHubClient
	}

	fork, _, err := m.gh.Repositories.CreateFork(ctx, owner, repo, nil)
	var accepted *github.AcceptedError
	if err != nil && !errors.As(err, &accepted) {
		return "", fmt.Errorf("forking %s/%s: %w", owner, repo, err)
	}
	if login := fork.GetOwner().GetLogin(); login != "" {
		return login, nil
	}

	user, _, err := m.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("resolving fork owner: %w", err)
	}
	return user.GetLogin(), nil
}

// CreatePullRequest opens a pull request for the healing branch against the
// repository's default branch, cross-fork when a fork owner is set. The
// generated description summarizes the session score.
func (m *Manager) CreatePullRequest(ctx context.Context, in PullRequestInput) PullRequestResult {
	if m.gh == nil {
		return PullRequestResult{Err: ErrNoGitHubClient}
	}

	base := "main"
	if repo, _, err := m.gh.Repositories.Get(ctx, in.Owner, in.Repo); err == nil && repo.GetDefaultBranch() != "" {
		base = repo.GetDefaultBranch()
	}

	head := in.Branch
	if in.ForkOwner != "" {
		head = in.ForkOwner + ":" + in.Branch
	}

	title := fmt.Sprintf("Automated fixes: %d/%d bugs resolved", in.Score.BugsFixed, in.Score.TotalBugs)
	body := pullRequestBody(in.Score)
	canModify := true

	pr, _, err := m.gh.PullRequests.Create(ctx, in.Owner, in.Repo, &github.NewPullRequest{
		Title:               &title,
		Head:                &head,
		Base:                &base,
		Body:                &body,
		MaintainerCanModify: &canModify,
	})
	if err != nil {
		return PullRequestResult{Err: fmt.Errorf("creating pull request: %w", err)}
	}

	m.logger.Info("pull request opened",
		zap.String("repo", in.Owner+"/"+in.Repo),
		zap.Int("number", pr.GetNumber()),
		zap.String("url", pr.GetHTMLURL()))
	return PullRequestResult{
		Success: true,
		URL:     pr.GetHTMLURL(),
		Number:  pr.GetNumber(),
	}
}

func pullRequestBody(score healing.Score) string {
	var b strings.Builder
	b.WriteString("## Automated healing summary\n\n")
	fmt.Fprintf(&b, "- Bugs found: %d\n", score.TotalBugs)
	fmt.Fprintf(&b, "- Bugs fixed: %d\n", score.BugsFixed)
	fmt.Fprintf(&b, "- Attempts used: %d\n", score.Attempts)
	fmt.Fprintf(&b, "- Tests passing: %t\n", score.TestsPassed)
	fmt.Fprintf(&b, "- Final score: %d/100\n", score.FinalScore)
	b.WriteString("\nOpened automatically after a healing run. Review the diff before merging.\n")
	return b.String()
}
