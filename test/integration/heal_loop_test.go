package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpointlabs/healerd/internal/gitops"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/orchestrator"
	"github.com/fixpointlabs/healerd/internal/progress"
)

// Scripted inference replies. The scanner reply carries the bug report the
// model would produce for app.js; the fix replies rewrite the whole file, one
// correctly and one with a rewrite that still fails the test script.
const scanReply = "Here are the bugs I found:\n\n" +
	`[{"category": "LOGIC", "filePath": "app.js", "line": 2, "message": "add() subtracts its operands instead of adding them", "severity": "high"}]`

const fixReply = "The function subtracts instead of adding. Corrected file:\n\n" +
	"```javascript\n" + fixedAppJS + "```\n"

const badFixReply = "Corrected file:\n\n" +
	"```javascript\nfunction add(a, b) {\n  return a * b;\n}\n\nmodule.exports = { add };\n```\n"

// TestHealLoop_EndToEnd validates a complete healing run:
// 1. Queue a session and subscribe to its progress stream
// 2. Stage the broken repository on the healing branch
// 3. First test run fails, the scanner files the bug, the fixer rewrites add()
// 4. The fix commit is pushed and the second test run passes
// 5. The session completes with a score and the origin carries the fix
func TestHealLoop_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	requireGitTransport(t)

	ctx := context.Background()

	origin := initOriginRepo(t)
	llm := &scriptedClient{replies: []string{scanReply, fixReply}}
	env := newHealEnv(t, origin, llm, 5)

	// ═══════════════════════════════════════════════════════════════
	// Phase 1: Queue the session and attach an observer
	// ═══════════════════════════════════════════════════════════════

	sess, err := env.svc.Start(ctx, orchestrator.StartRequest{RepoURL: "acme/widgets", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, healing.StatusQueued, sess.Status)

	sub, err := env.bus.Subscribe(sess.ID)
	require.NoError(t, err)
	defer sub.Close()
	t.Logf("✅ Phase 1: Session queued - %s", sess.ID)

	// ═══════════════════════════════════════════════════════════════
	// Phase 2: Run the loop to a terminal state
	// ═══════════════════════════════════════════════════════════════

	env.svc.Heal(ctx, sess.ID)

	cur, err := env.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, healing.StatusCompleted, cur.Status)
	assert.Equal(t, 2, cur.CurrentAttempt)
	assert.Empty(t, cur.Error)
	require.NotNil(t, cur.StartedAt)
	require.NotNil(t, cur.CompletedAt)
	assert.Equal(t, 2, llm.calls, "one scan batch and one file fix")
	t.Logf("✅ Phase 2: Healing completed on attempt %d", cur.CurrentAttempt)

	// ═══════════════════════════════════════════════════════════════
	// Phase 3: Bug record and attempt history
	// ═══════════════════════════════════════════════════════════════

	require.Len(t, cur.Bugs, 1, "test failure and scan finding should collapse into one bug")
	bug := cur.Bugs[0]
	assert.Equal(t, "app.js", bug.FilePath)
	assert.Equal(t, 2, bug.Line)
	assert.Equal(t, healing.CategoryLogic, bug.Category)
	assert.True(t, bug.Fixed)
	require.NotNil(t, bug.FixedAtAttempt)
	assert.Equal(t, 1, *bug.FixedAtAttempt)

	require.Len(t, cur.Attempts, 2)
	assert.Equal(t, healing.AttemptFailed, cur.Attempts[0].Status)
	assert.Equal(t, 1, cur.Attempts[0].BugsFound)
	assert.Equal(t, 1, cur.Attempts[0].BugsFixed)
	assert.NotEmpty(t, cur.Attempts[0].CommitSHA)
	assert.Contains(t, cur.Attempts[0].CommitMessage, "attempt 1")
	assert.Equal(t, healing.AttemptPassed, cur.Attempts[1].Status)
	t.Logf("✅ Phase 3: Bug fixed on attempt %d", *bug.FixedAtAttempt)

	// ═══════════════════════════════════════════════════════════════
	// Phase 4: Score
	// ═══════════════════════════════════════════════════════════════

	require.NotNil(t, cur.Score)
	assert.Equal(t, 1, cur.Score.TotalBugs)
	assert.Equal(t, 1, cur.Score.BugsFixed)
	assert.True(t, cur.Score.TestsPassed)
	assert.Equal(t, 2, cur.Score.Attempts)
	assert.Equal(t, 1, cur.Score.TotalCommits)
	assert.Equal(t, 10, cur.Score.SpeedBonus)
	assert.Equal(t, 0, cur.Score.CommitPenalty)
	assert.Equal(t, 100, cur.Score.FinalScore)
	assert.Empty(t, cur.PRURL, "no GitHub client wired, so no pull request")
	t.Logf("✅ Phase 4: Final score %d", cur.Score.FinalScore)

	// ═══════════════════════════════════════════════════════════════
	// Phase 5: The origin carries the healed branch
	// ═══════════════════════════════════════════════════════════════

	originRepo, err := git.PlainOpen(origin)
	require.NoError(t, err)
	ref, err := originRepo.Reference(plumbing.NewBranchReferenceName(gitops.BranchName), true)
	require.NoError(t, err, "healing branch should be pushed to origin")
	commit, err := originRepo.CommitObject(ref.Hash())
	require.NoError(t, err)
	assert.Contains(t, commit.Message, "healerd: apply automated fixes (attempt 1)")

	file, err := commit.File("app.js")
	require.NoError(t, err)
	contents, err := file.Contents()
	require.NoError(t, err)
	assert.Equal(t, fixedAppJS, contents)

	assert.NoDirExists(t, env.repos.WorkspacePath(sess.ID), "workspace should be cleaned up")
	t.Logf("✅ Phase 5: Fix pushed to origin branch %s", gitops.BranchName)

	// ═══════════════════════════════════════════════════════════════
	// Phase 6: The progress stream replays the whole run in order
	// ═══════════════════════════════════════════════════════════════

	events := collectEvents(t, sub, func(e progress.Envelope) bool { return e.Type == progress.EventScore })
	assert.Equal(t, []string{
		progress.EventStatus, // cloning
		progress.EventStatus, // testing, attempt 1
		progress.EventTestResult,
		progress.EventStatus, // scanning
		progress.EventBugFound,
		progress.EventStatus, // fixing
		progress.EventFixApplied,
		progress.EventStatus, // pushing
		progress.EventAttemptComplete,
		progress.EventStatus, // testing, attempt 2
		progress.EventTestResult,
		progress.EventStatus, // completed
		progress.EventScore,
	}, eventTypes(events))

	var terminal struct {
		Status  string `json:"status"`
		Attempt int    `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(events[len(events)-2].Data, &terminal))
	assert.Equal(t, "completed", terminal.Status)
	assert.Equal(t, 2, terminal.Attempt)

	t.Logf("✅ E2E Healing Complete: clone → test → scan → fix → push → test → score")
}

// TestHealLoop_AttemptBudgetExhausted runs a session whose only fix round
// rewrites the file without actually fixing it. The budget runs out, the
// final verification run fails, and the session fails but is still scored.
func TestHealLoop_AttemptBudgetExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	requireGitTransport(t)

	ctx := context.Background()

	origin := initOriginRepo(t)
	llm := &scriptedClient{replies: []string{scanReply, badFixReply}}
	env := newHealEnv(t, origin, llm, 1)

	sess, err := env.svc.Start(ctx, orchestrator.StartRequest{RepoURL: "acme/widgets"})
	require.NoError(t, err)
	sub, err := env.bus.Subscribe(sess.ID)
	require.NoError(t, err)
	defer sub.Close()

	env.svc.Heal(ctx, sess.ID)

	cur, err := env.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, healing.StatusFailed, cur.Status)
	assert.Equal(t, 1, cur.CurrentAttempt)
	assert.Empty(t, cur.Error, "an exhausted budget is a failed session, not an errored one")

	require.Len(t, cur.Attempts, 1)
	assert.Equal(t, healing.AttemptFailed, cur.Attempts[0].Status)

	// The rewrite was applied, so the bug counts as fixed even though the
	// tests never came home.
	require.Len(t, cur.Bugs, 1)
	assert.True(t, cur.Bugs[0].Fixed)

	require.NotNil(t, cur.Score)
	assert.False(t, cur.Score.TestsPassed)
	assert.Equal(t, 1, cur.Score.Attempts)
	assert.Equal(t, 80, cur.Score.FinalScore, "fix ratio 60 + single-attempt 10 + speed 10")

	events := collectEvents(t, sub, func(e progress.Envelope) bool { return e.Type == progress.EventScore })
	types := eventTypes(events)
	assert.Contains(t, types, progress.EventAttemptComplete)
	assert.Equal(t, progress.EventScore, types[len(types)-1])

	t.Logf("✅ Budget exhausted: session failed with score %d", cur.Score.FinalScore)
}

// TestHealLoop_CloneFailure points the session at an origin that does not
// exist and verifies the loop records the failure on the session instead of
// stranding it mid-state.
func TestHealLoop_CloneFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	ctx := context.Background()

	llm := &scriptedClient{}
	env := newHealEnv(t, filepath.Join(t.TempDir(), "missing"), llm, 5)

	sess, err := env.svc.Start(ctx, orchestrator.StartRequest{RepoURL: "acme/widgets"})
	require.NoError(t, err)
	sub, err := env.bus.Subscribe(sess.ID)
	require.NoError(t, err)
	defer sub.Close()

	env.svc.Heal(ctx, sess.ID)

	cur, err := env.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, healing.StatusFailed, cur.Status)
	assert.Contains(t, cur.Error, "git clone")
	assert.Nil(t, cur.Score)
	require.NotNil(t, cur.CompletedAt)
	assert.Zero(t, llm.calls, "no inference before the workspace is staged")

	events := collectEvents(t, sub, func(e progress.Envelope) bool { return e.Type == progress.EventError })
	assert.Equal(t, []string{progress.EventStatus, progress.EventError}, eventTypes(events))

	t.Logf("✅ Clone failure recorded: %s", cur.Error)
}
