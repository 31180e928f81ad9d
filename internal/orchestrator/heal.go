package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/gitops"
	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/ledger"
	"github.com/fixpointlabs/healerd/internal/progress"
)

const commitMessagePrefix = "healerd: apply automated fixes"

// Heal drives one queued session through the healing loop to a terminal
// status. It owns the top-level error boundary: any error escaping the loop
// is recorded on the session, which is marked failed. The workspace is
// always cleaned and progress teardown scheduled on the way out. It is
// designed to run on its own goroutine and therefore returns nothing.
func (s *Service) Heal(ctx context.Context, sessionID string) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.heal",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	var token string
	if v, ok := s.cloneTokens.LoadAndDelete(sessionID); ok {
		token = v.(string)
	}

	queued, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.logger.Error("healing aborted: session not loadable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	if queued.Status != healing.StatusQueued {
		s.logger.Warn("healing skipped: session already started",
			zap.String("session_id", sessionID),
			zap.String("status", string(queued.Status)))
		return
	}

	logger := s.logger.With(zap.String("session_id", sessionID))
	span.SetAttributes(attribute.String("repo.url", queued.RepoURL))

	s.bus.Open(sessionID)
	defer s.bus.Teardown(sessionID)
	defer s.repos.Cleanup(sessionID)

	if err := s.runLoop(ctx, queued, token, logger); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.failSession(ctx, sessionID, err, logger)
	}
}

// runLoop converts loop panics into errors so a misbehaving collaborator
// cannot kill the daemon or strand a session mid-state.
func (s *Service) runLoop(ctx context.Context, queued *healing.Session, token string, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("healing loop panicked: %v", r)
		}
	}()
	return s.heal(ctx, queued, token, logger)
}

// heal runs the loop. Returning an error means the session could not reach
// a terminal state on its own; the caller's boundary records it and fails
// the session.
func (s *Service) heal(ctx context.Context, queued *healing.Session, token string, logger *zap.Logger) error {
	sessionID := queued.ID
	startedAt := time.Now()

	if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
		ss.StartedAt = &startedAt
		return nil
	}); err != nil {
		return fmt.Errorf("marking session started: %w", err)
	}

	owner, repo, err := gitops.ParseRepoURL(queued.RepoURL)
	if err != nil {
		return err
	}

	var forkOwner string
	if s.cfg.Fork {
		forkOwner, err = s.repos.Fork(ctx, owner, repo)
		if err != nil {
			return fmt.Errorf("forking %s/%s: %w", owner, repo, err)
		}
		logger.Info("repository forked", zap.String("fork_owner", forkOwner))
		s.publish(sessionID, progress.EventLog, map[string]any{
			"level":   "info",
			"message": fmt.Sprintf("working from fork %s/%s", forkOwner, repo),
		})
	}

	cloneURL := queued.RepoURL
	if forkOwner != "" {
		cloneURL = fmt.Sprintf("https://github.com/%s/%s", forkOwner, repo)
	}

	if err := s.transition(ctx, sessionID, healing.StatusCloning, 0); err != nil {
		return err
	}
	workspacePath, err := s.repos.Clone(ctx, cloneURL, sessionID, token)
	if err != nil {
		return err
	}
	branch, err := s.repos.CreateBranch(ctx, workspacePath)
	if err != nil {
		return err
	}
	if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
		ss.RepoOwner = owner
		ss.RepoName = repo
		ss.ForkOwner = forkOwner
		ss.Branch = branch
		return nil
	}); err != nil {
		return fmt.Errorf("persisting repository metadata: %w", err)
	}
	logger.Info("workspace staged",
		zap.String("workspace", workspacePath),
		zap.String("branch", branch))

	// Fix records staged at push time and submitted once the next test run
	// reveals whether the fixes held.
	var unverified []ledger.Record

	for attempt := 1; attempt <= queued.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attemptsRun.Inc()
		attemptStart := time.Now()

		if err := s.transition(ctx, sessionID, healing.StatusTesting, attempt); err != nil {
			return err
		}
		result, err := s.runner.Run(ctx, workspacePath)
		if err != nil {
			return fmt.Errorf("running tests: %w", err)
		}
		s.flushLedger(ctx, sessionID, unverified, result.Passed, logger)
		unverified = nil
		s.publish(sessionID, progress.EventTestResult, map[string]any{
			"passed": result.Passed,
			"errors": len(result.Failures),
			"output": result.Output,
		})
		logger.Info("tests executed",
			zap.Int("attempt", attempt),
			zap.Bool("passed", result.Passed),
			zap.Int("failures", len(result.Failures)))

		if result.Passed {
			if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
				ss.Attempts = append(ss.Attempts, healing.Attempt{
					Number:     attempt,
					Status:     healing.AttemptPassed,
					TestOutput: result.Output,
					Duration:   time.Since(attemptStart),
					StartedAt:  attemptStart,
				})
				return nil
			}); err != nil {
				return fmt.Errorf("sealing attempt %d: %w", attempt, err)
			}
			return s.finalize(ctx, sessionID, workspacePath, branch, true, attempt, startedAt, logger)
		}

		if err := s.transition(ctx, sessionID, healing.StatusScanning, attempt); err != nil {
			return err
		}
		report := s.scanner.Scan(ctx, workspacePath, result.Failures)
		var added []healing.Bug
		cur, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
			added = added[:0]
			for _, b := range report.Bugs {
				if ss.HasBug(b.Key()) {
					continue
				}
				ss.Bugs = append(ss.Bugs, b)
				added = append(added, b)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("recording bugs: %w", err)
		}
		for _, b := range added {
			bugsFoundTotal.Inc()
			s.publish(sessionID, progress.EventBugFound, b)
		}
		logger.Info("scan finished",
			zap.Int("attempt", attempt),
			zap.Int("new_bugs", len(added)),
			zap.Bool("degraded", report.Degraded))

		if err := s.transition(ctx, sessionID, healing.StatusFixing, attempt); err != nil {
			return err
		}
		targets := cur.PendingBugs()
		if len(targets) == 0 {
			// Everything known is nominally fixed yet tests still fail;
			// retry the full set.
			targets = cur.Bugs
		}
		fixResult := s.fixer.Fix(ctx, workspacePath, targets, result.Output)

		if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
			for _, o := range fixResult.Outcomes {
				if !o.Applied {
					continue
				}
				for i := range ss.Bugs {
					if ss.Bugs[i].ID == o.Bug.ID && !ss.Bugs[i].Fixed {
						ss.Bugs[i].Fixed = true
						at := attempt
						ss.Bugs[i].FixedAtAttempt = &at
					}
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("recording fixes: %w", err)
		}
		for _, o := range fixResult.Outcomes {
			if !o.Applied {
				continue
			}
			bugsFixedTotal.Inc()
			s.publish(sessionID, progress.EventFixApplied, map[string]any{
				"bug_id":      o.Bug.ID,
				"file_path":   o.Bug.FilePath,
				"line":        o.Bug.Line,
				"description": o.Description,
			})
		}

		if err := s.transition(ctx, sessionID, healing.StatusPushing, attempt); err != nil {
			return err
		}
		message := fmt.Sprintf("%s (attempt %d)", commitMessagePrefix, attempt)
		sha, err := s.repos.Commit(ctx, workspacePath, message)
		if err != nil {
			return err
		}
		if sha != "" {
			if err := s.repos.Push(ctx, workspacePath, branch); err != nil {
				return err
			}
		}

		for _, o := range fixResult.Outcomes {
			if !o.Applied {
				continue
			}
			unverified = append(unverified, ledger.Record{
				SessionID:      sessionID,
				BugCategory:    o.Bug.Category,
				FilePath:       o.Bug.FilePath,
				Line:           o.Bug.Line,
				ErrorMessage:   o.Bug.Message,
				FixDescription: o.Description,
				CommitSHA:      sha,
			})
		}

		if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
			commitMessage := ""
			if sha != "" {
				commitMessage = message
			}
			ss.Attempts = append(ss.Attempts, healing.Attempt{
				Number:        attempt,
				Status:        healing.AttemptFailed,
				TestOutput:    result.Output,
				BugsFound:     len(added),
				BugsFixed:     fixResult.BugsFixed,
				CommitSHA:     sha,
				CommitMessage: commitMessage,
				Duration:      time.Since(attemptStart),
				StartedAt:     attemptStart,
			})
			return nil
		}); err != nil {
			return fmt.Errorf("sealing attempt %d: %w", attempt, err)
		}
		s.publish(sessionID, progress.EventAttemptComplete, map[string]any{
			"attempt":    attempt,
			"bugs_found": len(added),
			"bugs_fixed": fixResult.BugsFixed,
			"commit_sha": sha,
		})
	}

	// Attempts exhausted. One final run decides whether the last round of
	// fixes brought the tests home.
	if err := s.transition(ctx, sessionID, healing.StatusTesting, queued.MaxAttempts); err != nil {
		return err
	}
	final, err := s.runner.Run(ctx, workspacePath)
	if err != nil {
		return fmt.Errorf("final test run: %w", err)
	}
	s.flushLedger(ctx, sessionID, unverified, final.Passed, logger)
	s.publish(sessionID, progress.EventTestResult, map[string]any{
		"passed": final.Passed,
		"errors": len(final.Failures),
		"output": final.Output,
	})

	return s.finalize(ctx, sessionID, workspacePath, branch, final.Passed, queued.MaxAttempts, startedAt, logger)
}

// finalize computes the score, persists the terminal status, and opens a
// pull request when the session fixed anything. PR failures degrade to a
// logged warning.
func (s *Service) finalize(ctx context.Context, sessionID, workspacePath, branch string, testsPassed bool, attemptsUsed int, startedAt time.Time, logger *zap.Logger) error {
	commits := s.repos.CommitCount(ctx, workspacePath, branch)

	cur, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session for scoring: %w", err)
	}
	score := healing.ComputeScore(len(cur.Bugs), cur.BugsFixed(), testsPassed, attemptsUsed, commits, time.Since(startedAt))

	status := healing.StatusFailed
	if testsPassed {
		status = healing.StatusCompleted
	}
	now := time.Now()
	if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
		ss.Status = status
		ss.Score = &score
		ss.CompletedAt = &now
		return nil
	}); err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}
	s.publish(sessionID, progress.EventStatus, map[string]any{
		"status":  status,
		"attempt": attemptsUsed,
	})

	if score.BugsFixed > 0 {
		pr := s.repos.CreatePullRequest(ctx, gitops.PullRequestInput{
			Owner:     cur.RepoOwner,
			Repo:      cur.RepoName,
			Branch:    branch,
			ForkOwner: cur.ForkOwner,
			Score:     score,
		})
		switch {
		case pr.Success:
			if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
				ss.PRURL = pr.URL
				ss.PRNumber = pr.Number
				return nil
			}); err != nil {
				logger.Warn("pull request metadata not persisted", zap.Error(err))
			}
			logger.Info("pull request opened", zap.String("url", pr.URL))
			s.publish(sessionID, progress.EventLog, map[string]any{
				"level":   "info",
				"message": fmt.Sprintf("pull request opened: %s", pr.URL),
			})
		case pr.Err != nil:
			logger.Warn("pull request creation failed", zap.Error(pr.Err))
		}
	}

	s.publish(sessionID, progress.EventScore, score)
	sessionsFinished.WithLabelValues(string(status)).Inc()
	logger.Info("healing finished",
		zap.String("status", string(status)),
		zap.Int("score", score.FinalScore),
		zap.Int("attempts", attemptsUsed),
		zap.Int("bugs_fixed", score.BugsFixed),
		zap.Int("bugs_total", score.TotalBugs))
	return nil
}

// failSession is the top-level boundary: record the error, mark the session
// failed, and announce it.
func (s *Service) failSession(ctx context.Context, sessionID string, cause error, logger *zap.Logger) {
	logger.Error("healing failed", zap.Error(cause))

	// The write must land even when the loop died to a canceled context.
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
		ss.Status = healing.StatusFailed
		ss.Error = cause.Error()
		ss.CompletedAt = &now
		return nil
	}); err != nil {
		logger.Error("failed session not persisted", zap.Error(err))
	}
	s.publish(sessionID, progress.EventError, map[string]any{"error": cause.Error()})
	s.publish(sessionID, progress.EventStatus, map[string]any{"status": healing.StatusFailed})
	sessionsFinished.WithLabelValues(string(healing.StatusFailed)).Inc()
}

// flushLedger submits fix records once a test run has decided their
// after-state. Failures are logged and dropped; the ledger never affects
// the loop.
func (s *Service) flushLedger(ctx context.Context, sessionID string, records []ledger.Record, testsPassed bool, logger *zap.Logger) {
	for _, rec := range records {
		rec.TestAfterPassed = testsPassed
		if _, err := s.ledger.Record(ctx, rec); err != nil {
			logger.Warn("ledger record dropped",
				zap.String("session_id", sessionID),
				zap.String("file_path", rec.FilePath),
				zap.Error(err))
		}
	}
}

// transition persists a status change and announces it. attempt 0 means the
// change is not tied to a numbered attempt.
func (s *Service) transition(ctx context.Context, sessionID string, status healing.Status, attempt int) error {
	if _, err := s.store.Update(ctx, sessionID, func(ss *healing.Session) error {
		ss.Status = status
		if attempt > 0 {
			ss.CurrentAttempt = attempt
		}
		return nil
	}); err != nil {
		return fmt.Errorf("persisting %s transition: %w", status, err)
	}
	s.publish(sessionID, progress.EventStatus, map[string]any{
		"status":  status,
		"attempt": attempt,
	})
	return nil
}

func (s *Service) publish(sessionID, eventType string, data any) {
	s.bus.Publish(sessionID, progress.Event{Type: eventType, Data: data})
}
