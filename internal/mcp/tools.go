package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fixpointlabs/healerd/internal/orchestrator"
	"github.com/fixpointlabs/healerd/internal/session"
)

type healStartInput struct {
	RepoURL string `json:"repo_url" jsonschema:"required,Repository URL to heal (https or SSH form)"`
	Token   string `json:"token,omitempty" jsonschema:"Git access token for private clones and pushes"`
	UserID  string `json:"user_id,omitempty" jsonschema:"User identifier recorded on the session"`
}

type healStartOutput struct {
	SessionID   string `json:"session_id" jsonschema:"Healing session identifier"`
	Status      string `json:"status" jsonschema:"Initial session status"`
	MaxAttempts int    `json:"max_attempts" jsonschema:"Attempt budget for the session"`
}

type healStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Healing session identifier"`
}

type healStatusOutput struct {
	SessionID      string `json:"session_id" jsonschema:"Healing session identifier"`
	RepoURL        string `json:"repo_url" jsonschema:"Repository under repair"`
	Status         string `json:"status" jsonschema:"Current session status"`
	CurrentAttempt int    `json:"current_attempt" jsonschema:"Attempt the loop is on"`
	MaxAttempts    int    `json:"max_attempts" jsonschema:"Attempt budget for the session"`
	BugsFound      int    `json:"bugs_found" jsonschema:"Total bugs discovered so far"`
	BugsFixed      int    `json:"bugs_fixed" jsonschema:"Bugs with an applied fix"`
	Score          *int   `json:"score,omitempty" jsonschema:"Final score (0-100) once the session finishes"`
	PRURL          string `json:"pr_url,omitempty" jsonschema:"Pull request URL when one was opened"`
	Error          string `json:"error,omitempty" jsonschema:"Failure cause for failed sessions"`
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "heal_start",
		Description: "Start a self-healing session for a repository. The daemon clones the repo, runs its tests, and iteratively fixes discovered bugs until the tests pass or the attempt budget runs out.",
	}, s.handleHealStart)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "heal_status",
		Description: "Get the current state of a healing session: status, attempt counts, bug totals, score, and pull request URL.",
	}, s.handleHealStatus)
}

// handleHealStart queues a session and kicks off its healing loop.
func (s *Server) handleHealStart(ctx context.Context, req *mcp.CallToolRequest, args healStartInput) (*mcp.CallToolResult, healStartOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "heal_start")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "heal_start")
		s.metrics.RecordInvocation(ctx, "heal_start", time.Since(start), toolErr)
	}()

	sess, err := s.registry.Orchestrator().Start(ctx, orchestrator.StartRequest{
		RepoURL: args.RepoURL,
		UserID:  args.UserID,
		Token:   args.Token,
	})
	if err != nil {
		toolErr = fmt.Errorf("heal start failed: %w", err)
		return nil, healStartOutput{}, toolErr
	}

	go s.registry.Orchestrator().Heal(s.healContext(), sess.ID)

	output := healStartOutput{
		SessionID:   sess.ID,
		Status:      string(sess.Status),
		MaxAttempts: sess.MaxAttempts,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Healing session started: %s", sess.ID)},
		},
	}, output, nil
}

// handleHealStatus reports the current state of a session.
func (s *Server) handleHealStatus(ctx context.Context, req *mcp.CallToolRequest, args healStatusInput) (*mcp.CallToolResult, healStatusOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "heal_status")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "heal_status")
		s.metrics.RecordInvocation(ctx, "heal_status", time.Since(start), toolErr)
	}()

	if args.SessionID == "" {
		toolErr = fmt.Errorf("session_id is required")
		return nil, healStatusOutput{}, toolErr
	}

	sess, err := s.registry.Orchestrator().Get(ctx, args.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			toolErr = fmt.Errorf("session %s not found", args.SessionID)
		} else {
			toolErr = fmt.Errorf("heal status failed: %w", err)
		}
		return nil, healStatusOutput{}, toolErr
	}

	output := healStatusOutput{
		SessionID:      sess.ID,
		RepoURL:        sess.RepoURL,
		Status:         string(sess.Status),
		CurrentAttempt: sess.CurrentAttempt,
		MaxAttempts:    sess.MaxAttempts,
		BugsFound:      len(sess.Bugs),
		BugsFixed:      sess.BugsFixed(),
		PRURL:          sess.PRURL,
		Error:          sess.Error,
	}
	if sess.Score != nil {
		score := sess.Score.FinalScore
		output.Score = &score
	}

	text := fmt.Sprintf("Session %s: %s (attempt %d/%d, %d/%d bugs fixed)",
		sess.ID, sess.Status, sess.CurrentAttempt, sess.MaxAttempts,
		output.BugsFixed, output.BugsFound)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}
