package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/orchestrator"
	"github.com/fixpointlabs/healerd/internal/session"
)

// createSessionRequest is the body for POST /api/v1/sessions.
type createSessionRequest struct {
	RepoURL string `json:"repo_url"`
	UserID  string `json:"user_id,omitempty"`
	Token   string `json:"token,omitempty"`
}

// createSessionResponse acknowledges an accepted session.
type createSessionResponse struct {
	SessionID string         `json:"session_id"`
	Status    healing.Status `json:"status"`
}

// sessionSummary is the list-view projection of a session.
type sessionSummary struct {
	ID             string         `json:"id"`
	RepoURL        string         `json:"repo_url"`
	Status         healing.Status `json:"status"`
	CurrentAttempt int            `json:"current_attempt"`
	MaxAttempts    int            `json:"max_attempts"`
	BugsFound      int            `json:"bugs_found"`
	BugsFixed      int            `json:"bugs_fixed"`
	FinalScore     *int           `json:"final_score,omitempty"`
	PRURL          string         `json:"pr_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

func summarize(sess *healing.Session) sessionSummary {
	summary := sessionSummary{
		ID:             sess.ID,
		RepoURL:        sess.RepoURL,
		Status:         sess.Status,
		CurrentAttempt: sess.CurrentAttempt,
		MaxAttempts:    sess.MaxAttempts,
		BugsFound:      len(sess.Bugs),
		BugsFixed:      sess.BugsFixed(),
		PRURL:          sess.PRURL,
		CreatedAt:      sess.CreatedAt,
		CompletedAt:    sess.CompletedAt,
	}
	if sess.Score != nil {
		final := sess.Score.FinalScore
		summary.FinalScore = &final
	}
	return summary
}

// handleCreateSession handles POST /api/v1/sessions.
//
// Fire and forget: the handler persists the queued session, spawns the
// healing goroutine, and returns 202 immediately. The loop runs on the
// daemon context, not the request's, and owns its own error boundary.
func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	sess, err := s.registry.Orchestrator().Start(c.Request().Context(), orchestrator.StartRequest{
		RepoURL: req.RepoURL,
		UserID:  req.UserID,
		Token:   req.Token,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrRepoURLRequired) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.logger.Error("creating session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	go s.registry.Orchestrator().Heal(s.healContext(), sess.ID)

	return c.JSON(http.StatusAccepted, createSessionResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
	})
}

// handleGetSession handles GET /api/v1/sessions/:id.
func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.registry.Orchestrator().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		s.logger.Error("loading session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, sess)
}

// handleListSessions handles GET /api/v1/sessions with optional status,
// user_id, and limit query filters.
func (s *Server) handleListSessions(c echo.Context) error {
	filter := session.Filter{UserID: c.QueryParam("user_id")}
	if raw := c.QueryParam("status"); raw != "" {
		status := healing.Status(raw)
		if !status.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown status %q", raw),
			})
		}
		filter.Status = status
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
		}
		filter.Limit = n
	}

	sessions, err := s.registry.Orchestrator().List(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("listing sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, summarize(sess))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
	})
}
