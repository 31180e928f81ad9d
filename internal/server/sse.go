package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/progress"
	"github.com/fixpointlabs/healerd/internal/session"
)

const heartbeatInterval = 30 * time.Second

// handleSessionEvents streams session progress via Server-Sent Events.
//
// The handler subscribes to the session's progress subject and forwards
// each envelope as an `event:`/`data:` frame. The connection stays open
// until a terminal status event arrives or the client disconnects;
// heartbeat comments keep proxies from reaping idle streams.
func (s *Server) handleSessionEvents(c echo.Context) error {
	id := c.Param("id")
	sess, err := s.registry.Orchestrator().Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// A watcher attaching after the run ended gets the terminal status and
	// a closed stream instead of a silent hang.
	if sess.Status.IsTerminal() {
		return writeTerminalSnapshot(c, sess)
	}

	sub, err := s.registry.Progress().Subscribe(id)
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeEvent(c, env); err != nil {
				return nil
			}
			if isTerminalStatus(env) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func writeTerminalSnapshot(c echo.Context, sess *healing.Session) error {
	data, err := json.Marshal(map[string]any{
		"status":  sess.Status,
		"attempt": sess.CurrentAttempt,
	})
	if err != nil {
		return err
	}
	return writeEvent(c, progress.Envelope{
		Type:      progress.EventStatus,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writeEvent(c echo.Context, env progress.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", env.Type, payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// isTerminalStatus reports whether the envelope is a status event carrying
// completed or failed.
func isTerminalStatus(env progress.Envelope) bool {
	if env.Type != progress.EventStatus {
		return false
	}
	var payload struct {
		Status healing.Status `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return false
	}
	return payload.Status.IsTerminal()
}
