// Package server provides the healerd HTTP surface: the session API, the
// per-session SSE event stream, health, and Prometheus metrics.
//
// The server wraps an Echo router with graceful context-aware shutdown.
// Healing loops spawned by the API run on the context passed to Start, so a
// daemon shutdown cancels in-flight sessions, which finalize as failed
// through the orchestrator's boundary.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/services"
	"github.com/fixpointlabs/healerd/internal/session"
)

// Server is the healerd HTTP server.
type Server struct {
	cfg      config.ServerConfig
	echo     *echo.Echo
	registry services.Registry
	logger   *zap.Logger

	// loopCtx is the base context for healing goroutines. Start assigns it
	// before the listener accepts traffic; handlers fall back to Background
	// when the server runs under a bare test router.
	loopCtx context.Context
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	SessionsActive int    `json:"sessions_active"`
}

// New creates the HTTP server around the service registry.
func New(cfg config.ServerConfig, registry services.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.String("request_id", v.RequestID),
				zap.Error(v.Error))
			return nil
		},
	}))

	s := &Server{
		cfg:      cfg,
		echo:     e,
		registry: registry,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	api := s.echo.Group("/api/v1")
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.GET("/sessions/:id/events", s.handleSessionEvents)

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(c echo.Context) error {
	active := 0
	sessions, err := s.registry.Sessions().List(c.Request().Context(), session.Filter{})
	if err != nil {
		s.logger.Warn("health check could not list sessions", zap.Error(err))
	} else {
		for _, sess := range sessions {
			if !sess.Status.IsTerminal() {
				active++
			}
		}
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		SessionsActive: active,
	})
}

// Start starts the HTTP server and blocks until the context is cancelled.
//
// The context doubles as the base context for healing goroutines spawned by
// POST /api/v1/sessions. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.loopCtx = ctx
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.cfg.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// healContext is the context healing goroutines run on.
func (s *Server) healContext() context.Context {
	if s.loopCtx != nil {
		return s.loopCtx
	}
	return context.Background()
}
