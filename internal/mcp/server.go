// Package mcp exposes healing sessions over the Model Context Protocol.
//
// The server speaks the stdio transport and calls the orchestrator directly,
// so a coding agent can start a healing run and poll its progress without
// going through the HTTP API.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/services"
)

// Server bridges MCP tool calls to the healing services.
type Server struct {
	mcp      *mcp.Server
	registry services.Registry
	metrics  *Metrics
	logger   *zap.Logger

	// loopCtx carries healing goroutines spawned by heal_start. Tool call
	// contexts end with the call, which would kill a loop mid-flight.
	loopCtx context.Context
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "healerd")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "healerd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the service registry.
func NewServer(cfg *Config, registry services.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if registry == nil {
		return nil, fmt.Errorf("service registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		registry: registry,
		metrics:  NewMetrics(logger),
		logger:   logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport. Healing loops started by
// tool calls run on ctx, so canceling it stops them as well.
func (s *Server) Run(ctx context.Context) error {
	s.loopCtx = ctx
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

func (s *Server) healContext() context.Context {
	if s.loopCtx != nil {
		return s.loopCtx
	}
	return context.Background()
}
