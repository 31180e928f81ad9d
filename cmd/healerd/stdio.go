package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/mcp"
	"github.com/fixpointlabs/healerd/internal/services"
)

// runStdioServer serves the Model Context Protocol on stdio over the
// initialized services. Unlike the HTTP surface there is no listener; the
// process is owned by the MCP client that spawned it and exits when stdin
// closes or the context is cancelled.
//
// Healing sessions started by tool calls run on the daemon context, so a
// loop survives the tool call that started it.
func runStdioServer(ctx context.Context, registry services.Registry, logger *zap.Logger) error {
	mcpServer, err := mcp.NewServer(&mcp.Config{
		Name:    "healerd",
		Version: version,
		Logger:  logger,
	}, registry)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Startup message goes to stderr (stdio uses stdout for MCP protocol)
	fmt.Fprintln(os.Stderr, "healerd MCP stdio mode started")

	if err := mcpServer.Run(ctx); err != nil {
		return fmt.Errorf("stdio server error: %w", err)
	}

	logger.Info("stdio MCP server shutdown complete")
	return nil
}
