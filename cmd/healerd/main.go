// Healerd is a self-healing daemon for broken repositories. It clones a
// repository, runs its test suite, asks an LLM to find and fix the bugs, and
// pushes the verified fixes back as a branch and pull request, streaming
// progress over NATS while the loop runs.
//
// The binary serves an HTTP/SSE API by default and speaks the Model Context
// Protocol over stdio with --mcp, so both humans and coding agents can drive
// healing sessions.
//
// Configuration is loaded from an optional YAML file plus HEALERD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	healerd
//
//	# Configure via file or environment
//	healerd --config /etc/healerd/config.yaml
//	HEALERD_SERVER_PORT=9090 HEALERD_STORE_BACKEND=badger healerd
//
//	# Serve MCP over stdio instead of HTTP
//	healerd --mcp
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/fixer"
	"github.com/fixpointlabs/healerd/internal/gitops"
	"github.com/fixpointlabs/healerd/internal/inference"
	"github.com/fixpointlabs/healerd/internal/ledger"
	"github.com/fixpointlabs/healerd/internal/logging"
	"github.com/fixpointlabs/healerd/internal/orchestrator"
	"github.com/fixpointlabs/healerd/internal/progress"
	"github.com/fixpointlabs/healerd/internal/redact"
	"github.com/fixpointlabs/healerd/internal/scanner"
	"github.com/fixpointlabs/healerd/internal/server"
	"github.com/fixpointlabs/healerd/internal/services"
	"github.com/fixpointlabs/healerd/internal/session"
	"github.com/fixpointlabs/healerd/internal/telemetry"
	"github.com/fixpointlabs/healerd/internal/testrunner"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file (default ~/.config/healerd/config.yaml)")
	mcpMode    = flag.Bool("mcp", false, "serve the Model Context Protocol on stdio instead of HTTP")
)

func main() {
	// Parse command-line arguments
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  healerd            Start the healerd daemon\n")
			fmt.Fprintf(os.Stderr, "  healerd --mcp      Serve MCP over stdio\n")
			fmt.Fprintf(os.Stderr, "  healerd version    Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	// Run server
	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("healerd by Fixpoint Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the healerd daemon and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Connects to infrastructure (NATS, session store)
//  4. Builds the healing pipeline (git, test runner, scanner, fixer, ledger)
//  5. Starts the stale-session janitor
//  6. Serves HTTP/SSE, or MCP over stdio with --mcp
//
// Returns http.ErrServerClosed on graceful HTTP shutdown.
func run(ctx context.Context) error {
	// Load configuration; Load validates before returning
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize telemetry first so the logger can bridge to OTLP. Provider
	// failures degrade to no-ops rather than aborting startup.
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	// Initialize logger. The MCP stdio transport owns stdout, so --mcp mode
	// logs to stderr.
	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger) // Best-effort sync on shutdown
	}()

	logger.Info("Starting healerd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.Int("max_attempts", cfg.Healing.MaxAttempts))

	// Initialize infrastructure dependencies
	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.String("store_backend", cfg.Store.Backend))

	// Build the healing pipeline
	orch, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Sweep sessions orphaned by a previous daemon crash
	janitor := session.NewJanitor(deps.store, cfg.Healing, logger)
	janitor.Start()
	defer janitor.Stop()

	registry := services.NewRegistry(services.Options{
		Orchestrator: orch,
		Sessions:     deps.store,
		Progress:     deps.bus,
	})

	if *mcpMode {
		return runStdioServer(ctx, registry, logger)
	}

	// Create HTTP server
	srv := server.New(cfg.Server, registry, logger)

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server (blocks until context cancellation)
	return srv.Start(ctx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn *nats.Conn
	store    session.Store
	bus      *progress.Bus
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if c, ok := d.store.(io.Closer); ok {
		_ = c.Close()
	}
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*zap.Logger, error) {
	if *mcpMode {
		return logging.NewStderr(cfg.Logging, tel.LoggerProvider())
	}
	return logging.New(cfg.Logging, tel.LoggerProvider())
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Connects to NATS for progress event delivery
//  2. Opens the session store (in-memory or Badger)
//  3. Creates the progress bus
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	// Connect to NATS
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait.Duration()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))

	// Open the session store
	var store session.Store
	switch cfg.Store.Backend {
	case "badger":
		badgerStore, err := session.NewBadgerStore(cfg.Store, logger)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		store = badgerStore
		logger.Info("Session store opened",
			zap.String("backend", "badger"),
			zap.String("path", cfg.Store.Path))
	default:
		store = session.NewMemoryStore()
		logger.Info("Session store opened", zap.String("backend", "memory"))
	}

	bus := progress.New(nc, cfg.Healing.ProgressGrace.Duration(), logger)

	return &dependencies{
		natsConn: nc,
		store:    store,
		bus:      bus,
	}, nil
}

// initServices builds the healing pipeline and the orchestrator over it.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (*orchestrator.Service, error) {
	// The GitHub API client is optional: without a token the daemon still
	// clones and heals, it just cannot fork or open pull requests.
	var gh *github.Client
	if cfg.Git.Token.IsSet() {
		client, err := gitops.NewGitHubClient(ctx, cfg.Git.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub client: %w", err)
		}
		gh = client
	} else {
		logger.Warn("No git token configured; fork and pull request creation are disabled")
	}

	repos := gitops.New(cfg.Git, cfg.Workspace.Root, gh, logger)

	scrubber, err := redact.New(cfg.Redact)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	runner := testrunner.New(cfg.TestRunner, nil, scrubber, logger)

	llm, err := inference.New(cfg.Inference)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	logger.Info("Inference client initialized",
		zap.String("provider", cfg.Inference.Provider),
		zap.String("model", cfg.Inference.Model))

	bugScanner := scanner.New(cfg.Scanner, llm, logger)
	fixEngineer := fixer.New(cfg.Fixer, llm, logger)

	recorder := ledger.New(cfg.Ledger)
	if cfg.Ledger.Enabled {
		logger.Info("Audit ledger enabled", zap.String("endpoint", cfg.Ledger.Endpoint))
	}

	orch, err := orchestrator.New(orchestrator.Config{
		MaxAttempts: cfg.Healing.MaxAttempts,
		Fork:        cfg.Git.Fork,
	}, deps.store, repos, runner, bugScanner, fixEngineer, deps.bus, recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return orch, nil
}
