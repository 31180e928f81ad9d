// Package config provides configuration loading for healerd.
//
// Configuration is loaded from a YAML file and overridden by HEALERD_-prefixed
// environment variables, with hardcoded defaults applied last for anything
// left unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete healerd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	NATS       NATSConfig       `koanf:"nats"`
	Workspace  WorkspaceConfig  `koanf:"workspace"`
	Git        GitConfig        `koanf:"git"`
	Inference  InferenceConfig  `koanf:"inference"`
	Scanner    ScannerConfig    `koanf:"scanner"`
	Fixer      FixerConfig      `koanf:"fixer"`
	TestRunner TestRunnerConfig `koanf:"testrunner"`
	Healing    HealingConfig    `koanf:"healing"`
	Store      StoreConfig      `koanf:"store"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Redact     RedactConfig     `koanf:"redact"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds the progress bus connection settings.
type NATSConfig struct {
	URL           string   `koanf:"url"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
}

// WorkspaceConfig controls where session sandboxes are created.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// GitConfig holds repository staging settings.
type GitConfig struct {
	Token        Secret   `koanf:"token"`
	Fork         bool     `koanf:"fork"`
	CloneDepth   int      `koanf:"clone_depth"`
	CloneTimeout Duration `koanf:"clone_timeout"`
	PushTimeout  Duration `koanf:"push_timeout"`
	AuthorName   string   `koanf:"author_name"`
	AuthorEmail  string   `koanf:"author_email"`
}

// InferenceConfig holds LLM endpoint settings.
type InferenceConfig struct {
	Provider    string   `koanf:"provider"` // "anthropic" or "openai"
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	BaseURL     string   `koanf:"base_url"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	RateBurst   int      `koanf:"rate_burst"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
}

// ScannerConfig bounds the bug scanner's file discovery and batching.
type ScannerConfig struct {
	MaxFiles     int      `koanf:"max_files"`
	MaxFileBytes int      `koanf:"max_file_bytes"`
	BatchSize    int      `koanf:"batch_size"`
	Extensions   []string `koanf:"extensions"`
	SkipDirs     []string `koanf:"skip_dirs"`
}

// FixerConfig controls the fix engineer's pacing.
type FixerConfig struct {
	InterFileDelay Duration `koanf:"inter_file_delay"`
}

// TestRunnerConfig controls test execution.
type TestRunnerConfig struct {
	Command     string   `koanf:"command"` // override; empty means auto-detect
	Timeout     Duration `koanf:"timeout"`
	OutputLimit int      `koanf:"output_limit"`
}

// HealingConfig holds the orchestration loop policy.
type HealingConfig struct {
	MaxAttempts     int      `koanf:"max_attempts"`
	ProgressGrace   Duration `koanf:"progress_grace"`
	StaleAfter      Duration `koanf:"stale_after"`
	JanitorInterval Duration `koanf:"janitor_interval"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Backend    string   `koanf:"backend"` // "memory" or "badger"
	Path       string   `koanf:"path"`
	SyncWrites bool     `koanf:"sync_writes"`
	GCInterval Duration `koanf:"gc_interval"`
}

// LedgerConfig configures the optional audit ledger collaborator.
type LedgerConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Endpoint string   `koanf:"endpoint"`
	Token    Secret   `koanf:"token"`
	Timeout  Duration `koanf:"timeout"`
}

// RedactConfig controls secret scrubbing of test output and events.
type RedactConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig holds zap construction settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // "grpc" or "http"
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 5
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = Duration(time.Second)
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = filepath.Join(os.TempDir(), "healerd")
	}

	if cfg.Git.CloneDepth == 0 {
		cfg.Git.CloneDepth = 1
	}
	if cfg.Git.CloneTimeout == 0 {
		cfg.Git.CloneTimeout = Duration(2 * time.Minute)
	}
	if cfg.Git.PushTimeout == 0 {
		cfg.Git.PushTimeout = Duration(time.Minute)
	}
	if cfg.Git.AuthorName == "" {
		cfg.Git.AuthorName = "healerd"
	}
	if cfg.Git.AuthorEmail == "" {
		cfg.Git.AuthorEmail = "healerd@localhost"
	}

	if cfg.Inference.Provider == "" {
		cfg.Inference.Provider = "anthropic"
	}
	if cfg.Inference.Timeout == 0 {
		cfg.Inference.Timeout = Duration(60 * time.Second)
	}
	if cfg.Inference.MaxRetries == 0 {
		cfg.Inference.MaxRetries = 3
	}
	if cfg.Inference.RateLimit == 0 {
		cfg.Inference.RateLimit = 0.5
	}
	if cfg.Inference.RateBurst == 0 {
		cfg.Inference.RateBurst = 1
	}
	if cfg.Inference.MaxTokens == 0 {
		cfg.Inference.MaxTokens = 4096
	}

	if cfg.Scanner.MaxFiles == 0 {
		cfg.Scanner.MaxFiles = 25
	}
	if cfg.Scanner.MaxFileBytes == 0 {
		cfg.Scanner.MaxFileBytes = 50 * 1024
	}
	if cfg.Scanner.BatchSize == 0 {
		cfg.Scanner.BatchSize = 4
	}
	if len(cfg.Scanner.Extensions) == 0 {
		cfg.Scanner.Extensions = []string{
			".ts", ".tsx", ".js", ".jsx", ".py", ".go", ".java", ".rb", ".rs", ".php",
		}
	}
	if len(cfg.Scanner.SkipDirs) == 0 {
		cfg.Scanner.SkipDirs = []string{
			"node_modules", "vendor", "dist", "build", "out", "target",
			"__pycache__", "coverage",
		}
	}

	if cfg.Fixer.InterFileDelay == 0 {
		cfg.Fixer.InterFileDelay = Duration(time.Second)
	}

	if cfg.TestRunner.Timeout == 0 {
		cfg.TestRunner.Timeout = Duration(5 * time.Minute)
	}
	if cfg.TestRunner.OutputLimit == 0 {
		cfg.TestRunner.OutputLimit = 10 * 1024
	}

	if cfg.Healing.MaxAttempts == 0 {
		cfg.Healing.MaxAttempts = 5
	}
	if cfg.Healing.ProgressGrace == 0 {
		cfg.Healing.ProgressGrace = Duration(30 * time.Second)
	}
	if cfg.Healing.StaleAfter == 0 {
		cfg.Healing.StaleAfter = Duration(15 * time.Minute)
	}
	if cfg.Healing.JanitorInterval == 0 {
		cfg.Healing.JanitorInterval = Duration(time.Minute)
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.GCInterval == 0 {
		cfg.Store.GCInterval = Duration(5 * time.Minute)
	}

	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "healerd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}

	if c.NATS.URL == "" {
		return errors.New("nats url is required")
	}

	if c.Git.CloneDepth < 1 {
		return fmt.Errorf("git clone depth must be >= 1, got %d", c.Git.CloneDepth)
	}

	switch c.Inference.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown inference provider: %q (must be anthropic or openai)", c.Inference.Provider)
	}
	if c.Inference.RateLimit <= 0 {
		return errors.New("inference rate limit must be positive")
	}
	if c.Inference.MaxRetries < 0 {
		return errors.New("inference max retries cannot be negative")
	}

	if c.Scanner.MaxFiles < 1 {
		return errors.New("scanner max files must be >= 1")
	}
	if c.Scanner.BatchSize < 1 {
		return errors.New("scanner batch size must be >= 1")
	}

	if c.Healing.MaxAttempts < 1 || c.Healing.MaxAttempts > 10 {
		return fmt.Errorf("healing max attempts must be 1-10, got %d", c.Healing.MaxAttempts)
	}
	if c.Healing.StaleAfter.Duration() <= 0 {
		return errors.New("healing stale window must be positive")
	}

	switch c.Store.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("unknown store backend: %q (must be memory or badger)", c.Store.Backend)
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return errors.New("store path required for badger backend")
	}

	if c.Ledger.Enabled && c.Ledger.Endpoint == "" {
		return errors.New("ledger endpoint required when ledger is enabled")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample rate must be 0.0-1.0, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}
