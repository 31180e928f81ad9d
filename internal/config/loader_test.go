package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// TestLoad_ValidYAML tests loading configuration from a valid YAML file.
func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfigFile(t, `server:
  host: 127.0.0.1
  port: 9090

git:
  token: ghp_testtoken
  clone_depth: 3

inference:
  provider: openai
  model: gpt-4o-mini
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Git.Token.Value() != "ghp_testtoken" {
		t.Errorf("Git.Token = %q, want ghp_testtoken", cfg.Git.Token.Value())
	}
	if cfg.Git.CloneDepth != 3 {
		t.Errorf("Git.CloneDepth = %d, want 3", cfg.Git.CloneDepth)
	}
	if cfg.Inference.Provider != "openai" {
		t.Errorf("Inference.Provider = %q, want openai", cfg.Inference.Provider)
	}
	if cfg.Inference.Model != "gpt-4o-mini" {
		t.Errorf("Inference.Model = %q, want gpt-4o-mini", cfg.Inference.Model)
	}
}

// TestLoad_Defaults tests that defaults fill in everything a minimal file omits.
func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `server:
  port: 8081
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout.Duration())
	}
	if cfg.NATS.URL == "" {
		t.Error("NATS.URL is empty, want default")
	}
	if cfg.Git.CloneDepth != 1 {
		t.Errorf("Git.CloneDepth = %d, want 1", cfg.Git.CloneDepth)
	}
	if cfg.Inference.Provider != "anthropic" {
		t.Errorf("Inference.Provider = %q, want anthropic", cfg.Inference.Provider)
	}
	if cfg.Healing.MaxAttempts != 5 {
		t.Errorf("Healing.MaxAttempts = %d, want 5", cfg.Healing.MaxAttempts)
	}
	if cfg.Healing.ProgressGrace.Duration() != 30*time.Second {
		t.Errorf("Healing.ProgressGrace = %v, want 30s", cfg.Healing.ProgressGrace.Duration())
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Scanner.MaxFiles != 25 {
		t.Errorf("Scanner.MaxFiles = %d, want 25", cfg.Scanner.MaxFiles)
	}
	if len(cfg.Scanner.Extensions) == 0 {
		t.Error("Scanner.Extensions is empty, want defaults")
	}
	if cfg.Telemetry.ServiceName != "healerd" {
		t.Errorf("Telemetry.ServiceName = %q, want healerd", cfg.Telemetry.ServiceName)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

// TestLoad_EnvironmentOverride tests that environment variables override YAML.
func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfigFile(t, `server:
  port: 9090

inference:
  model: yaml-model
`)

	t.Setenv("HEALERD_SERVER_PORT", "7777")
	t.Setenv("HEALERD_INFERENCE_MODEL", "env-model")
	t.Setenv("HEALERD_GIT_TOKEN", "ghp_fromenv")
	t.Setenv("HEALERD_SERVER_SHUTDOWN_TIMEOUT", "25s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Inference.Model != "env-model" {
		t.Errorf("Inference.Model = %q, want env-model (from env override)", cfg.Inference.Model)
	}
	if cfg.Git.Token.Value() != "ghp_fromenv" {
		t.Errorf("Git.Token = %q, want ghp_fromenv (from env override)", cfg.Git.Token.Value())
	}
	if cfg.Server.ShutdownTimeout.Duration() != 25*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 25s (from env override)", cfg.Server.ShutdownTimeout.Duration())
	}
}

// TestLoad_MissingFile tests handling of a missing config file.
func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() should not error on missing file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config for missing file")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
}

// TestLoad_InvalidYAML tests handling of malformed YAML.
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, `server:
  port: not-a-number
  invalid syntax here
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() should error on invalid YAML, got nil")
	}
}

// TestLoad_Validation tests that validation failures surface as errors.
func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "port out of range",
			yaml: "server:\n  port: 99999\n",
			want: "port",
		},
		{
			name: "unknown provider",
			yaml: "inference:\n  provider: gemini\n",
			want: "provider",
		},
		{
			name: "max attempts out of range",
			yaml: "healing:\n  max_attempts: 50\n",
			want: "max attempts",
		},
		{
			name: "badger backend without path",
			yaml: "store:\n  backend: badger\n  path: \"\"\n",
			want: "path",
		},
		{
			name: "ledger enabled without endpoint",
			yaml: "ledger:\n  enabled: true\n",
			want: "endpoint",
		},
		{
			name: "bad log format",
			yaml: "logging:\n  format: xml\n",
			want: "format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should error on invalid config, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

// TestLoad_InsecurePermissions tests file permission enforcement.
func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("Expected error for insecure permissions, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "insecure") {
		t.Errorf("Expected 'insecure' permissions error, got: %v", err)
	}
}

// TestLoad_SecurePermissions tests that 0400 permissions are accepted.
func TestLoad_SecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0400); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() should succeed with 0400 permissions, got error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

// TestLoad_FileTooLarge tests file size limit enforcement.
func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	largeContent := bytes.Repeat([]byte("# comment line\n"), 150000)
	if err := os.WriteFile(path, largeContent, 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("Expected error for large file, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}

func TestEnvTransformer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HEALERD_SERVER_PORT", "server.port"},
		{"HEALERD_SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"HEALERD_GIT_TOKEN", "git.token"},
		{"HEALERD_HEALING_MAX_ATTEMPTS", "healing.max_attempts"},
		{"HEALERD_NATS_URL", "nats.url"},
	}

	for _, tt := range tests {
		if got := envTransformer(tt.in); got != tt.want {
			t.Errorf("envTransformer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
