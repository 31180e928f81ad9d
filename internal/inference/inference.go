// Package inference provides the LLM clients used for bug discovery and fix
// generation.
//
// Two providers are supported: Anthropic's Messages API (spoken natively over
// HTTP) and any OpenAI-compatible endpoint via langchaingo. Both clients
// rate-limit themselves and retry transient failures with exponential backoff,
// so callers see either a completion or a definitive error.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/fixpointlabs/healerd/internal/config"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	defaultOpenAIModel = "gpt-4o-mini"

	baseBackoff = 1 * time.Second
)

// Request is a single completion request. System carries the role framing,
// Prompt the task content.
type Request struct {
	System string
	Prompt string
}

// Client generates text completions.
type Client interface {
	// Complete returns the model's text response for the request.
	Complete(ctx context.Context, req Request) (string, error)

	// Model returns the model identifier in use, for logging.
	Model() string
}

// New creates a Client for the configured provider.
func New(cfg config.InferenceConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown inference provider: %q", cfg.Provider)
	}
}
