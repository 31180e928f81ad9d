package inference

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/fixpointlabs/healerd/internal/config"
)

// openaiClient talks to OpenAI-compatible endpoints through langchaingo.
// A custom base URL points it at any compatible server (vLLM, Ollama, TEI).
type openaiClient struct {
	llm        llms.Model
	model      string
	maxTokens  int
	temp       float64
	limiter    *rate.Limiter
	maxRetries int
}

func newOpenAIClient(cfg config.InferenceConfig) (*openaiClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &openaiClient{
		llm:        llm,
		model:      model,
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (o *openaiClient) Model() string {
	return o.model
}

// Complete sends the request through langchaingo, retrying transient failures.
// langchaingo flattens HTTP errors into opaque strings, so anything that is
// not a context error is treated as transient.
func (o *openaiClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	return withRetries(ctx, o.maxRetries, func() (string, error) {
		resp, err := o.llm.GenerateContent(ctx, messages,
			llms.WithTemperature(o.temp),
			llms.WithMaxTokens(o.maxTokens),
		)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &retryableError{err: fmt.Errorf("generation failed: %w", err)}
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty response from API")
		}
		return resp.Choices[0].Content, nil
	})
}

var _ Client = (*openaiClient)(nil)
