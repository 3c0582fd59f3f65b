package narrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"github.com/eigensight/internal/config"
	"github.com/eigensight/internal/conversation"
	"github.com/eigensight/internal/retry"
)

// LLMClient generates narration and answers. It wraps an injectable
// llms.Model behind a rate limiter and retry, so tests can substitute a
// stub and production calls survive transient provider failures.
type LLMClient struct {
	model       llms.Model
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	retryConfig retry.Config
}

// NewLLMClient builds a client from configuration.
func NewLLMClient(cfg *config.Config) (*LLMClient, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.AI.Model),
		openai.WithToken(cfg.AI.APIKey),
	}
	if cfg.AI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.AI.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model: %w", err)
	}

	return NewLLMClientWithModel(model, cfg), nil
}

// NewLLMClientWithModel wraps an existing model; tests use this with a stub.
func NewLLMClientWithModel(model llms.Model, cfg *config.Config) *LLMClient {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.AI.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.AI.RequestsPerMinute)/60.0), cfg.AI.RequestsPerMinute)
	}

	return &LLMClient{
		model:       model,
		temperature: cfg.AI.Temperature,
		maxTokens:   cfg.AI.MaxTokens,
		limiter:     limiter,
		retryConfig: retry.LLMConfig(),
	}
}

// Complete sends a single-prompt request and returns the trimmed response.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	})
}

// Chat sends a system context plus the windowed conversation history.
func (c *LLMClient) Chat(ctx context.Context, systemContext string, history []conversation.Turn) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemContext),
	}
	for _, turn := range history {
		role := schema.ChatMessageTypeHuman
		if turn.Role == conversation.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	return c.generate(ctx, messages)
}

func (c *LLMClient) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var text string
	err := retry.WithBackoff(ctx, c.retryConfig, func() error {
		resp, err := c.model.GenerateContent(ctx, messages,
			llms.WithTemperature(c.temperature),
			llms.WithMaxTokens(c.maxTokens),
		)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("model returned no choices")
		}
		text = strings.TrimSpace(resp.Choices[0].Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	return text, nil
}
