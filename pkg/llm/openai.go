package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAISuggester talks to any OpenAI-compatible chat completions endpoint.
type OpenAISuggester struct {
	*baseSuggester
	client      *openai.Client
	temperature float64
	maxTokens   int
}

// Config holds provider settings shared by both suggesters.
type Config struct {
	Endpoint    string // Base URL; empty uses the provider default
	Model       string
	APIKey      string // Optional for local OpenAI-compatible endpoints
	Temperature float64
	MaxTokens   int
}

func NewOpenAISuggester(cfg *Config, logger *zap.Logger) (*OpenAISuggester, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	s := &OpenAISuggester{
		client:      openai.NewClientWithConfig(clientConfig),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	s.baseSuggester = newBaseSuggester("openai", cfg.Model, s.complete, logger)
	return s, nil
}

var _ Suggester = (*OpenAISuggester)(nil)

func (s *OpenAISuggester) complete(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(s.temperature),
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", NewError(ErrorTypeResponse, "no choices in response", false, nil)
	}

	s.logger.Debug("Chat completion finished",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}
