package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicSuggester uses the Anthropic Messages API.
type AnthropicSuggester struct {
	*baseSuggester
	client      *anthropic.Client
	temperature float32
	maxTokens   int
}

func NewAnthropicSuggester(cfg *Config, logger *zap.Logger) (*AnthropicSuggester, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	s := &AnthropicSuggester{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
	}
	s.baseSuggester = newBaseSuggester("anthropic", cfg.Model, s.complete, logger)
	return s, nil
}

var _ Suggester = (*AnthropicSuggester)(nil)

func (s *AnthropicSuggester) complete(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	temperature := s.temperature
	resp, err := s.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(s.model),
		System:      system,
		MaxTokens:   s.maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return "", err
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			s.logger.Debug("Message finished",
				zap.Int("input_tokens", resp.Usage.InputTokens),
				zap.Int("output_tokens", resp.Usage.OutputTokens),
				zap.Duration("elapsed", time.Since(start)))
			return *block.Text, nil
		}
	}
	return "", NewError(ErrorTypeResponse, "no text content in response", false, nil)
}
