package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/config"
)

// NewSuggester builds the suggester named by cfg.Provider. An empty provider
// returns nil: the optimization stage then ranks candidates without suggestions.
func NewSuggester(cfg *config.LLMConfig, logger *zap.Logger) (Suggester, error) {
	providerCfg := &Config{
		Endpoint:    cfg.Endpoint,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		s, err := NewOpenAISuggester(providerCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai suggester: %w", err)
		}
		return s, nil
	case "anthropic":
		s, err := NewAnthropicSuggester(providerCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic suggester: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
