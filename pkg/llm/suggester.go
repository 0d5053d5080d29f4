// Package llm generates optimization suggestions for query patterns with an
// OpenAI-compatible or Anthropic model.
package llm

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/jsonutil"
	"github.com/ekaya-inc/querysight/pkg/logging"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/prompts"
	"github.com/ekaya-inc/querysight/pkg/retry"
)

// SuggestionRequest carries the ranked candidates sent to the provider.
type SuggestionRequest struct {
	Candidates []models.PatternRow
	Coverage   *models.CoverageSummary
}

// Suggester turns candidate patterns into optimization suggestions.
type Suggester interface {
	Suggest(ctx context.Context, req *SuggestionRequest) ([]models.Suggestion, error)

	// Identity names the provider and model; it is part of the suggestion cache key.
	Identity() string
}

// completeFunc sends one system/user prompt pair and returns the text reply.
type completeFunc func(ctx context.Context, system, prompt string) (string, error)

// baseSuggester holds what every provider shares: prompt rendering, the circuit
// breaker, retries and response parsing.
type baseSuggester struct {
	provider string
	model    string
	complete completeFunc
	breaker  *CircuitBreaker
	retryCfg *retry.Config
	logger   *zap.Logger
}

func newBaseSuggester(provider, model string, complete completeFunc, logger *zap.Logger) *baseSuggester {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = 10 * time.Second
	return &baseSuggester{
		provider: provider,
		model:    model,
		complete: complete,
		breaker:  NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		retryCfg: cfg,
		logger:   logger.Named("llm").With(zap.String("provider", provider), zap.String("model", model)),
	}
}

func (s *baseSuggester) Identity() string {
	return s.provider + ":" + s.model
}

func (s *baseSuggester) Suggest(ctx context.Context, req *SuggestionRequest) ([]models.Suggestion, error) {
	if len(req.Candidates) == 0 {
		return []models.Suggestion{}, nil
	}
	if ok, err := s.breaker.Allow(); !ok {
		return nil, &Error{Type: ErrorTypeEndpoint, Message: "provider unavailable", Cause: err, Provider: s.provider, Model: s.model}
	}

	prompt := prompts.BuildSuggestionPrompt(req.Candidates, req.Coverage)
	s.logger.Debug("Requesting suggestions",
		zap.Int("candidates", len(req.Candidates)),
		zap.Int("prompt_len", len(prompt)))

	text, err := retry.DoIfRetryableWithResult(ctx, s.retryCfg, func() (string, error) {
		out, err := s.complete(ctx, prompts.SuggestionSystem, prompt)
		if err != nil {
			classified := ClassifyError(err)
			classified.Provider, classified.Model = s.provider, s.model
			return "", classified
		}
		return out, nil
	})
	if err != nil {
		if ctx.Err() == nil {
			s.breaker.RecordFailure()
		}
		s.logger.Error("Suggestion request failed", zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	s.breaker.RecordSuccess()

	suggestions, err := parseSuggestions(text, req.Candidates)
	if err != nil {
		s.logger.Warn("Unusable suggestion response",
			zap.String("response", logging.TruncateString(text, 500)),
			zap.Error(err))
		return nil, &Error{Type: ErrorTypeResponse, Message: "unusable response", Cause: err, Provider: s.provider, Model: s.model}
	}
	s.logger.Info("Suggestions generated", zap.Int("count", len(suggestions)))
	return suggestions, nil
}

// rawSuggestion tolerates providers that return ids or impacts as numbers or
// booleans instead of strings.
type rawSuggestion struct {
	Type         json.RawMessage   `json:"type"`
	Title        json.RawMessage   `json:"title"`
	Description  json.RawMessage   `json:"description"`
	Impact       json.RawMessage   `json:"impact"`
	SuggestedSQL json.RawMessage   `json:"suggested_sql"`
	PatternIDs   []json.RawMessage `json:"pattern_ids"`
	Models       []json.RawMessage `json:"models"`
}

func (r rawSuggestion) suggestion() models.Suggestion {
	return models.Suggestion{
		Type:         jsonutil.FlexibleStringValue(r.Type),
		Title:        jsonutil.FlexibleStringValue(r.Title),
		Description:  jsonutil.FlexibleStringValue(r.Description),
		Impact:       models.SuggestionImpact(jsonutil.FlexibleStringValue(r.Impact)),
		SuggestedSQL: jsonutil.FlexibleStringValue(r.SuggestedSQL),
		PatternIDs:   jsonutil.FlexibleStrings(r.PatternIDs),
		Models:       jsonutil.FlexibleStrings(r.Models),
	}
}

type suggestionResponse struct {
	Suggestions []rawSuggestion `json:"suggestions"`
}

// parseSuggestions decodes the provider reply, drops suggestions without a title
// and removes pattern ids and models that were not part of the request.
func parseSuggestions(text string, candidates []models.PatternRow) ([]models.Suggestion, error) {
	resp, err := ParseJSONResponse[suggestionResponse](text)
	if err != nil {
		return nil, err
	}

	knownPatterns := make(map[string]bool, len(candidates))
	knownModels := make(map[string]bool)
	for _, c := range candidates {
		knownPatterns[c.Pattern.PatternID] = true
		if c.Mapping != nil {
			for _, m := range c.Mapping.Models {
				knownModels[m] = true
			}
		}
	}

	out := make([]models.Suggestion, 0, len(resp.Suggestions))
	for _, raw := range resp.Suggestions {
		s := raw.suggestion()
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		switch models.SuggestionImpact(strings.ToLower(string(s.Impact))) {
		case models.SuggestionImpactHigh, models.SuggestionImpactMedium, models.SuggestionImpactLow:
			s.Impact = models.SuggestionImpact(strings.ToLower(string(s.Impact)))
		default:
			s.Impact = models.SuggestionImpactMedium
		}
		s.PatternIDs = slices.DeleteFunc(s.PatternIDs, func(id string) bool { return !knownPatterns[id] })
		s.Models = slices.DeleteFunc(s.Models, func(m string) bool { return !knownModels[m] })
		out = append(out, s)
	}
	return out, nil
}
