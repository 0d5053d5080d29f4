package logsource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/logging"
	"github.com/ekaya-inc/querysight/pkg/retry"
)

// SourceInfo describes a registered adapter.
type SourceInfo struct {
	Type        string `json:"type"`         // "file", "postgres", "mssql"
	DisplayName string `json:"display_name"` // "PostgreSQL pg_stat_statements"
	Description string `json:"description"`
}

// Factory builds an unconnected-or-connected source from configuration.
type Factory func(ctx context.Context, cfg *config.SourceConfig, logger *zap.Logger) (Source, error)

// Registration contains info + factory for creating a source.
type Registration struct {
	Info    SourceInfo
	Factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredSources returns info for all registered adapters, sorted by type.
func RegisteredSources() []SourceInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]SourceInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(sourceType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[sourceType]
	return ok
}

// Open builds the configured source and verifies it is reachable, retrying
// transient failures. Any final failure wraps apperrors.ErrSourceUnavailable.
func Open(ctx context.Context, cfg *config.SourceConfig, retryCfg *retry.Config, logger *zap.Logger) (Source, error) {
	registryMu.RLock()
	reg, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("log source type %q is not registered: %w", cfg.Type, apperrors.ErrSourceUnavailable)
	}

	logger = logger.Named("logsource")
	attempt := 0
	src, err := retry.DoIfRetryableWithResult(ctx, retryCfg, func() (Source, error) {
		attempt++
		s, err := reg.Factory(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := s.TestConnection(ctx); err != nil {
			_ = s.Close()
			logger.Warn("Log source connection test failed",
				zap.String("type", cfg.Type),
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s log source: %v: %w", cfg.Type, logging.SanitizeError(err), apperrors.ErrSourceUnavailable)
	}

	logger.Info("Log source ready", zap.String("type", cfg.Type), zap.String("fingerprint", src.Fingerprint()))
	return src, nil
}
