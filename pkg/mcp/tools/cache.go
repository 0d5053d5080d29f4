package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// CacheToolDeps contains dependencies for the cache control tools.
type CacheToolDeps struct {
	Cache  *cache.Cache
	Logger *zap.Logger
}

func categoryNames() []string {
	var names []string
	for _, c := range models.AllCacheCategories() {
		names = append(names, string(c))
	}
	return names
}

// RegisterCacheTools registers cache_status, cache_invalidate, cache_set_ttl and cache_toggle.
func RegisterCacheTools(s *server.MCPServer, deps *CacheToolDeps) {
	registerCacheStatusTool(s, deps)
	registerCacheInvalidateTool(s, deps)
	registerCacheSetTTLTool(s, deps)
	registerCacheToggleTool(s, deps)
}

func registerCacheStatusTool(s *server.MCPServer, deps *CacheToolDeps) {
	tool := mcp.NewTool(
		"cache_status",
		mcp.WithDescription("Report whether the stage cache is enabled, its backend, and per category the TTL, entry count and hit/miss counters"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := deps.Cache.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read cache status: %w", err)
		}
		return jsonResult(status)
	})
}

type invalidateResult struct {
	Removed int    `json:"removed"`
	Scope   string `json:"scope"`
}

func registerCacheInvalidateTool(s *server.MCPServer, deps *CacheToolDeps) {
	tool := mcp.NewTool(
		"cache_invalidate",
		mcp.WithDescription(
			"Remove cached stage outputs. Pass exactly one of: 'key' (a full cache key), "+
				"'category' (clears the category and every category derived from it), "+
				"or 'category' with 'prefix' (entries whose lineage root starts with prefix). "+
				"Pass 'all': true to clear everything. Downstream entries are always removed with their inputs.",
		),
		mcp.WithString("key", mcp.Description("Full cache key, e.g. querysight:v1:patterns:<root>:<digest>")),
		mcp.WithString("category", mcp.Description("Cache category"), mcp.Enum(categoryNames()...)),
		mcp.WithString("prefix", mcp.Description("Lineage root prefix within category")),
		mcp.WithBoolean("all", mcp.Description("Clear every category")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key := getOptionalString(req, "key")
		categoryName := getOptionalString(req, "category")
		prefix := getOptionalString(req, "prefix")
		all := getOptionalBool(req, "all", false)

		modes := 0
		for _, set := range []bool{key != "", categoryName != "", all} {
			if set {
				modes++
			}
		}
		if modes != 1 {
			return NewErrorResult(CodeInvalidArgument, "pass exactly one of key, category or all"), nil
		}
		if prefix != "" && categoryName == "" {
			return NewErrorResult(CodeInvalidArgument, "prefix requires category"), nil
		}

		var (
			n     int
			err   error
			scope string
		)
		switch {
		case all:
			scope = "all"
			n, err = deps.Cache.Clear(ctx)
		case key != "":
			parsed, parseErr := cache.ParseKey(key)
			if parseErr != nil {
				return NewErrorResult(CodeInvalidArgument, parseErr.Error()), nil
			}
			scope = "key"
			n, err = deps.Cache.Invalidate(ctx, parsed)
		default:
			category, parseErr := models.ParseCacheCategory(categoryName)
			if parseErr != nil {
				return NewErrorResultWithDetails(CodeInvalidArgument, parseErr.Error(),
					map[string]any{"valid_categories": categoryNames()}), nil
			}
			if prefix != "" {
				scope = "prefix"
				n, err = deps.Cache.InvalidatePrefix(ctx, category, prefix)
			} else {
				scope = "category"
				n, err = deps.Cache.InvalidateCategory(ctx, category)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("cache invalidation failed: %w", err)
		}

		deps.Logger.Info("Cache invalidated via MCP", zap.String("scope", scope), zap.Int("removed", n))
		return jsonResult(invalidateResult{Removed: n, Scope: scope})
	})
}

type ttlResult struct {
	Category models.CacheCategory `json:"category"`
	TTL      string               `json:"ttl"`
}

func registerCacheSetTTLTool(s *server.MCPServer, deps *CacheToolDeps) {
	tool := mcp.NewTool(
		"cache_set_ttl",
		mcp.WithDescription("Change the time-to-live of a cache category. The new TTL also applies to entries already stored."),
		mcp.WithString("category", mcp.Required(), mcp.Description("Cache category"), mcp.Enum(categoryNames()...)),
		mcp.WithString("ttl", mcp.Required(), mcp.Description("Duration such as '90m', '6h' or '168h'")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		categoryName, err := req.RequireString("category")
		if err != nil {
			return NewErrorResult(CodeInvalidArgument, err.Error()), nil
		}
		category, err := models.ParseCacheCategory(trimString(categoryName))
		if err != nil {
			return NewErrorResultWithDetails(CodeInvalidArgument, err.Error(),
				map[string]any{"valid_categories": categoryNames()}), nil
		}
		ttlText, err := req.RequireString("ttl")
		if err != nil {
			return NewErrorResult(CodeInvalidArgument, err.Error()), nil
		}
		ttl, err := time.ParseDuration(trimString(ttlText))
		if err != nil {
			return NewErrorResult(CodeInvalidArgument, fmt.Sprintf("invalid ttl %q: %v", ttlText, err)), nil
		}
		if err := deps.Cache.SetTTL(category, ttl); err != nil {
			if res := NewResultForError(err); res != nil {
				return res, nil
			}
			return nil, err
		}
		return jsonResult(ttlResult{Category: category, TTL: deps.Cache.TTL(category).String()})
	})
}

type toggleResult struct {
	Enabled bool `json:"enabled"`
}

func registerCacheToggleTool(s *server.MCPServer, deps *CacheToolDeps) {
	tool := mcp.NewTool(
		"cache_toggle",
		mcp.WithDescription("Enable or disable the stage cache. While disabled every stage is recomputed and nothing is stored."),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("true to enable, false to disable")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		enabled, ok := arguments(req)["enabled"].(bool)
		if !ok {
			return NewErrorResult(CodeInvalidArgument, "enabled must be a boolean"), nil
		}
		if enabled {
			deps.Cache.Enable()
		} else {
			deps.Cache.Disable()
		}
		return jsonResult(toggleResult{Enabled: deps.Cache.Enabled()})
	})
}
