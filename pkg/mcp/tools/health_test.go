package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
)

func TestRegisterHealthTool(t *testing.T) {
	s := newTestServer()
	RegisterHealthTool(s, "test-version", cache.NewMemory(zap.NewNop()))

	assert.Contains(t, listTools(t, s), "health")
}

func TestHealthTool_Execute(t *testing.T) {
	s := newTestServer()
	c := cache.NewMemory(zap.NewNop())
	c.Disable()
	RegisterHealthTool(s, "1.2.3", c)

	health := decode[healthResult](t, callTool(t, s, "health", nil))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.False(t, health.CacheEnabled)
	assert.Equal(t, cache.BackendMemory, health.CacheBackend)
}

func TestHealthTool_VersionWithSpecialChars(t *testing.T) {
	s := newTestServer()
	versionWithQuotes := `1.0.0-beta"test`
	RegisterHealthTool(s, versionWithQuotes, cache.NewMemory(zap.NewNop()))

	health := decode[healthResult](t, callTool(t, s, "health", nil))
	assert.Equal(t, versionWithQuotes, health.Version)
}
