package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/models"
)

func TestNewRunState_NormalizesSets(t *testing.T) {
	a := NewRunState(
		models.CollectionFilter{IncludeUsers: []string{"bob", "alice", "bob"}, QueryKinds: []models.QueryKind{models.QueryKindSelect, models.QueryKindInsert}},
		models.PatternFilter{Models: []string{"orders", "customers"}},
	)
	b := NewRunState(
		models.CollectionFilter{IncludeUsers: []string{"alice", "bob"}, QueryKinds: []models.QueryKind{models.QueryKindInsert, models.QueryKindSelect}},
		models.PatternFilter{Models: []string{"customers", "orders"}},
	)

	assert.Equal(t, []string{"alice", "bob"}, a.Filter.IncludeUsers)
	assert.Equal(t, models.QueryFocusAll, a.Filter.Focus)
	assert.Equal(t, a.Filter, b.Filter)
	assert.Equal(t, a.PatternFilter, b.PatternFilter)
	assert.NotNil(t, a.Results)
}

func TestBaseNode_ReportProgress(t *testing.T) {
	node := NewBaseNode(models.StagePatternAnalysis, cache.NewMemory(zap.NewNop()), zap.NewNop())
	state := NewRunState(models.CollectionFilter{}, models.PatternFilter{})

	node.ReportProgress(state, "no callback set")

	var got []string
	state.OnProgress = func(stage models.Stage, message string) {
		assert.Equal(t, models.StagePatternAnalysis, stage)
		got = append(got, message)
	}
	node.ReportProgress(state, "halfway")
	assert.Equal(t, []string{"halfway"}, got)
	assert.Equal(t, models.StagePatternAnalysis, node.Stage())
}

func TestCachedStage(t *testing.T) {
	c := cache.NewMemory(zap.NewNop())
	node := NewBaseNode(models.StageCollection, c, zap.NewNop())
	key, err := cache.NewKeyBuilder(models.StageCollection).Input("source", "file:test").Build()
	require.NoError(t, err)

	calls := 0
	compute := func(ctx context.Context) (*models.QueryCollection, error) {
		calls++
		return &models.QueryCollection{SourceType: "file", Records: []models.QueryRecord{{QueryID: "q1", Query: "SELECT 1"}}}, nil
	}

	first := NewRunState(models.CollectionFilter{}, models.PatternFilter{})
	v1, err := cachedStage(context.Background(), node, first, key, compute)
	require.NoError(t, err)
	r1, ok := first.Result(models.StageCollection)
	require.True(t, ok)
	assert.False(t, r1.Cached)
	assert.Equal(t, key, r1.Key)

	second := NewRunState(models.CollectionFilter{}, models.PatternFilter{})
	v2, err := cachedStage(context.Background(), node, second, key, compute)
	require.NoError(t, err)
	r2, _ := second.Result(models.StageCollection)
	assert.True(t, r2.Cached)

	assert.Equal(t, 1, calls)
	assert.Equal(t, v1.Records, v2.Records)
	assert.Equal(t, r1.Fingerprint, r2.Fingerprint, "decoded value fingerprints like the original")
}

func TestCachedStage_ErrorIsNotStored(t *testing.T) {
	c := cache.NewMemory(zap.NewNop())
	node := NewBaseNode(models.StageCollection, c, zap.NewNop())
	key, err := cache.NewKeyBuilder(models.StageCollection).Input("source", "file:test").Build()
	require.NoError(t, err)

	state := NewRunState(models.CollectionFilter{}, models.PatternFilter{})
	_, err = cachedStage(context.Background(), node, state, key, func(ctx context.Context) (*models.QueryCollection, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
	_, ok = state.Result(models.StageCollection)
	assert.False(t, ok)
}
