package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/modelgraph"
	"github.com/ekaya-inc/querysight/pkg/models"
)

func mappingTestGraph(t *testing.T) *modelgraph.Graph {
	t.Helper()
	g, err := modelgraph.New(
		[]models.ModelNode{
			{Name: "stg_orders", Schema: "analytics", Sources: []string{"shop.orders"}},
			{Name: "customer", Schema: "analytics"},
			{Name: "fct_orders", Alias: "orders_fact", Schema: "analytics", DependsOn: []string{"stg_orders", "customer"}},
			{Name: "dim_a", Alias: "shared", Schema: "s1"},
			{Name: "dim_b", Alias: "shared", Schema: "s2"},
			{Name: "unused_model", Schema: "analytics"},
		},
		[]models.SourceNode{
			{Name: "shop.orders", Identifier: "raw_orders", Schema: "shop"},
		},
	)
	require.NoError(t, err)
	return g
}

func mappingTestAnalysis() *models.PatternAnalysis {
	return &models.PatternAnalysis{
		UnparseableRecords: 3,
		Patterns: []models.QueryPattern{
			{PatternID: "p_exact", Tables: []string{"analytics.stg_orders"}},
			{PatternID: "p_normalized", Tables: []string{`"Analytics"."Orders_Fact"`}},
			{PatternID: "p_source", Tables: []string{"shop.raw_orders"}},
			{PatternID: "p_plural", Tables: []string{"customers"}},
			{PatternID: "p_ambiguous", Tables: []string{"shared"}},
			{PatternID: "p_unmapped", Tables: []string{"external.events"}},
			{PatternID: "p_mixed", Tables: []string{"analytics.stg_orders", "external.events"}},
		},
	}
}

func TestModelMappingService_Map(t *testing.T) {
	graph := mappingTestGraph(t)
	svc := NewModelMappingService(newTestPool(3), true, nil, zap.NewNop())

	got, err := svc.Map(context.Background(), mappingTestAnalysis(), graph)
	require.NoError(t, err)
	assert.Equal(t, graph.Fingerprint(), got.GraphFingerprint)
	require.Len(t, got.Mappings, 7)

	tests := []struct {
		pattern  string
		models   []string
		basis    models.MappingBasis
		unmapped []string
	}{
		{"p_exact", []string{"stg_orders"}, models.MappingBasisExact, nil},
		{"p_normalized", []string{"fct_orders"}, models.MappingBasisNormalized, nil},
		{"p_source", []string{"stg_orders"}, models.MappingBasisInferred, nil},
		{"p_plural", []string{"customer"}, models.MappingBasisInferred, nil},
		{"p_ambiguous", []string{"dim_a", "dim_b"}, models.MappingBasisInferred, nil},
		{"p_unmapped", []string{}, models.MappingBasisUnmapped, []string{"external.events"}},
		{"p_mixed", []string{"stg_orders"}, models.MappingBasisExact, []string{"external.events"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			m := got.Mapping(tt.pattern)
			require.NotNil(t, m)
			assert.Equal(t, tt.models, m.Models)
			assert.Equal(t, tt.basis, m.Basis)
			assert.Equal(t, tt.unmapped, m.UnmappedTables)
		})
	}

	cov := got.Coverage
	assert.Equal(t, 7, cov.TotalPatterns)
	assert.Equal(t, 6, cov.MappedPatterns)
	assert.Equal(t, 1, cov.UnmappedPatterns)
	assert.Equal(t, int64(3), cov.UnparseableRecords)
	assert.InDelta(t, 6.0/7.0, cov.Coverage, 0.0001)
	assert.Equal(t, map[models.MappingBasis]int{
		models.MappingBasisExact:      2,
		models.MappingBasisNormalized: 1,
		models.MappingBasisInferred:   3,
		models.MappingBasisUnmapped:   1,
	}, cov.ByBasis)
	assert.Equal(t, []string{"customer", "dim_a", "dim_b", "fct_orders", "stg_orders"}, cov.UsedModels)
	assert.Equal(t, []string{"unused_model"}, cov.UnusedModels)
	assert.Equal(t, []string{"external.events"}, cov.UncoveredTables)
	assert.Equal(t, []string{"shop.orders"}, cov.SourceReferences)
}

func TestModelMappingService_PluralInferenceDisabled(t *testing.T) {
	svc := NewModelMappingService(newTestPool(1), false, nil, zap.NewNop())
	assert.False(t, svc.InferPlurals())

	got, err := svc.Map(context.Background(), mappingTestAnalysis(), mappingTestGraph(t))
	require.NoError(t, err)

	m := got.Mapping("p_plural")
	require.NotNil(t, m)
	assert.Equal(t, models.MappingBasisUnmapped, m.Basis)
	assert.Equal(t, 5, got.Coverage.MappedPatterns)
}

func TestModelMappingService_EmptyProject(t *testing.T) {
	graph, err := modelgraph.New(nil, nil)
	require.NoError(t, err)
	svc := NewModelMappingService(newTestPool(1), true, nil, zap.NewNop())

	got, err := svc.Map(context.Background(), mappingTestAnalysis(), graph)
	require.NoError(t, err)
	assert.Zero(t, got.Coverage.MappedPatterns)
	assert.Zero(t, got.Coverage.Coverage)
	assert.Empty(t, got.Coverage.UsedModels)
}

func TestDependencyMetrics(t *testing.T) {
	// a, b -> hub -> c, d
	graph, err := modelgraph.New([]models.ModelNode{
		{Name: "a"},
		{Name: "b"},
		{Name: "hub", DependsOn: []string{"a", "b"}},
		{Name: "c", DependsOn: []string{"hub"}},
		{Name: "d", DependsOn: []string{"hub"}},
	}, nil)
	require.NoError(t, err)

	dm := dependencyMetrics(graph, map[string]int{"a": 1, "hub": 5})

	assert.Equal(t, graph.MaxDepth(), dm.MaxDepth)
	require.Len(t, dm.CriticalModels, 2)
	assert.Equal(t, models.ModelImpact{Model: "hub", Descendants: 2, PatternsUsing: 5, ImpactScore: 7}, dm.CriticalModels[0])
	assert.Equal(t, models.ModelImpact{Model: "a", Descendants: 3, PatternsUsing: 1, ImpactScore: 4}, dm.CriticalModels[1])

	require.Len(t, dm.BottleneckModels, 1)
	assert.Equal(t, models.BottleneckModel{Model: "hub", Upstream: 2, Downstream: 2}, dm.BottleneckModels[0])
	assert.Greater(t, dm.AvgDepth, 0.0)
}

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "analytics.orders", normalizeIdentifier(`"Analytics"."ORDERS"`))
	assert.Equal(t, "db.dbo.orders", normalizeIdentifier("[db].[dbo].[Orders]"))
	assert.Equal(t, "orders", normalizeIdentifier("`orders`"))
}
