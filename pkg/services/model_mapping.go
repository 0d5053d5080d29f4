package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/metrics"
	"github.com/ekaya-inc/querysight/pkg/modelgraph"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/workerpool"
)

const (
	criticalImpactThreshold = 3
	topModelsLimit          = 5
)

// ModelMappingService attributes query patterns to the models of a project.
type ModelMappingService interface {
	// Map resolves every pattern's tables against graph and computes coverage.
	Map(ctx context.Context, analysis *models.PatternAnalysis, graph *modelgraph.Graph) (*models.ModelIntegration, error)

	// InferPlurals reports whether singular/plural table matching is enabled.
	InferPlurals() bool
}

type modelMappingService struct {
	pool         *workerpool.Pool
	inferPlurals bool
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewModelMappingService(pool *workerpool.Pool, inferPlurals bool, m *metrics.Metrics, logger *zap.Logger) ModelMappingService {
	return &modelMappingService{
		pool:         pool,
		inferPlurals: inferPlurals,
		metrics:      m,
		logger:       logger.Named("model-mapping"),
	}
}

var _ ModelMappingService = (*modelMappingService)(nil)

func (s *modelMappingService) InferPlurals() bool {
	return s.inferPlurals
}

// relationIndex answers table lookups at each confidence level. It is built once
// per Map call and only read by the workers.
type relationIndex struct {
	exact      map[string][]string
	normalized map[string][]string
	sources    map[string]string
	singular   map[string][]string
	graph      *modelgraph.Graph
}

func newRelationIndex(graph *modelgraph.Graph, inferPlurals bool) *relationIndex {
	idx := &relationIndex{
		exact:      make(map[string][]string),
		normalized: make(map[string][]string),
		sources:    make(map[string]string),
		graph:      graph,
	}
	if inferPlurals {
		idx.singular = make(map[string][]string)
	}

	for _, node := range graph.Nodes() {
		for _, rel := range node.Relations() {
			idx.exact[rel] = appendUnique(idx.exact[rel], node.Name)
			norm := normalizeIdentifier(rel)
			idx.normalized[norm] = appendUnique(idx.normalized[norm], node.Name)
		}
		if idx.singular != nil {
			key := inflection.Singular(normalizeIdentifier(node.RelationName()))
			idx.singular[key] = appendUnique(idx.singular[key], node.Name)
		}
	}
	for _, src := range graph.Sources() {
		for _, rel := range src.Relations() {
			idx.sources[normalizeIdentifier(rel)] = src.Name
		}
	}
	return idx
}

// resolve returns the models a table maps to, the basis, and the source name when
// the table is a declared source.
func (idx *relationIndex) resolve(table string) ([]string, models.MappingBasis, string) {
	if names := idx.exact[table]; len(names) > 0 {
		return names, ambiguous(names, models.MappingBasisExact), ""
	}

	norm := normalizeIdentifier(table)
	if names := idx.normalized[norm]; len(names) > 0 {
		return names, ambiguous(names, models.MappingBasisNormalized), ""
	}

	if src, ok := idx.sources[norm]; ok {
		if consumers := idx.graph.SourceConsumers(src); len(consumers) > 0 {
			return consumers, models.MappingBasisInferred, src
		}
		return nil, models.MappingBasisUnmapped, src
	}

	if idx.singular != nil {
		last := norm
		if i := strings.LastIndex(norm, "."); i >= 0 {
			last = norm[i+1:]
		}
		if names := idx.singular[inflection.Singular(last)]; len(names) > 0 {
			return names, models.MappingBasisInferred, ""
		}
	}
	return nil, models.MappingBasisUnmapped, ""
}

// ambiguous downgrades a match with several candidate models to inferred.
func ambiguous(names []string, basis models.MappingBasis) models.MappingBasis {
	if len(names) > 1 {
		return models.MappingBasisInferred
	}
	return basis
}

type patternMapping struct {
	mapping models.PatternModelMapping
	sources []string
}

func (idx *relationIndex) mapPattern(p *models.QueryPattern) patternMapping {
	out := patternMapping{mapping: models.PatternModelMapping{
		PatternID: p.PatternID,
		Models:    []string{},
		Basis:     models.MappingBasisExact,
	}}
	modelSet := make(map[string]struct{})

	for _, table := range p.Tables {
		names, basis, src := idx.resolve(table)
		if src != "" {
			out.sources = append(out.sources, src)
		}
		if basis == models.MappingBasisUnmapped {
			out.mapping.UnmappedTables = append(out.mapping.UnmappedTables, table)
			continue
		}
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		out.mapping.Tables = append(out.mapping.Tables, models.TableMatch{Table: table, Models: sorted, Basis: basis})
		out.mapping.Basis = out.mapping.Basis.Weaker(basis)
		for _, n := range names {
			modelSet[n] = struct{}{}
		}
	}

	if len(modelSet) == 0 {
		out.mapping.Basis = models.MappingBasisUnmapped
		return out
	}
	out.mapping.Models = sortedKeys(modelSet)
	return out
}

func (s *modelMappingService) Map(ctx context.Context, analysis *models.PatternAnalysis, graph *modelgraph.Graph) (*models.ModelIntegration, error) {
	idx := newRelationIndex(graph, s.inferPlurals)

	items := make([]workerpool.WorkItem[patternMapping], 0, len(analysis.Patterns))
	for i := range analysis.Patterns {
		p := &analysis.Patterns[i]
		items = append(items, workerpool.WorkItem[patternMapping]{
			ID: p.PatternID,
			Execute: func(ctx context.Context) (patternMapping, error) {
				if err := ctx.Err(); err != nil {
					return patternMapping{}, err
				}
				return idx.mapPattern(p), nil
			},
		})
	}

	results := workerpool.Process(ctx, s.pool, items, nil)
	if err := workerpool.FirstError(results); err != nil {
		return nil, fmt.Errorf("map patterns: %w", err)
	}

	byID := make(map[string]patternMapping, len(results))
	for _, r := range results {
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("pattern %s mapped twice", r.ID)
		}
		byID[r.ID] = r.Result
	}

	integration := &models.ModelIntegration{
		Mappings:         make([]models.PatternModelMapping, 0, len(byID)),
		GraphFingerprint: graph.Fingerprint(),
	}
	sourceRefs := make(map[string]struct{})
	for _, p := range analysis.Patterns {
		pm := byID[p.PatternID]
		integration.Mappings = append(integration.Mappings, pm.mapping)
		for _, src := range pm.sources {
			sourceRefs[src] = struct{}{}
		}
	}

	integration.Coverage = computeCoverage(analysis, integration.Mappings, graph)
	integration.Coverage.SourceReferences = sortedKeys(sourceRefs)

	s.metrics.Coverage(integration.Coverage.Coverage)
	s.logger.Info("Model mapping complete",
		zap.Int("patterns", integration.Coverage.TotalPatterns),
		zap.Int("mapped", integration.Coverage.MappedPatterns),
		zap.Float64("coverage", integration.Coverage.Coverage),
		zap.Int("models", graph.Len()))
	return integration, nil
}

func computeCoverage(analysis *models.PatternAnalysis, mappings []models.PatternModelMapping, graph *modelgraph.Graph) models.CoverageSummary {
	summary := models.CoverageSummary{
		TotalPatterns:      len(mappings),
		UnparseableRecords: analysis.UnparseableRecords,
		ByBasis:            make(map[models.MappingBasis]int),
	}

	used := make(map[string]struct{})
	uncovered := make(map[string]struct{})
	patternsUsing := make(map[string]int)
	for i := range mappings {
		m := &mappings[i]
		summary.ByBasis[m.Basis]++
		if m.IsMapped() {
			summary.MappedPatterns++
		} else {
			summary.UnmappedPatterns++
		}
		for _, name := range m.Models {
			used[name] = struct{}{}
			patternsUsing[name]++
		}
		for _, t := range m.UnmappedTables {
			uncovered[t] = struct{}{}
		}
	}
	if summary.TotalPatterns > 0 {
		summary.Coverage = float64(summary.MappedPatterns) / float64(summary.TotalPatterns)
	}

	summary.UsedModels = sortedKeys(used)
	for _, name := range graph.Names() {
		if _, ok := used[name]; !ok {
			summary.UnusedModels = append(summary.UnusedModels, name)
		}
	}
	summary.UncoveredTables = sortedKeys(uncovered)
	summary.Dependency = dependencyMetrics(graph, patternsUsing)
	return summary
}

func dependencyMetrics(graph *modelgraph.Graph, patternsUsing map[string]int) models.DependencyMetrics {
	dm := models.DependencyMetrics{MaxDepth: graph.MaxDepth()}
	names := graph.Names()
	if len(names) == 0 {
		return dm
	}

	totalDepth := 0
	for _, name := range names {
		depth, _ := graph.Depth(name)
		totalDepth += depth

		descendants, _ := graph.Descendants(name)
		impact := len(descendants) + patternsUsing[name]
		if impact > criticalImpactThreshold {
			dm.CriticalModels = append(dm.CriticalModels, models.ModelImpact{
				Model:         name,
				Descendants:   len(descendants),
				PatternsUsing: patternsUsing[name],
				ImpactScore:   impact,
			})
		}

		up, down := len(graph.Parents(name)), len(graph.Children(name))
		if up > 1 && down > 1 {
			dm.BottleneckModels = append(dm.BottleneckModels, models.BottleneckModel{
				Model:      name,
				Upstream:   up,
				Downstream: down,
			})
		}
	}
	dm.AvgDepth = float64(totalDepth) / float64(len(names))

	sort.SliceStable(dm.CriticalModels, func(i, j int) bool {
		return dm.CriticalModels[i].ImpactScore > dm.CriticalModels[j].ImpactScore
	})
	if len(dm.CriticalModels) > topModelsLimit {
		dm.CriticalModels = dm.CriticalModels[:topModelsLimit]
	}

	sort.SliceStable(dm.BottleneckModels, func(i, j int) bool {
		a, b := dm.BottleneckModels[i], dm.BottleneckModels[j]
		return a.Upstream*a.Downstream > b.Upstream*b.Downstream
	})
	if len(dm.BottleneckModels) > topModelsLimit {
		dm.BottleneckModels = dm.BottleneckModels[:topModelsLimit]
	}
	return dm
}

// normalizeIdentifier lower-cases a possibly qualified name and strips identifier quotes.
func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.NewReplacer(`"`, "", "`", "", "[", "", "]", "").Replace(name))
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
