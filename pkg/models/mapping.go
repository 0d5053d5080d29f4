package models

// ============================================================================
// Mapping Basis
// ============================================================================

// MappingBasis records how a pattern was attributed to models.
type MappingBasis string

const (
	MappingBasisExact      MappingBasis = "exact"
	MappingBasisNormalized MappingBasis = "normalized"
	MappingBasisInferred   MappingBasis = "inferred"
	MappingBasisUnmapped   MappingBasis = "unmapped"
)

// Confidence orders bases from strongest (3) to unmapped (0).
func (b MappingBasis) Confidence() int {
	switch b {
	case MappingBasisExact:
		return 3
	case MappingBasisNormalized:
		return 2
	case MappingBasisInferred:
		return 1
	default:
		return 0
	}
}

// Weaker returns the lower-confidence of the two bases.
func (b MappingBasis) Weaker(other MappingBasis) MappingBasis {
	if other.Confidence() < b.Confidence() {
		return other
	}
	return b
}

// ============================================================================
// Pattern to Model Mapping
// ============================================================================

// TableMatch is the resolution of a single referenced table.
type TableMatch struct {
	Table  string       `json:"table"`
	Models []string     `json:"models"`
	Basis  MappingBasis `json:"basis"`
}

// PatternModelMapping associates a pattern with the models it touches.
// Derived data: recomputed whenever the pattern set or model graph changes.
type PatternModelMapping struct {
	PatternID      string       `json:"pattern_id"`
	Models         []string     `json:"models"`
	Basis          MappingBasis `json:"basis"`
	Tables         []TableMatch `json:"tables,omitempty"`
	UnmappedTables []string     `json:"unmapped_tables,omitempty"`
}

// IsMapped reports whether the pattern resolved to at least one model.
func (m *PatternModelMapping) IsMapped() bool {
	return m.Basis != MappingBasisUnmapped && len(m.Models) > 0
}

// ============================================================================
// Coverage
// ============================================================================

// ModelImpact scores how much a model matters downstream.
type ModelImpact struct {
	Model         string `json:"model"`
	Descendants   int    `json:"descendants"`
	PatternsUsing int    `json:"patterns_using"`
	ImpactScore   int    `json:"impact_score"`
}

// BottleneckModel is a model with both several upstream and several downstream models.
type BottleneckModel struct {
	Model      string `json:"model"`
	Upstream   int    `json:"upstream"`
	Downstream int    `json:"downstream"`
}

// DependencyMetrics summarizes the shape of the model graph.
type DependencyMetrics struct {
	MaxDepth         int               `json:"max_depth"`
	AvgDepth         float64           `json:"avg_depth"`
	CriticalModels   []ModelImpact     `json:"critical_models,omitempty"`
	BottleneckModels []BottleneckModel `json:"bottleneck_models,omitempty"`
}

// CoverageSummary reports how many observed patterns were attributed to declared models.
type CoverageSummary struct {
	TotalPatterns      int                  `json:"total_patterns"`
	MappedPatterns     int                  `json:"mapped_patterns"`
	UnmappedPatterns   int                  `json:"unmapped_patterns"`
	UnparseableRecords int64                `json:"unparseable_records"`
	Coverage           float64              `json:"coverage"`
	ByBasis            map[MappingBasis]int `json:"by_basis"`
	UsedModels         []string             `json:"used_models,omitempty"`
	UnusedModels       []string             `json:"unused_models,omitempty"`
	UncoveredTables    []string             `json:"uncovered_tables,omitempty"`
	SourceReferences   []string             `json:"source_references,omitempty"`
	Dependency         DependencyMetrics    `json:"dependency"`
}

// ModelIntegration is the output of the model-integration stage.
type ModelIntegration struct {
	Mappings         []PatternModelMapping `json:"mappings"`
	Coverage         CoverageSummary       `json:"coverage"`
	GraphFingerprint string                `json:"graph_fingerprint"`
}

// Mapping returns the mapping for the given pattern id, or nil.
func (i *ModelIntegration) Mapping(patternID string) *PatternModelMapping {
	for idx := range i.Mappings {
		if i.Mappings[idx].PatternID == patternID {
			return &i.Mappings[idx]
		}
	}
	return nil
}
