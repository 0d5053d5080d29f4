package models

import (
	"math"
	"time"
)

// QueryPattern groups structurally-equivalent query records.
// PatternID is a pure function of the normalized skeleton; statistics only accumulate.
type QueryPattern struct {
	PatternID          string    `json:"pattern_id"`
	NormalizedSQL      string    `json:"normalized_sql"`
	Kind               QueryKind `json:"kind"`
	Count              int64     `json:"count"`
	RecordCount        int64     `json:"record_count"`
	TotalDurationMs    float64   `json:"total_duration_ms"`
	AvgDurationMs      float64   `json:"avg_duration_ms"`
	TotalMemoryBytes   int64     `json:"total_memory_bytes"`
	AvgMemoryBytes     float64   `json:"avg_memory_bytes"`
	TotalReadRows      int64     `json:"total_read_rows"`
	TotalReadBytes     int64     `json:"total_read_bytes"`
	Tables             []string  `json:"tables"`
	Users              []string  `json:"users"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	SuspiciousLiterals int64     `json:"suspicious_literals,omitempty"`
}

// ComplexityScore ranks a pattern for optimization on a 0..1 scale.
// Weights: 40% average duration (capped at 1s), 40% frequency (capped at 100),
// 20% table fan-out (capped at 5).
func (p *QueryPattern) ComplexityScore() float64 {
	durationScore := math.Min(p.AvgDurationMs/1000.0, 1.0)
	frequencyScore := math.Min(float64(p.Count)/100.0, 1.0)
	tableScore := math.Min(float64(len(p.Tables))/5.0, 1.0)
	return 0.4*durationScore + 0.4*frequencyScore + 0.2*tableScore
}

// DurationBucket classifies the average duration: slow (>1s), medium (>=100ms), fast.
func (p *QueryPattern) DurationBucket() string {
	switch {
	case p.AvgDurationMs > 1000:
		return "slow"
	case p.AvgDurationMs >= 100:
		return "medium"
	default:
		return "fast"
	}
}

// PatternAnalysis is the output of the pattern-analysis stage.
type PatternAnalysis struct {
	Patterns           []QueryPattern   `json:"patterns"`
	RecordsProcessed   int64            `json:"records_processed"`
	UnparseableRecords int64            `json:"unparseable_records"`
	SkipReasons        map[string]int64 `json:"skip_reasons,omitempty"`
	MinFrequency       int64            `json:"min_frequency"`
}

// Pattern returns the pattern with the given id, or nil.
func (a *PatternAnalysis) Pattern(id string) *QueryPattern {
	for i := range a.Patterns {
		if a.Patterns[i].PatternID == id {
			return &a.Patterns[i]
		}
	}
	return nil
}
