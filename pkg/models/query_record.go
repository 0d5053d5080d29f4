package models

import (
	"strings"
	"time"
)

// ============================================================================
// Query Kind
// ============================================================================

// QueryKind classifies a statement by its leading verb.
type QueryKind string

const (
	QueryKindSelect      QueryKind = "SELECT"
	QueryKindInsert      QueryKind = "INSERT"
	QueryKindUpdate      QueryKind = "UPDATE"
	QueryKindDelete      QueryKind = "DELETE"
	QueryKindCreate      QueryKind = "CREATE"
	QueryKindAlter       QueryKind = "ALTER"
	QueryKindDrop        QueryKind = "DROP"
	QueryKindShow        QueryKind = "SHOW"
	QueryKindOther       QueryKind = "OTHER"
	QueryKindUnparseable QueryKind = "UNPARSEABLE"
)

// ValidQueryKinds contains all valid query kind values.
var ValidQueryKinds = []QueryKind{
	QueryKindSelect,
	QueryKindInsert,
	QueryKindUpdate,
	QueryKindDelete,
	QueryKindCreate,
	QueryKindAlter,
	QueryKindDrop,
	QueryKindShow,
	QueryKindOther,
	QueryKindUnparseable,
}

// IsValid checks if the kind is one of the known values.
func (k QueryKind) IsValid() bool {
	for _, v := range ValidQueryKinds {
		if v == k {
			return true
		}
	}
	return false
}

// ParseQueryKind maps a source-reported kind (any case) to a QueryKind.
// Unknown values become OTHER.
func ParseQueryKind(s string) QueryKind {
	k := QueryKind(strings.ToUpper(strings.TrimSpace(s)))
	if k == "" || !k.IsValid() {
		return QueryKindOther
	}
	return k
}

// ============================================================================
// Query Record
// ============================================================================

// QueryRecord is one observed execution as reported by a log source.
// Records are immutable once ingested.
type QueryRecord struct {
	QueryID     string    `json:"query_id"`
	Query       string    `json:"query"`
	Kind        QueryKind `json:"kind"`
	User        string    `json:"user"`
	StartTime   time.Time `json:"start_time"`
	DurationMs  float64   `json:"duration_ms"`
	ReadRows    int64     `json:"read_rows"`
	ReadBytes   int64     `json:"read_bytes"`
	ResultRows  int64     `json:"result_rows"`
	MemoryBytes int64     `json:"memory_bytes"`
	Database    string    `json:"database,omitempty"`
	Tables      []string  `json:"tables,omitempty"`

	// Executions is the number of executions this record stands for. Pre-aggregated
	// sources (pg_stat_statements, Query Store) set it and report per-execution
	// averages in the metric fields; zero means 1.
	Executions int64 `json:"executions,omitempty"`
}

// Weight returns the execution count this record contributes to a pattern.
func (r *QueryRecord) Weight() int64 {
	if r.Executions <= 0 {
		return 1
	}
	return r.Executions
}

// QueryCollection is the output of the collection stage.
type QueryCollection struct {
	Records           []QueryRecord    `json:"records"`
	SourceType        string           `json:"source_type"`
	SourceFingerprint string           `json:"source_fingerprint"`
	Filter            CollectionFilter `json:"filter"`
	RecordsFetched    int64            `json:"records_fetched"`
	SkipReasons       map[string]int64 `json:"skip_reasons,omitempty"`
	CollectedAt       time.Time        `json:"collected_at"`
}

// Skipped returns the total number of records the collection dropped.
func (c *QueryCollection) Skipped() int64 {
	var n int64
	for _, v := range c.SkipReasons {
		n += v
	}
	return n
}
