package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/metrics"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/sql"
	"github.com/ekaya-inc/querysight/pkg/workerpool"
)

// PatternAnalysisService groups query records into fingerprinted patterns.
type PatternAnalysisService interface {
	// Analyze fingerprints every record and aggregates statistics per pattern.
	// Patterns executed fewer than minFrequency times are dropped.
	Analyze(ctx context.Context, records []models.QueryRecord, minFrequency int64) (*models.PatternAnalysis, error)
}

type patternAnalysisService struct {
	pool      *workerpool.Pool
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewPatternAnalysisService(pool *workerpool.Pool, batchSize int, m *metrics.Metrics, logger *zap.Logger) PatternAnalysisService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &patternAnalysisService{
		pool:      pool,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.Named("pattern-analysis"),
	}
}

var _ PatternAnalysisService = (*patternAnalysisService)(nil)

// patternAccumulator owns the running statistics of one pattern.
type patternAccumulator struct {
	mu      sync.Mutex
	pattern models.QueryPattern
	tables  map[string]struct{}
	users   map[string]struct{}
}

func newPatternAccumulator(fp *sql.Fingerprint) *patternAccumulator {
	return &patternAccumulator{
		pattern: models.QueryPattern{
			PatternID:     fp.PatternID,
			NormalizedSQL: fp.NormalizedSQL,
			Kind:          fp.Kind,
		},
		tables: make(map[string]struct{}),
		users:  make(map[string]struct{}),
	}
}

func (a *patternAccumulator) add(r *models.QueryRecord, fp *sql.Fingerprint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := r.Weight()
	p := &a.pattern
	p.Count += w
	p.RecordCount++
	p.TotalDurationMs += r.DurationMs * float64(w)
	p.TotalMemoryBytes += r.MemoryBytes * w
	p.TotalReadRows += r.ReadRows * w
	p.TotalReadBytes += r.ReadBytes * w
	p.SuspiciousLiterals += int64(fp.SuspiciousLiterals)

	for _, t := range fp.Tables {
		a.tables[t] = struct{}{}
	}
	if r.User != "" {
		a.users[r.User] = struct{}{}
	}
	if !r.StartTime.IsZero() {
		if p.FirstSeen.IsZero() || r.StartTime.Before(p.FirstSeen) {
			p.FirstSeen = r.StartTime
		}
		if r.StartTime.After(p.LastSeen) {
			p.LastSeen = r.StartTime
		}
	}
}

func (a *patternAccumulator) finish() models.QueryPattern {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pattern
	if p.Count > 0 {
		p.AvgDurationMs = p.TotalDurationMs / float64(p.Count)
		p.AvgMemoryBytes = float64(p.TotalMemoryBytes) / float64(p.Count)
	}
	p.Tables = sortedKeys(a.tables)
	p.Users = sortedKeys(a.users)
	return p
}

// patternIndex guards insertion into the accumulator map; each accumulator
// guards its own statistics.
type patternIndex struct {
	mu          sync.RWMutex
	byID        map[string]*patternAccumulator
	unparseable atomic.Int64
}

func (idx *patternIndex) accumulator(fp *sql.Fingerprint) *patternAccumulator {
	idx.mu.RLock()
	acc, ok := idx.byID[fp.PatternID]
	idx.mu.RUnlock()
	if ok {
		return acc
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if acc, ok := idx.byID[fp.PatternID]; ok {
		return acc
	}
	acc = newPatternAccumulator(fp)
	idx.byID[fp.PatternID] = acc
	return acc
}

func (s *patternAnalysisService) Analyze(ctx context.Context, records []models.QueryRecord, minFrequency int64) (*models.PatternAnalysis, error) {
	if minFrequency < 1 {
		minFrequency = 1
	}
	idx := &patternIndex{byID: make(map[string]*patternAccumulator)}

	var items []workerpool.WorkItem[int]
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		batch := records[start:end]
		items = append(items, workerpool.WorkItem[int]{
			ID: fmt.Sprintf("batch-%d", start/s.batchSize),
			Execute: func(ctx context.Context) (int, error) {
				return s.analyzeBatch(ctx, idx, batch)
			},
		})
	}

	results := workerpool.Process(ctx, s.pool, items, nil)
	if err := workerpool.FirstError(results); err != nil {
		return nil, fmt.Errorf("analyze patterns: %w", err)
	}

	analysis := &models.PatternAnalysis{
		Patterns:           []models.QueryPattern{},
		RecordsProcessed:   int64(len(records)),
		UnparseableRecords: idx.unparseable.Load(),
		SkipReasons:        make(map[string]int64),
		MinFrequency:       minFrequency,
	}
	if analysis.UnparseableRecords > 0 {
		analysis.SkipReasons[SkipReasonUnparseable] = analysis.UnparseableRecords
	}

	for _, acc := range idx.byID {
		p := acc.finish()
		if p.Count < minFrequency {
			analysis.SkipReasons[SkipReasonBelowMinFrequency] += p.RecordCount
			continue
		}
		analysis.Patterns = append(analysis.Patterns, p)
	}
	sort.Slice(analysis.Patterns, func(i, j int) bool {
		return analysis.Patterns[i].PatternID < analysis.Patterns[j].PatternID
	})

	s.metrics.RecordsProcessed(len(records), int(analysis.UnparseableRecords))
	s.metrics.Patterns(len(analysis.Patterns))
	s.logger.Info("Pattern analysis complete",
		zap.Int("records", len(records)),
		zap.Int("patterns", len(analysis.Patterns)),
		zap.Int64("unparseable", analysis.UnparseableRecords),
		zap.Int64("min_frequency", minFrequency))
	return analysis, nil
}

func (s *patternAnalysisService) analyzeBatch(ctx context.Context, idx *patternIndex, batch []models.QueryRecord) (int, error) {
	for i := range batch {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return i, err
			}
		}
		r := &batch[i]
		fp, err := sql.FingerprintQuery(r.Query)
		if err != nil {
			idx.unparseable.Add(1)
			s.logger.Debug("Skipping unparseable query",
				zap.String("query_id", r.QueryID),
				zap.Error(err))
			continue
		}
		idx.accumulator(fp).add(r, fp)
	}
	return len(batch), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
