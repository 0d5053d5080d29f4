package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/adapters/logsource"
	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/logging"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/retry"
	"github.com/ekaya-inc/querysight/pkg/sql"
)

// Skip reasons reported by the collection and pattern analysis stages.
const (
	SkipReasonFiltered          = "filtered"
	SkipReasonSampledOut        = "sampled_out"
	SkipReasonUnparseable       = "unparseable"
	SkipReasonBelowMinFrequency = "below_min_frequency"
)

// SourceOpener acquires a connected log source.
type SourceOpener func(ctx context.Context) (logsource.Source, error)

// CollectionService fetches query records from a log source and re-applies the
// collection filter the source could not push down.
type CollectionService interface {
	// OpenSource acquires the configured source under the source timeout.
	OpenSource(ctx context.Context) (logsource.Source, error)

	// Collect streams every record from src and keeps those that pass filter, up to
	// filter.SampleSize records in delivery order.
	Collect(ctx context.Context, src logsource.Source, filter models.CollectionFilter) (*models.QueryCollection, error)
}

type collectionService struct {
	sourceType string
	open       SourceOpener
	batchSize  int
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewCollectionService opens sources through open. A zero timeout disables the deadline.
func NewCollectionService(sourceType string, open SourceOpener, batchSize int, timeout time.Duration, logger *zap.Logger) CollectionService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &collectionService{
		sourceType: sourceType,
		open:       open,
		batchSize:  batchSize,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger.Named("collection"),
	}
}

// NewRegistryOpener opens the source named by cfg from the log source registry,
// retrying transient connection failures.
func NewRegistryOpener(cfg *config.SourceConfig, logger *zap.Logger) SourceOpener {
	return func(ctx context.Context) (logsource.Source, error) {
		return logsource.Open(ctx, cfg, retry.DefaultConfig(), logger)
	}
}

var _ CollectionService = (*collectionService)(nil)

func (s *collectionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *collectionService) OpenSource(ctx context.Context) (logsource.Source, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	src, err := s.open(tctx)
	if err != nil {
		if timedOut(ctx, tctx) {
			return nil, fmt.Errorf("open %s source after %s: %w", s.sourceType, s.timeout, apperrors.ErrStageTimeout)
		}
		if errors.Is(err, apperrors.ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("open %s source: %s: %w", s.sourceType, logging.SanitizeError(err), apperrors.ErrSourceUnavailable)
	}
	return src, nil
}

func (s *collectionService) Collect(ctx context.Context, src logsource.Source, filter models.CollectionFilter) (*models.QueryCollection, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	collection := &models.QueryCollection{
		Records:           []models.QueryRecord{},
		SourceType:        s.sourceType,
		SourceFingerprint: src.Fingerprint(),
		Filter:            filter,
		SkipReasons:       make(map[string]int64),
		CollectedAt:       s.now().UTC(),
	}

	err := src.Fetch(tctx, filter, s.batchSize, func(batch []models.QueryRecord) error {
		if err := tctx.Err(); err != nil {
			return err
		}
		for i := range batch {
			r := batch[i]
			collection.RecordsFetched++
			if r.Kind == "" {
				r.Kind = sql.DetectKind(r.Query)
			}
			if !filter.Matches(&r) {
				collection.SkipReasons[SkipReasonFiltered]++
				continue
			}
			if filter.SampleSize > 0 && len(collection.Records) >= filter.SampleSize {
				collection.SkipReasons[SkipReasonSampledOut]++
				continue
			}
			collection.Records = append(collection.Records, r)
		}
		return nil
	})
	if err != nil {
		if timedOut(ctx, tctx) {
			return nil, fmt.Errorf("collect from %s after %s: %w", s.sourceType, s.timeout, apperrors.ErrStageTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("collect from %s: %s: %w", s.sourceType, logging.SanitizeError(err), apperrors.ErrSourceUnavailable)
	}

	s.logger.Info("Collected query records",
		zap.String("source", s.sourceType),
		zap.Int64("fetched", collection.RecordsFetched),
		zap.Int("kept", len(collection.Records)),
		zap.Int64("skipped", collection.Skipped()))
	return collection, nil
}

// timedOut reports whether the derived context hit its own deadline rather than
// the parent being cancelled.
func timedOut(parent, derived context.Context) bool {
	return parent.Err() == nil && errors.Is(derived.Err(), context.DeadlineExceeded)
}
