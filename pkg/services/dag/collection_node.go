package dag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/adapters/logsource"
	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// CollectionMethods defines the methods needed for collecting query records.
// This interface allows the node to call service methods without causing import cycles.
type CollectionMethods interface {
	OpenSource(ctx context.Context) (logsource.Source, error)
	Collect(ctx context.Context, src logsource.Source, filter models.CollectionFilter) (*models.QueryCollection, error)
}

// CollectionNode fetches query records from the configured log source.
// The source is opened even on a cache hit because its fingerprint is part of the key.
type CollectionNode struct {
	*BaseNode
	collection CollectionMethods
}

// NewCollectionNode creates a new collection node.
func NewCollectionNode(c *cache.Cache, collection CollectionMethods, logger *zap.Logger) *CollectionNode {
	return &CollectionNode{
		BaseNode:   NewBaseNode(models.StageCollection, c, logger),
		collection: collection,
	}
}

// Execute collects records for state.Filter. With ForceReset the stored collection
// and everything derived from it is invalidated first.
func (n *CollectionNode) Execute(ctx context.Context, state *RunState) error {
	n.ReportProgress(state, "Connecting to log source...")

	src, err := n.collection.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			n.Logger().Warn("Failed to close log source", zap.Error(err))
		}
	}()

	key, err := cache.NewKeyBuilder(models.StageCollection).
		Input("source", src.Fingerprint()).
		Filter("collection", state.Filter).
		Build()
	if err != nil {
		return err
	}

	if state.ForceReset {
		removed, err := n.cache.Invalidate(ctx, key)
		if err != nil {
			return fmt.Errorf("reset cached collection: %w", err)
		}
		n.Logger().Info("Force reset invalidated cached results",
			zap.String("root", key.Root),
			zap.Int("entries", removed))
	}

	collection, err := cachedStage(ctx, n.BaseNode, state, key, func(ctx context.Context) (*models.QueryCollection, error) {
		n.ReportProgress(state, "Fetching query records...")
		return n.collection.Collect(ctx, src, state.Filter)
	})
	if err != nil {
		return err
	}
	state.Collection = collection

	n.ReportProgress(state, fmt.Sprintf("Collected %d records", len(collection.Records)))
	return nil
}
