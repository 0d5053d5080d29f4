//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/testhelpers"
)

func TestSource_Integration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, err := db.Pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS qs_orders (id int PRIMARY KEY, total numeric)")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := db.Pool.Exec(ctx, "SELECT * FROM qs_orders WHERE id = $1", i)
		require.NoError(t, err)
	}

	src, err := New(ctx, &db.Config, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.TestConnection(ctx))

	var records []models.QueryRecord
	err = src.Fetch(ctx, models.CollectionFilter{}, 10, func(batch []models.QueryRecord) error {
		assert.LessOrEqual(t, len(batch), 10)
		records = append(records, batch...)
		return nil
	})
	require.NoError(t, err)

	var found *models.QueryRecord
	for i := range records {
		if records[i].Query == "SELECT * FROM qs_orders WHERE id = $1" {
			found = &records[i]
		}
	}
	require.NotNil(t, found, "statement recorded by pg_stat_statements")
	assert.GreaterOrEqual(t, found.Executions, int64(5))
	assert.Equal(t, "querysight", found.User)
}
