//go:build integration

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/testhelpers"
)

func TestRedisStore_Integration(t *testing.T) {
	r := testhelpers.GetTestRedis(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, &r.Config)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.client.FlushDB(ctx).Err())

	exerciseStore(t, s)
}

func TestPostgresStore_Integration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, &db.Config, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	_, err = s.pool.Exec(ctx, "TRUNCATE querysight_cache_entries")
	require.NoError(t, err)

	exerciseStore(t, s)

	// Migrations are idempotent.
	again, err := NewPostgresStore(ctx, &db.Config, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
