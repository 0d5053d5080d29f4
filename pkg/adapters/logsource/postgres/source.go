// Package postgres reads aggregated statement statistics from pg_stat_statements.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/adapters/logsource"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/models"
)

const blockSize = 8192

func init() {
	logsource.Register(logsource.Registration{
		Info: logsource.SourceInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL pg_stat_statements",
			Description: "Statement statistics from PostgreSQL 13+ with pg_stat_statements",
		},
		Factory: func(ctx context.Context, cfg *config.SourceConfig, logger *zap.Logger) (logsource.Source, error) {
			return New(ctx, &cfg.Postgres, logger)
		},
	})
}

// Source streams pg_stat_statements rows. Each row is one normalized statement, so
// records carry the call count in Executions, per-call averages in the metric
// fields, and no start time.
type Source struct {
	cfg    *config.DatabaseConfig
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates the pool; connectivity is checked by TestConnection.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Source, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Source{cfg: cfg, pool: pool, logger: logger.Named("pg-source")}, nil
}

// TestConnection pings the server and checks pg_stat_statements is installed in
// the configured database.
func (s *Source) TestConnection(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var installed bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_stat_statements')").Scan(&installed)
	if err != nil {
		return fmt.Errorf("check pg_stat_statements: %w", err)
	}
	if !installed {
		return fmt.Errorf("pg_stat_statements extension is not installed in database %q", s.cfg.Database)
	}
	return nil
}

// Fingerprint names the server and database; credentials are never included.
func (s *Source) Fingerprint() string {
	return fmt.Sprintf("postgres:%s:%d/%s", s.cfg.Host, s.cfg.Port, s.cfg.Database)
}

func (s *Source) Close() error {
	s.pool.Close()
	return nil
}

// Fetch pushes the duration floor, the user lists and the focus ordering into
// the statement query. pg_stat_statements has no per-execution timestamps, so
// the time window cannot be applied.
func (s *Source) Fetch(ctx context.Context, filter models.CollectionFilter, batchSize int, fn logsource.BatchFunc) error {
	query, args := buildStatementsQuery(&filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query pg_stat_statements: %w", err)
	}
	defer rows.Close()

	batch := logsource.NewBatcher(batchSize, fn)
	for rows.Next() {
		var (
			r                  models.QueryRecord
			calls, rowsTotal   int64
			blocksRead         int64
			meanMs, tempBlocks float64
		)
		if err := rows.Scan(&r.QueryID, &r.Query, &r.User, &r.Database,
			&calls, &meanMs, &rowsTotal, &blocksRead, &tempBlocks); err != nil {
			return fmt.Errorf("scan pg_stat_statements row: %w", err)
		}
		r.Executions = calls
		r.DurationMs = meanMs
		if calls > 0 {
			r.ReadRows = rowsTotal / calls
			r.ResultRows = rowsTotal / calls
			r.ReadBytes = blocksRead * blockSize / calls
			r.MemoryBytes = int64(tempBlocks) * blockSize / calls
		}
		if err := batch.Add(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read pg_stat_statements: %w", err)
	}
	return batch.Flush()
}

func buildStatementsQuery(f *models.CollectionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "d.datname = current_database()")
	if f.MinDurationMs > 0 {
		where = append(where, "s.mean_exec_time >= "+arg(f.MinDurationMs))
	}
	if len(f.IncludeUsers) > 0 {
		where = append(where, "r.rolname = ANY("+arg(f.IncludeUsers)+")")
	}
	if len(f.ExcludeUsers) > 0 {
		where = append(where, "NOT (r.rolname = ANY("+arg(f.ExcludeUsers)+"))")
	}

	order := "s.calls DESC"
	if f.Focus == models.QueryFocusSlow {
		order = "s.mean_exec_time DESC"
	}

	query := `
		SELECT COALESCE(s.queryid::text, ''), COALESCE(s.query, ''), r.rolname, d.datname,
		       s.calls, s.mean_exec_time, s.rows,
		       s.shared_blks_hit + s.shared_blks_read,
		       (s.temp_blks_written)::float8
		FROM pg_stat_statements s
		JOIN pg_roles r ON r.oid = s.userid
		JOIN pg_database d ON d.oid = s.dbid
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + order + `, s.queryid`
	return query, args
}
