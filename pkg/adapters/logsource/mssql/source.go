// Package mssql reads aggregated runtime statistics from SQL Server Query Store.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/adapters/logsource"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/models"
)

const pageSize = 8192

func init() {
	logsource.Register(logsource.Registration{
		Info: logsource.SourceInfo{
			Type:        "mssql",
			DisplayName: "SQL Server Query Store",
			Description: "Runtime statistics from SQL Server 2016+ with Query Store enabled",
		},
		Factory: func(ctx context.Context, cfg *config.SourceConfig, logger *zap.Logger) (logsource.Source, error) {
			return New(&cfg.MSSQL, logger)
		},
	})
}

// Source aggregates Query Store runtime stats per query_id. Query Store reports
// durations in microseconds and memory in 8KB pages.
type Source struct {
	cfg    *config.DatabaseConfig
	db     *sql.DB
	logger *zap.Logger
}

func New(cfg *config.DatabaseConfig, logger *zap.Logger) (*Source, error) {
	db, err := sql.Open("sqlserver", cfg.SQLServerConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQL Server connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	return &Source{cfg: cfg, db: db, logger: logger.Named("mssql-source")}, nil
}

// TestConnection pings the server and checks Query Store is capturing.
func (s *Source) TestConnection(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var state string
	err := s.db.QueryRowContext(ctx, "SELECT actual_state_desc FROM sys.database_query_store_options").Scan(&state)
	if err != nil {
		return fmt.Errorf("check query store: %w", err)
	}
	if state == "OFF" || state == "ERROR" {
		return fmt.Errorf("query store is %s in database %q", state, s.cfg.Database)
	}
	return nil
}

func (s *Source) Fingerprint() string {
	return fmt.Sprintf("mssql:%s:%d/%s", s.cfg.Host, s.cfg.Port, s.cfg.Database)
}

func (s *Source) Close() error {
	return s.db.Close()
}

// Fetch pushes the time window and the duration floor into the Query Store
// query. Login names are not recorded by Query Store, so user filters are left
// to the collection stage.
func (s *Source) Fetch(ctx context.Context, filter models.CollectionFilter, batchSize int, fn logsource.BatchFunc) error {
	query, args := buildRuntimeStatsQuery(&filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query query store: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("Failed to close query store rows", zap.Error(err))
		}
	}()

	batch := logsource.NewBatcher(batchSize, fn)
	for rows.Next() {
		var (
			r               models.QueryRecord
			queryID         int64
			lastExec        sql.NullTime
			executions      int64
			avgDurationUs   float64
			avgLogicalReads float64
			avgRowCount     float64
			avgMemoryPages  float64
		)
		if err := rows.Scan(&queryID, &r.Query, &lastExec, &executions,
			&avgDurationUs, &avgLogicalReads, &avgRowCount, &avgMemoryPages); err != nil {
			return fmt.Errorf("scan query store row: %w", err)
		}
		r.QueryID = fmt.Sprintf("%d", queryID)
		r.Database = s.cfg.Database
		r.Executions = executions
		r.DurationMs = avgDurationUs / 1000
		r.ReadBytes = int64(avgLogicalReads * pageSize)
		r.ResultRows = int64(avgRowCount)
		r.ReadRows = int64(avgRowCount)
		r.MemoryBytes = int64(avgMemoryPages * pageSize)
		if lastExec.Valid {
			r.StartTime = lastExec.Time.UTC()
		}
		if err := batch.Add(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read query store: %w", err)
	}
	return batch.Flush()
}

func buildRuntimeStatsQuery(f *models.CollectionFilter) (string, []any) {
	var (
		where  []string
		having []string
		args   []any
	)
	if !f.Start.IsZero() {
		where = append(where, "i.end_time >= @start")
		args = append(args, sql.Named("start", f.Start))
	}
	if !f.End.IsZero() {
		where = append(where, "i.start_time < @end")
		args = append(args, sql.Named("end", f.End))
	}
	if f.MinDurationMs > 0 {
		having = append(having, "SUM(rs.avg_duration * rs.count_executions) / NULLIF(SUM(rs.count_executions), 0) >= @min_duration_us")
		args = append(args, sql.Named("min_duration_us", f.MinDurationMs*1000))
	}

	order := "executions DESC"
	if f.Focus == models.QueryFocusSlow {
		order = "avg_duration_us DESC"
	}

	var b strings.Builder
	b.WriteString(`
		SELECT q.query_id, qt.query_sql_text,
		       MAX(rs.last_execution_time) AS last_execution_time,
		       SUM(rs.count_executions) AS executions,
		       SUM(rs.avg_duration * rs.count_executions) / NULLIF(SUM(rs.count_executions), 0) AS avg_duration_us,
		       AVG(rs.avg_logical_io_reads) AS avg_logical_reads,
		       AVG(rs.avg_rowcount) AS avg_rowcount,
		       AVG(rs.avg_query_max_used_memory) AS avg_memory_pages
		FROM sys.query_store_query q
		JOIN sys.query_store_query_text qt ON qt.query_text_id = q.query_text_id
		JOIN sys.query_store_plan p ON p.query_id = q.query_id
		JOIN sys.query_store_runtime_stats rs ON rs.plan_id = p.plan_id
		JOIN sys.query_store_runtime_stats_interval i ON i.runtime_stats_interval_id = rs.runtime_stats_interval_id`)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	}
	b.WriteString("\n\t\tGROUP BY q.query_id, qt.query_sql_text")
	if len(having) > 0 {
		b.WriteString("\n\t\tHAVING " + strings.Join(having, " AND "))
	}
	b.WriteString("\n\t\tORDER BY " + order + ", q.query_id")
	return b.String(), args
}
