// Package file reads query logs exported as JSON lines with ClickHouse
// system.query_log column names (SELECT ... FROM system.query_log FORMAT JSONEachRow).
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/adapters/logsource"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/models"
)

const maxLineBytes = 16 << 20

func init() {
	logsource.Register(logsource.Registration{
		Info: logsource.SourceInfo{
			Type:        "file",
			DisplayName: "Query log export",
			Description: "JSON lines with ClickHouse system.query_log columns",
		},
		Factory: func(ctx context.Context, cfg *config.SourceConfig, logger *zap.Logger) (logsource.Source, error) {
			return New(cfg.File, logger)
		},
	})
}

// Source streams a JSON-lines export from disk.
type Source struct {
	path   string
	logger *zap.Logger
}

// New resolves path; the file is opened on each Fetch.
func New(path string, logger *zap.Logger) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("query log file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &Source{path: abs, logger: logger.Named("file-source")}, nil
}

// TestConnection checks the file exists and is readable.
func (s *Source) TestConnection(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Fingerprint is the path plus size and modification time, so an edited export
// invalidates everything derived from it.
func (s *Source) Fingerprint() string {
	info, err := os.Stat(s.path)
	if err != nil {
		return "file:" + s.path
	}
	return fmt.Sprintf("file:%s:%d:%d", s.path, info.Size(), info.ModTime().UnixNano())
}

func (s *Source) Close() error {
	return nil
}

// Fetch reads the export line by line. Lines that are not JSON objects are logged
// and skipped; rows for failed or still-running queries are ignored.
func (s *Source) Fetch(ctx context.Context, filter models.CollectionFilter, batchSize int, fn logsource.BatchFunc) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open query log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	batch := logsource.NewBatcher(batchSize, fn)

	lineNo, malformed := 0, 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var row queryLogRow
		if err := json.Unmarshal(line, &row); err != nil {
			malformed++
			s.logger.Debug("Skipping malformed query log line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if !row.finished() {
			continue
		}
		rec := row.toRecord()
		if !pushdown(&filter, &rec) {
			continue
		}
		if err := batch.Add(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read query log: %w", err)
	}
	if malformed > 0 {
		s.logger.Warn("Skipped malformed query log lines", zap.Int("count", malformed), zap.String("path", s.path))
	}
	return batch.Flush()
}

// pushdown applies the cheap window and duration checks while reading.
func pushdown(f *models.CollectionFilter, r *models.QueryRecord) bool {
	if !r.StartTime.IsZero() {
		if !f.Start.IsZero() && r.StartTime.Before(f.Start) {
			return false
		}
		if !f.End.IsZero() && r.StartTime.After(f.End) {
			return false
		}
	}
	return f.MinDurationMs <= 0 || r.DurationMs >= f.MinDurationMs
}

// queryLogRow mirrors the system.query_log columns we use. ClickHouse quotes 64-bit
// integers in JSON output by default, so numeric columns accept both forms.
type queryLogRow struct {
	Type            string   `json:"type"`
	QueryID         string   `json:"query_id"`
	Query           string   `json:"query"`
	QueryKind       string   `json:"query_kind"`
	User            string   `json:"user"`
	QueryStartTime  chTime   `json:"query_start_time"`
	EventTime       chTime   `json:"event_time"`
	QueryDurationMs chNumber `json:"query_duration_ms"`
	ReadRows        chNumber `json:"read_rows"`
	ReadBytes       chNumber `json:"read_bytes"`
	ResultRows      chNumber `json:"result_rows"`
	MemoryUsage     chNumber `json:"memory_usage"`
	CurrentDatabase string   `json:"current_database"`
	Tables          []string `json:"tables"`
}

func (r *queryLogRow) finished() bool {
	return r.Type == "" || r.Type == "QueryFinish" || r.Type == "2"
}

func (r *queryLogRow) toRecord() models.QueryRecord {
	start := time.Time(r.QueryStartTime)
	if start.IsZero() {
		start = time.Time(r.EventTime)
	}
	var kind models.QueryKind
	if r.QueryKind != "" {
		kind = models.ParseQueryKind(r.QueryKind)
	}
	return models.QueryRecord{
		QueryID:     r.QueryID,
		Query:       r.Query,
		Kind:        kind,
		User:        r.User,
		StartTime:   start,
		DurationMs:  float64(r.QueryDurationMs),
		ReadRows:    int64(r.ReadRows),
		ReadBytes:   int64(r.ReadBytes),
		ResultRows:  int64(r.ResultRows),
		MemoryBytes: int64(r.MemoryUsage),
		Database:    r.CurrentDatabase,
		Tables:      r.Tables,
	}
}

type chNumber float64

func (n *chNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*n = chNumber(v)
	return nil
}

var chTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

type chTime time.Time

func (t *chTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = chTime{}
		return nil
	}
	for _, layout := range chTimeLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = chTime(v)
			return nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = chTime(time.Unix(secs, 0).UTC())
		return nil
	}
	return fmt.Errorf("invalid timestamp %s", data)
}
