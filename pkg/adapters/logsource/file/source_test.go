package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/adapters/logsource"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/retry"
)

const sampleLog = `{"type":"QueryFinish","query_id":"q1","query":"SELECT * FROM orders WHERE id = 1","query_kind":"Select","user":"alice","query_start_time":"2024-03-01 10:00:00","query_duration_ms":"120","read_rows":"10","read_bytes":"2048","result_rows":"1","memory_usage":"4096","current_database":"shop","tables":["shop.orders"]}
{"type":"ExceptionWhileProcessing","query_id":"q2","query":"SELECT broken","user":"alice","query_start_time":"2024-03-01 10:01:00","query_duration_ms":5}
not json at all

{"type":"QueryFinish","query_id":"q3","query":"INSERT INTO events VALUES (1)","user":"bob","query_start_time":"2024-03-02 09:00:00.123456","query_duration_ms":3,"memory_usage":100}
{"query_id":"q4","query":"SELECT 1","user":"carol","event_time":"2024-03-05T08:00:00Z","query_duration_ms":2500}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query_log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, s *Source, filter models.CollectionFilter, batchSize int) ([]models.QueryRecord, []int) {
	t.Helper()
	var (
		records []models.QueryRecord
		sizes   []int
	)
	err := s.Fetch(context.Background(), filter, batchSize, func(batch []models.QueryRecord) error {
		sizes = append(sizes, len(batch))
		records = append(records, batch...)
		return nil
	})
	require.NoError(t, err)
	return records, sizes
}

func TestSource_Fetch(t *testing.T) {
	s, err := New(writeLog(t, sampleLog), zap.NewNop())
	require.NoError(t, err)

	records, sizes := collect(t, s, models.CollectionFilter{}, 2)
	require.Len(t, records, 3)
	assert.Equal(t, []int{2, 1}, sizes, "batches never exceed the batch size")

	first := records[0]
	assert.Equal(t, "q1", first.QueryID)
	assert.Equal(t, models.QueryKindSelect, first.Kind)
	assert.Equal(t, "alice", first.User)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.StartTime)
	assert.Equal(t, 120.0, first.DurationMs)
	assert.Equal(t, int64(2048), first.ReadBytes)
	assert.Equal(t, int64(4096), first.MemoryBytes)
	assert.Equal(t, "shop", first.Database)
	assert.Equal(t, []string{"shop.orders"}, first.Tables)

	assert.Equal(t, models.QueryKind(""), records[1].Kind, "kind left for the core to detect")
	assert.Equal(t, 123456*time.Microsecond, time.Duration(records[1].StartTime.Nanosecond()))
	assert.Equal(t, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), records[2].StartTime, "falls back to event_time")
}

func TestSource_FetchPushdown(t *testing.T) {
	s, err := New(writeLog(t, sampleLog), zap.NewNop())
	require.NoError(t, err)

	records, _ := collect(t, s, models.CollectionFilter{
		Start: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}, 100)
	require.Len(t, records, 1)
	assert.Equal(t, "q3", records[0].QueryID)

	records, _ = collect(t, s, models.CollectionFilter{MinDurationMs: 100}, 100)
	var ids []string
	for _, r := range records {
		ids = append(ids, r.QueryID)
	}
	assert.Equal(t, []string{"q1", "q4"}, ids)
}

func TestSource_FetchCallbackError(t *testing.T) {
	s, err := New(writeLog(t, sampleLog), zap.NewNop())
	require.NoError(t, err)

	stop := errors.New("stop")
	err = s.Fetch(context.Background(), models.CollectionFilter{}, 1, func([]models.QueryRecord) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestSource_Fingerprint(t *testing.T) {
	path := writeLog(t, sampleLog)
	s, err := New(path, zap.NewNop())
	require.NoError(t, err)

	before := s.Fingerprint()
	assert.True(t, strings.HasPrefix(before, "file:"))
	assert.Equal(t, before, s.Fingerprint())

	require.NoError(t, os.WriteFile(path, []byte(sampleLog+sampleLog), 0o644))
	assert.NotEqual(t, before, s.Fingerprint())
}

func TestOpen_Registered(t *testing.T) {
	assert.True(t, logsource.IsRegistered("file"))

	path := writeLog(t, sampleLog)
	src, err := logsource.Open(context.Background(), &config.SourceConfig{Type: "file", File: path}, retry.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	defer src.Close()
	assert.Contains(t, src.Fingerprint(), "query_log.jsonl")
}
