package sql

import (
	"encoding/json"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
)

func TestFingerprintQuery_Skeleton(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "numeric literal",
			input:    "SELECT * FROM users WHERE id = 42",
			expected: "SELECT * FROM users WHERE id = ?",
		},
		{
			name:     "keywords upper-cased, identifiers folded",
			input:    "select a, B from Orders o where o.id = 1",
			expected: "SELECT a, b FROM orders o WHERE o.id = ?",
		},
		{
			name:     "in list collapsed",
			input:    "SELECT * FROM t WHERE id IN (1, 2, 3)",
			expected: "SELECT * FROM t WHERE id IN (?)",
		},
		{
			name:     "unary minus folded into literal",
			input:    "SELECT * FROM t WHERE x = -5",
			expected: "SELECT * FROM t WHERE x = ?",
		},
		{
			name:     "binary minus kept",
			input:    "UPDATE accounts SET balance = balance - 10 WHERE id = 3",
			expected: "UPDATE accounts SET balance = balance - ? WHERE id = ?",
		},
		{
			name:     "trailing semicolon dropped",
			input:    "SELECT 1;",
			expected: "SELECT ?",
		},
		{
			name:     "cast operator kept tight",
			input:    "SELECT x::int FROM t",
			expected: "SELECT x::int FROM t",
		},
		{
			name:     "function call",
			input:    "SELECT count(*) FROM t WHERE created_at > now()",
			expected: "SELECT count(*) FROM t WHERE created_at > now()",
		},
		{
			name:     "quoted identifier keeps case",
			input:    `SELECT "UserId" FROM t`,
			expected: `SELECT "UserId" FROM t`,
		},
		{
			name:     "booleans are literals",
			input:    "SELECT * FROM t WHERE active = true",
			expected: "SELECT * FROM t WHERE active = ?",
		},
		{
			name:     "dollar quoted string",
			input:    "SELECT $$hello$$",
			expected: "SELECT ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := FingerprintQuery(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fp.NormalizedSQL)
			assert.Equal(t, PatternID(tt.expected), fp.PatternID)
		})
	}
}

func TestFingerprintQuery_SamePattern(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"different literals", "SELECT * FROM users WHERE id = 1", "SELECT * FROM users WHERE id = 99"},
		{"string vs string", "SELECT * FROM users WHERE name = 'alice'", "SELECT * FROM users WHERE name = 'bob'"},
		{"whitespace", "SELECT  *\n  FROM users\tWHERE id = 1", "SELECT * FROM users WHERE id = 1"},
		{"case", "select id from users", "SELECT ID FROM USERS"},
		{"comments", "SELECT id /* pick */ FROM users -- trailing", "SELECT id FROM users"},
		{"in list length", "SELECT * FROM t WHERE id IN (1)", "SELECT * FROM t WHERE id IN (1, 2, 3, 4)"},
		{"bind parameter", "SELECT * FROM t WHERE id = $1", "SELECT * FROM t WHERE id = 7"},
		{"values rows", "INSERT INTO t (a, b) VALUES (1, 'x')", "INSERT INTO t (a, b) VALUES (1, 'x'), (2, 'y'), (3, 'z')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := FingerprintQuery(tt.a)
			require.NoError(t, err)
			b, err := FingerprintQuery(tt.b)
			require.NoError(t, err)
			assert.Equal(t, a.PatternID, b.PatternID, "%q vs %q", a.NormalizedSQL, b.NormalizedSQL)
		})
	}
}

func TestFingerprintQuery_InvalidUTF8(t *testing.T) {
	fp, err := FingerprintQuery("SELECT \xff\xfe FROM t WHERE name = 'caf\xe9'")
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(fp.NormalizedSQL), "%q", fp.NormalizedSQL)
	assert.Equal(t, "SELECT \uFFFD FROM t WHERE name = ?", fp.NormalizedSQL)
	for _, table := range fp.Tables {
		assert.True(t, utf8.ValidString(table), "%q", table)
	}

	// A cached fingerprint decodes to exactly what was computed.
	data, err := json.Marshal(fp)
	require.NoError(t, err)
	var cached Fingerprint
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.Equal(t, *fp, cached)
}

func TestFingerprintQuery_DifferentPattern(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"different tables", "SELECT * FROM users WHERE id = 1", "SELECT * FROM accounts WHERE id = 1"},
		{"different columns", "SELECT id FROM users", "SELECT name FROM users"},
		{"different operator", "SELECT * FROM t WHERE id = 1", "SELECT * FROM t WHERE id > 1"},
		{"clause order preserved", "SELECT * FROM t WHERE a = 1 AND b = 2", "SELECT * FROM t WHERE b = 2 AND a = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := FingerprintQuery(tt.a)
			require.NoError(t, err)
			b, err := FingerprintQuery(tt.b)
			require.NoError(t, err)
			assert.NotEqual(t, a.PatternID, b.PatternID)
		})
	}
}

func TestFingerprintQuery_Tables(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single table",
			input:    "SELECT * FROM users",
			expected: []string{"users"},
		},
		{
			name:     "joins and qualified names",
			input:    `SELECT * FROM analytics."Events" e JOIN public.users u ON u.id = e.user_id LEFT JOIN Orders o ON o.user_id = u.id`,
			expected: []string{"Orders", "analytics.Events", "public.users"},
		},
		{
			name:     "comma separated from list",
			input:    "SELECT * FROM a x, b AS y WHERE x.id = y.id",
			expected: []string{"a", "b"},
		},
		{
			name:     "comments and literals ignored",
			input:    "SELECT * FROM a -- FROM b\n/* JOIN c */ WHERE s = 'FROM d'",
			expected: []string{"a"},
		},
		{
			name:     "subquery",
			input:    "SELECT * FROM (SELECT id FROM inner_t) sub JOIN other ON other.id = sub.id",
			expected: []string{"inner_t", "other"},
		},
		{
			name:     "cte names excluded",
			input:    "WITH recent AS (SELECT * FROM events WHERE ts > now()) SELECT * FROM recent JOIN users ON users.id = recent.user_id",
			expected: []string{"events", "users"},
		},
		{
			name:     "table function excluded",
			input:    "SELECT * FROM generate_series(1, 10)",
			expected: []string{},
		},
		{
			name:     "extract from is not a table",
			input:    "SELECT EXTRACT(YEAR FROM created_at) FROM orders",
			expected: []string{"orders"},
		},
		{
			name:     "is distinct from",
			input:    "SELECT * FROM t WHERE a IS DISTINCT FROM b",
			expected: []string{"t"},
		},
		{
			name:     "insert with column list",
			input:    "INSERT INTO t (a) VALUES (1) ON CONFLICT (a) DO UPDATE SET a = 2",
			expected: []string{"t"},
		},
		{
			name:     "update",
			input:    "UPDATE accounts SET balance = 0",
			expected: []string{"accounts"},
		},
		{
			name:     "create table if not exists",
			input:    "CREATE TABLE IF NOT EXISTS staging.events (id int)",
			expected: []string{"staging.events"},
		},
		{
			name:     "drop table",
			input:    "DROP TABLE IF EXISTS old_events",
			expected: []string{"old_events"},
		},
		{
			name:     "bracketed identifiers",
			input:    "SELECT * FROM [dbo].[Orders]",
			expected: []string{"dbo.Orders"},
		},
		{
			name:     "duplicates removed",
			input:    "SELECT * FROM t JOIN t t2 ON t.id = t2.parent_id",
			expected: []string{"t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := FingerprintQuery(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fp.Tables)
		})
	}
}

func TestFingerprintQuery_Kind(t *testing.T) {
	tests := []struct {
		input    string
		expected models.QueryKind
	}{
		{"SELECT 1", models.QueryKindSelect},
		{"(SELECT 1) UNION (SELECT 2)", models.QueryKindSelect},
		{"insert into t values (1)", models.QueryKindInsert},
		{"UPDATE t SET a = 1", models.QueryKindUpdate},
		{"DELETE FROM t", models.QueryKindDelete},
		{"CREATE TABLE t (id int)", models.QueryKindCreate},
		{"ALTER TABLE t ADD COLUMN b int", models.QueryKindAlter},
		{"DROP TABLE t", models.QueryKindDrop},
		{"SHOW TABLES", models.QueryKindShow},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", models.QueryKindInsert},
		{"WITH x AS (SELECT 1) SELECT * FROM x", models.QueryKindSelect},
		{"VACUUM", models.QueryKindOther},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			fp, err := FingerprintQuery(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fp.Kind)
		})
	}
}

func TestFingerprintQuery_Unparseable(t *testing.T) {
	inputs := []string{
		"",
		"   ;  ",
		"SELECT * FROM t WHERE name = 'abc",
		"SELECT (1",
		"SELECT 1)",
		"SELECT /* never closed",
		`SELECT "open FROM t`,
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			fp, err := FingerprintQuery(input)
			require.Error(t, err)
			assert.Nil(t, fp)
			assert.True(t, errors.Is(err, ErrUnparseable))
			assert.True(t, errors.Is(err, apperrors.ErrRecordParse))
		})
	}
}

func TestFingerprintQuery_SuspiciousLiterals(t *testing.T) {
	fp, err := FingerprintQuery("SELECT * FROM users WHERE name = '1'' OR ''1''=''1'")
	require.NoError(t, err)
	assert.Equal(t, 1, fp.SuspiciousLiterals)

	fp, err = FingerprintQuery("SELECT * FROM users WHERE name = 'alice'")
	require.NoError(t, err)
	assert.Equal(t, 0, fp.SuspiciousLiterals)
}

func TestExtractTables_Unparseable(t *testing.T) {
	assert.Nil(t, ExtractTables("SELECT 'open"))
	assert.Equal(t, []string{"t"}, ExtractTables("select * from t"))
}

func TestDetectKind(t *testing.T) {
	assert.Equal(t, models.QueryKindSelect, DetectKind("with x as (select 1) select * from x"))
	assert.Equal(t, models.QueryKindDelete, DetectKind("DELETE FROM t WHERE id = 3;"))
	assert.Equal(t, models.QueryKindUnparseable, DetectKind("SELECT 'open"))
	assert.Equal(t, models.QueryKindUnparseable, DetectKind(" ; "))
}
