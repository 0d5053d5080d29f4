package sql

// keywords are normalized to upper case in the skeleton; everything else that
// looks like a word is an identifier and folded to lower case.
var keywords = toSet(
	"ADD", "ALL", "ALTER", "AND", "ANTI", "ANY", "ARRAY", "AS", "ASC", "ASOF",
	"BEGIN", "BETWEEN", "BY", "CASE", "CAST", "CHECK", "COLLATE", "COLUMN", "COMMIT",
	"CONFLICT", "CONSTRAINT", "CREATE", "CROSS", "DATABASE", "DATE", "DEFAULT",
	"DELETE", "DESC", "DESCRIBE", "DISTINCT", "DO", "DROP", "ELSE", "END", "ESCAPE",
	"EXCEPT", "EXISTS", "EXPLAIN", "EXTRACT", "FALSE", "FETCH", "FILTER", "FINAL",
	"FIRST", "FOR", "FOREIGN", "FORMAT", "FROM", "FULL", "GLOBAL", "GRANT", "GROUP",
	"HAVING", "IF", "ILIKE", "IN", "INDEX", "INNER", "INSERT", "INTERSECT", "INTERVAL",
	"INTO", "IS", "JOIN", "KEY", "LATERAL", "LEFT", "LIKE", "LIMIT", "MATCHED",
	"MATERIALIZED", "MERGE", "MINUS", "NATURAL", "NEXT", "NOT", "NOTHING", "NULL",
	"NULLS", "OFFSET", "ON", "ONLY", "OR", "ORDER", "OUTER", "OVER", "OVERLAY",
	"PARTITION", "POSITION", "PREWHERE", "PRIMARY", "RECURSIVE", "REFERENCES",
	"RENAME", "REPLACE", "RETURNING", "REVOKE", "RIGHT", "ROLLBACK", "ROW", "ROWS",
	"SAMPLE", "SCHEMA", "SELECT", "SEMI", "SET", "SETTINGS", "SHOW", "SOME",
	"STRAIGHT_JOIN", "SUBSTRING", "TABLE", "TEMP", "TEMPORARY", "THEN", "TIME",
	"TIMESTAMP", "TO", "TOP", "TRIM", "TRUE", "TRUNCATE", "UNION", "UNIQUE", "UPDATE",
	"USING", "VALUES", "VIEW", "WHEN", "WHERE", "WINDOW", "WITH",
)

// softKeywords may also name a table (FROM "date" written unquoted).
var softKeywords = toSet(
	"DATE", "TIME", "TIMESTAMP", "KEY", "FIRST", "NEXT", "POSITION", "ROW", "ROWS",
	"FILTER", "FORMAT", "DATABASE", "SCHEMA", "COLUMN", "TEMP", "DEFAULT", "INDEX",
)

// callKeywords take a parenthesized argument list like functions do; a FROM inside
// their parentheses is not a table reference.
var callKeywords = toSet(
	"CAST", "EXTRACT", "SUBSTRING", "TRIM", "POSITION", "OVERLAY", "FILTER", "OVER",
)

// statementVerbs start a statement; the first one found determines the query kind.
var statementVerbs = toSet(
	"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "SHOW",
	"MERGE", "TRUNCATE", "DESCRIBE", "EXPLAIN", "GRANT", "REVOKE", "VALUES",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
