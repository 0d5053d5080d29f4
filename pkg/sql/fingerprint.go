package sql

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ekaya-inc/querysight/pkg/models"
)

// Fingerprint is the structural identity of a SQL statement.
type Fingerprint struct {
	// PatternID is a content hash of NormalizedSQL; equal skeletons give equal ids.
	PatternID string
	// NormalizedSQL is the skeleton: literals replaced by ?, canonical whitespace,
	// upper-case keywords and lower-case unquoted identifiers. Clause order is preserved.
	NormalizedSQL string
	// Tables are the referenced tables as written (quotes stripped), sorted and unique.
	Tables []string
	Kind   models.QueryKind
	// SuspiciousLiterals counts string literals that libinjection flags.
	SuspiciousLiterals int
}

// patternIDBytes is the number of SHA-256 bytes kept in a pattern id.
const patternIDBytes = 16

// FingerprintQuery normalizes raw SQL into its structural fingerprint.
// Returns an error matching ErrUnparseable when the statement cannot be tokenized.
func FingerprintQuery(raw string) (*Fingerprint, error) {
	tokens, err := lex(raw)
	if err != nil {
		return nil, err
	}
	tokens = trimStatementEnd(tokens)
	if len(tokens) == 0 {
		return nil, &ParseError{Pos: 0, Reason: "empty statement"}
	}

	skeleton := render(collapseValuesRows(collapseLists(substituteLiterals(tokens))))

	return &Fingerprint{
		PatternID:          PatternID(skeleton),
		NormalizedSQL:      skeleton,
		Tables:             extractTables(tokens),
		Kind:               detectKind(tokens),
		SuspiciousLiterals: countSuspiciousLiterals(tokens),
	}, nil
}

// PatternID hashes a normalized skeleton into a stable pattern identifier.
func PatternID(skeleton string) string {
	sum := sha256.Sum256([]byte(skeleton))
	return hex.EncodeToString(sum[:patternIDBytes])
}

// ExtractTables returns the tables a statement references, or nil if it cannot be tokenized.
func ExtractTables(raw string) []string {
	tokens, err := lex(raw)
	if err != nil {
		return nil
	}
	return extractTables(tokens)
}

// DetectKind classifies a statement by its leading verb. Input that cannot be
// tokenized is UNPARSEABLE.
func DetectKind(raw string) models.QueryKind {
	tokens, err := lex(raw)
	if err != nil || len(trimStatementEnd(tokens)) == 0 {
		return models.QueryKindUnparseable
	}
	return detectKind(tokens)
}

func trimStatementEnd(tokens []token) []token {
	for len(tokens) > 0 && tokens[len(tokens)-1].isPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// ============================================================================
// Skeleton
// ============================================================================

func isLiteral(t token) bool {
	switch t.kind {
	case tokString, tokNumber, tokParam:
		return true
	}
	return t.isKeyword("TRUE", "FALSE")
}

// substituteLiterals replaces literals with ? and folds unary signs into them.
func substituteLiterals(tokens []token) []token {
	out := make([]token, 0, len(tokens))
	for _, t := range tokens {
		if !isLiteral(t) {
			out = append(out, t)
			continue
		}
		if n := len(out); n > 0 && out[n-1].kind == tokOperator && (out[n-1].text == "-" || out[n-1].text == "+") {
			if n == 1 || isUnaryContext(out[n-2]) {
				out = out[:n-1]
			}
		}
		out = append(out, token{kind: tokParam, text: "?", pos: t.pos})
	}
	return out
}

// isUnaryContext reports whether a sign following prev is unary.
func isUnaryContext(prev token) bool {
	switch prev.kind {
	case tokOperator:
		return true
	case tokPunct:
		return prev.text != ")" && prev.text != "]"
	case tokKeyword:
		return !prev.isKeyword("END", "NULL")
	}
	return false
}

// collapseLists rewrites any parenthesized list made only of placeholders to (?).
func collapseLists(tokens []token) []token {
	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.isPunct("(") {
			if end, ok := placeholderList(tokens, i); ok {
				out = append(out, t, tokens[i+1], tokens[end])
				i = end
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// placeholderList matches "( ? [, ?]* )" starting at i and returns the index of ")".
func placeholderList(tokens []token, i int) (int, bool) {
	j := i + 1
	for {
		if j >= len(tokens) || tokens[j].kind != tokParam {
			return 0, false
		}
		j++
		if j >= len(tokens) {
			return 0, false
		}
		if tokens[j].isPunct(")") {
			return j, true
		}
		if !tokens[j].isPunct(",") {
			return 0, false
		}
		j++
	}
}

// collapseValuesRows keeps only the first of identical VALUES rows.
func collapseValuesRows(tokens []token) []token {
	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		out = append(out, t)
		if !t.isKeyword("VALUES") || i+1 >= len(tokens) || !tokens[i+1].isPunct("(") {
			continue
		}
		end := matchParen(tokens, i+1)
		first := tokens[i+1 : end+1]
		out = append(out, first...)
		i = end
		for i+2 < len(tokens) && tokens[i+1].isPunct(",") && tokens[i+2].isPunct("(") {
			next := matchParen(tokens, i+2)
			if !sameTokens(first, tokens[i+2:next+1]) {
				break
			}
			i = next
		}
	}
	return out
}

func matchParen(tokens []token, open int) int {
	depth := 0
	for j := open; j < len(tokens); j++ {
		switch {
		case tokens[j].isPunct("("):
			depth++
		case tokens[j].isPunct(")"):
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(tokens) - 1
}

func sameTokens(a, b []token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].text != b[i].text {
			return false
		}
	}
	return true
}

func render(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && needsSpace(tokens[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	if cur.kind == tokPunct {
		switch cur.text {
		case ",", ")", "]", ".", ";":
			return false
		case "(":
			if prev.isName() || (prev.kind == tokKeyword && callKeywords[prev.text]) {
				return false
			}
		}
	}
	if prev.kind == tokPunct && (prev.text == "(" || prev.text == "[" || prev.text == ".") {
		return false
	}
	if cur.text == "::" || prev.text == "::" {
		return false
	}
	return true
}

// ============================================================================
// Statement Kind
// ============================================================================

func detectKind(tokens []token) models.QueryKind {
	depth := 0
	for i, t := range tokens {
		switch {
		case t.isPunct("("):
			depth++
			continue
		case t.isPunct(")"):
			depth--
			continue
		}
		// A leading parenthesized SELECT counts; otherwise only top-level verbs do.
		if t.kind != tokKeyword || (depth > 0 && !allOpenParens(tokens[:i])) {
			continue
		}
		if statementVerbs[t.text] {
			return kindForVerb(t.text)
		}
	}
	return models.QueryKindOther
}

func allOpenParens(tokens []token) bool {
	for _, t := range tokens {
		if !t.isPunct("(") {
			return false
		}
	}
	return true
}

func kindForVerb(verb string) models.QueryKind {
	switch verb {
	case "SELECT":
		return models.QueryKindSelect
	case "INSERT":
		return models.QueryKindInsert
	case "UPDATE":
		return models.QueryKindUpdate
	case "DELETE":
		return models.QueryKindDelete
	case "CREATE":
		return models.QueryKindCreate
	case "ALTER":
		return models.QueryKindAlter
	case "DROP":
		return models.QueryKindDrop
	case "SHOW", "DESCRIBE":
		return models.QueryKindShow
	}
	return models.QueryKindOther
}

// ============================================================================
// Table Extraction
// ============================================================================

type frameKind int

const (
	frameGroup frameKind = iota
	frameSubquery
	frameCall
)

// tableScanner walks the token stream and records FROM/JOIN/INTO/UPDATE/TABLE targets.
type tableScanner struct {
	tokens []token
	ctes   map[string]bool
	found  map[string]bool
}

func extractTables(tokens []token) []string {
	s := &tableScanner{
		tokens: tokens,
		ctes:   cteNames(tokens),
		found:  make(map[string]bool),
	}
	s.scan()

	tables := make([]string, 0, len(s.found))
	for t := range s.found {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// cteNames collects names declared as "name [(cols)] AS [NOT] [MATERIALIZED] (".
func cteNames(tokens []token) map[string]bool {
	names := make(map[string]bool)
	for i := 1; i < len(tokens); i++ {
		prev := tokens[i-1]
		if !prev.isKeyword("WITH", "RECURSIVE") && !prev.isPunct(",") {
			continue
		}
		if !tokens[i].isName() {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].isPunct("(") {
			j = matchParen(tokens, j) + 1
		}
		if j >= len(tokens) || !tokens[j].isKeyword("AS") {
			continue
		}
		j++
		for j < len(tokens) && tokens[j].isKeyword("NOT", "MATERIALIZED") {
			j++
		}
		if j < len(tokens) && tokens[j].isPunct("(") {
			names[strings.ToLower(tokens[i].value)] = true
		}
	}
	return names
}

func (s *tableScanner) scan() {
	var frames []frameKind
	toks := s.tokens

	for i := 0; i < len(toks); i++ {
		t := toks[i]

		switch {
		case t.isPunct("("):
			frames = append(frames, s.frameFor(i))
			continue
		case t.isPunct(")"):
			if len(frames) > 0 {
				frames = frames[:len(frames)-1]
			}
			continue
		case t.kind != tokKeyword:
			continue
		}

		inCall := len(frames) > 0 && frames[len(frames)-1] == frameCall

		switch t.text {
		case "FROM":
			if inCall || (i > 0 && toks[i-1].isKeyword("DISTINCT")) {
				continue
			}
			s.readTableList(i+1, true)
		case "JOIN", "STRAIGHT_JOIN":
			s.readTableList(i+1, false)
		case "INTO":
			s.readTable(i+1, true)
		case "UPDATE":
			if i > 0 && toks[i-1].isKeyword("ON", "FOR", "DO", "KEY") {
				continue
			}
			s.readTable(i+1, false)
		case "TABLE":
			if s.isDDLTarget(i) {
				s.readTable(s.skipIfExists(i+1), true)
			}
		}
	}
}

func (s *tableScanner) frameFor(open int) frameKind {
	toks := s.tokens
	if open+1 < len(toks) && toks[open+1].isKeyword("SELECT", "WITH", "VALUES") {
		return frameSubquery
	}
	if open > 0 {
		prev := toks[open-1]
		if prev.isName() || (prev.kind == tokKeyword && callKeywords[prev.text]) {
			return frameCall
		}
	}
	return frameGroup
}

// isDDLTarget reports whether the TABLE keyword at i follows CREATE/ALTER/DROP/TRUNCATE.
func (s *tableScanner) isDDLTarget(i int) bool {
	for j := i - 1; j >= 0 && j >= i-4; j-- {
		if s.tokens[j].isKeyword("CREATE", "ALTER", "DROP", "TRUNCATE") {
			return true
		}
		if !s.tokens[j].isKeyword("TEMPORARY", "TEMP", "GLOBAL", "OR", "REPLACE") {
			return false
		}
	}
	return false
}

func (s *tableScanner) skipIfExists(i int) int {
	for i < len(s.tokens) && s.tokens[i].isKeyword("IF", "NOT", "EXISTS", "ONLY") {
		i++
	}
	return i
}

// readTableList reads one table reference, and further comma-separated ones when
// allowList is set (old-style FROM a, b).
func (s *tableScanner) readTableList(i int, allowList bool) {
	for {
		next := s.readTable(i, false)
		if next < 0 || !allowList {
			return
		}
		next = s.skipAlias(next)
		if next >= len(s.tokens) || !s.tokens[next].isPunct(",") {
			return
		}
		i = next + 1
	}
}

// readTable records the qualified name at i. A name directly followed by "(" is a
// table function unless columnList is set (INSERT INTO t (a, b)).
// Returns the index after the name, or -1 if no table was read.
func (s *tableScanner) readTable(i int, columnList bool) int {
	toks := s.tokens
	for i < len(toks) && toks[i].isKeyword("LATERAL", "ONLY") {
		i++
	}
	if i >= len(toks) || !isTableName(toks[i]) {
		return -1
	}

	parts := []string{toks[i].value}
	j := i + 1
	for j+1 < len(toks) && toks[j].isPunct(".") && isTableName(toks[j+1]) {
		parts = append(parts, toks[j+1].value)
		j += 2
	}

	if j < len(toks) && toks[j].isPunct("(") && !columnList {
		return -1
	}

	name := strings.Join(parts, ".")
	if len(parts) == 1 && s.ctes[strings.ToLower(name)] {
		return j
	}
	s.found[name] = true
	return j
}

func (s *tableScanner) skipAlias(i int) int {
	toks := s.tokens
	if i < len(toks) && toks[i].isKeyword("FINAL") {
		i++
	}
	if i < len(toks) && toks[i].isKeyword("AS") {
		i++
	}
	if i < len(toks) && toks[i].isName() {
		i++
	}
	return i
}

func isTableName(t token) bool {
	return t.isName() || (t.kind == tokKeyword && softKeywords[t.text])
}

// ============================================================================
// Literal Inspection
// ============================================================================

func countSuspiciousLiterals(tokens []token) int {
	count := 0
	for _, t := range tokens {
		if t.kind != tokString || t.value == "" {
			continue
		}
		if r := CheckLiteralForInjection(t.value); r != nil {
			count++
		}
	}
	return count
}
