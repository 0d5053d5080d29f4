package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
)

// ErrUnparseable is returned when a statement cannot be tokenized.
var ErrUnparseable = errors.New("unparseable SQL")

// ParseError describes where tokenization failed.
type ParseError struct {
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable SQL at offset %d: %s", e.Pos, e.Reason)
}

// Is lets callers match both the package sentinel and the record-parse taxonomy error.
func (e *ParseError) Is(target error) bool {
	return target == ErrUnparseable || target == apperrors.ErrRecordParse
}

type tokenKind int

const (
	tokKeyword tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokOperator
	tokPunct
)

// token is a lexed SQL token. For identifiers, value holds the unquoted name;
// for strings, value holds the literal content.
type token struct {
	kind  tokenKind
	text  string
	value string
	pos   int
}

func (t token) isKeyword(words ...string) bool {
	if t.kind != tokKeyword {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

func (t token) isName() bool {
	return t.kind == tokIdent || t.kind == tokQuotedIdent
}

// lex tokenizes a statement, dropping whitespace and comments.
// Unterminated strings, identifiers or comments and unbalanced parentheses fail closed.
func lex(input string) ([]token, error) {
	// Invalid UTF-8 becomes U+FFFD so skeletons and tables survive a JSON round trip unchanged.
	input = strings.ToValidUTF8(input, "\uFFFD")
	var tokens []token
	depth := 0
	lineStart := true
	n := len(input)

	for i := 0; i < n; {
		c := input[i]

		switch {
		case c == '\n':
			lineStart = true
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
			i++
			continue
		}

		start := i
		atLineStart := lineStart
		lineStart = false

		switch {
		// -- line comment
		case c == '-' && i+1 < n && input[i+1] == '-':
			i = skipLine(input, i)
			lineStart = true

		// # line comment (MySQL/ClickHouse) only at the start of a line
		case c == '#' && atLineStart && (i+1 >= n || input[i+1] == ' ' || input[i+1] == '!'):
			i = skipLine(input, i)
			lineStart = true

		// /* block comment */, nesting allowed
		case c == '/' && i+1 < n && input[i+1] == '*':
			end, err := skipBlockComment(input, i)
			if err != nil {
				return nil, err
			}
			i = end

		case c == '\'':
			value, end, err := scanQuoted(input, i, '\'', true)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: "?", value: value, pos: start})
			i = end

		// E'..', N'..', X'..', B'..' prefixed strings
		case isStringPrefix(c) && i+1 < n && input[i+1] == '\'':
			value, end, err := scanQuoted(input, i+1, '\'', true)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: "?", value: value, pos: start})
			i = end

		case c == '$' && i+1 < n && isDigit(input[i+1]):
			i++
			for i < n && isDigit(input[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokParam, text: "?", pos: start})

		// $$ .. $$ or $tag$ .. $tag$ dollar-quoted strings
		case c == '$':
			tag, ok := dollarTag(input, i)
			if !ok {
				tokens = append(tokens, token{kind: tokOperator, text: "$", pos: start})
				i++
				break
			}
			body := i + len(tag)
			end := strings.Index(input[body:], tag)
			if end < 0 {
				return nil, &ParseError{Pos: start, Reason: "unterminated dollar-quoted string"}
			}
			tokens = append(tokens, token{kind: tokString, text: "?", value: input[body : body+end], pos: start})
			i = body + end + len(tag)

		case c == '"' || c == '`':
			value, end, err := scanQuoted(input, i, c, false)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokQuotedIdent, text: `"` + value + `"`, value: value, pos: start})
			i = end

		case c == '[' && i+1 < n && isIdentStart(input[i+1]) && !isSubscript(tokens):
			end := strings.IndexByte(input[i:], ']')
			if end < 0 {
				return nil, &ParseError{Pos: start, Reason: "unterminated bracketed identifier"}
			}
			inner := input[i+1 : i+end]
			if strings.ContainsAny(inner, ",'\"()") {
				// Array literal or subscript, not a T-SQL identifier.
				tokens = append(tokens, token{kind: tokPunct, text: "[", pos: start})
				i++
				break
			}
			tokens = append(tokens, token{kind: tokQuotedIdent, text: `"` + inner + `"`, value: inner, pos: start})
			i += end + 1

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(input[i+1])):
			i = scanNumber(input, i)
			tokens = append(tokens, token{kind: tokNumber, text: "?", value: input[start:i], pos: start})

		case c == '?':
			tokens = append(tokens, token{kind: tokParam, text: "?", pos: start})
			i++

		// :name bind parameter (but not the :: cast operator)
		case c == ':' && i+1 < n && isIdentStart(input[i+1]) && (i == 0 || input[i-1] != ':'):
			i++
			for i < n && isIdentPart(input[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokParam, text: "?", pos: start})

		// @p1 parameter; @@name is a system variable and stays an identifier
		case c == '@':
			if i+1 < n && input[i+1] == '@' {
				i += 2
				for i < n && isIdentPart(input[i]) {
					i++
				}
				name := strings.ToLower(input[start:i])
				tokens = append(tokens, token{kind: tokIdent, text: name, value: input[start:i], pos: start})
				break
			}
			i++
			for i < n && isIdentPart(input[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokParam, text: "?", pos: start})

		// {name:Type} ClickHouse query parameter
		case c == '{' && i+1 < n && isIdentStart(input[i+1]):
			end := strings.IndexByte(input[i:], '}')
			if end < 0 {
				return nil, &ParseError{Pos: start, Reason: "unterminated query parameter"}
			}
			tokens = append(tokens, token{kind: tokParam, text: "?", pos: start})
			i += end + 1

		case isIdentStart(c):
			for i < n && isIdentPart(input[i]) {
				i++
			}
			word := input[start:i]
			upper := strings.ToUpper(word)
			if keywords[upper] {
				tokens = append(tokens, token{kind: tokKeyword, text: upper, value: word, pos: start})
			} else {
				tokens = append(tokens, token{kind: tokIdent, text: strings.ToLower(word), value: word, pos: start})
			}

		case c == '(' || c == ')' || c == ',' || c == '.' || c == ';' || c == '[' || c == ']' || c == '{' || c == '}':
			if c == '(' {
				depth++
			} else if c == ')' {
				depth--
				if depth < 0 {
					return nil, &ParseError{Pos: start, Reason: "unbalanced closing parenthesis"}
				}
			}
			tokens = append(tokens, token{kind: tokPunct, text: string(c), pos: start})
			i++

		case c == ':' && i+1 < n && input[i+1] == ':':
			tokens = append(tokens, token{kind: tokOperator, text: "::", pos: start})
			i += 2

		case isOperatorChar(c):
			i++
			// A sign inside a run starts a new token so unary minus stays separable.
			for i < n && isOperatorChar(input[i]) && input[i] != '-' && input[i] != '+' {
				if input[i] == '/' && i+1 < n && input[i+1] == '*' {
					break
				}
				i++
			}
			tokens = append(tokens, token{kind: tokOperator, text: input[start:i], pos: start})

		case c >= 0x80:
			// Non-ASCII outside a string is treated as part of an identifier.
			for i < n && (input[i] >= 0x80 || isIdentPart(input[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: strings.ToLower(input[start:i]), value: input[start:i], pos: start})

		default:
			tokens = append(tokens, token{kind: tokOperator, text: string(c), pos: start})
			i++
		}
	}

	if depth != 0 {
		return nil, &ParseError{Pos: n, Reason: "unbalanced parentheses"}
	}
	return tokens, nil
}

func skipLine(input string, i int) int {
	end := strings.IndexByte(input[i:], '\n')
	if end < 0 {
		return len(input)
	}
	return i + end + 1
}

func skipBlockComment(input string, i int) (int, error) {
	start := i
	depth := 0
	for i < len(input)-1 {
		switch {
		case input[i] == '/' && input[i+1] == '*':
			depth++
			i += 2
		case input[i] == '*' && input[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, &ParseError{Pos: start, Reason: "unterminated block comment"}
}

// scanQuoted reads a quoted run starting at the opening quote. A doubled quote is an
// escaped quote; backslash escapes apply to string literals only.
func scanQuoted(input string, i int, quote byte, backslash bool) (string, int, error) {
	start := i
	var b strings.Builder
	i++
	for i < len(input) {
		c := input[i]
		switch {
		case backslash && c == '\\' && i+1 < len(input):
			b.WriteByte(input[i+1])
			i += 2
		case c == quote && i+1 < len(input) && input[i+1] == quote:
			b.WriteByte(quote)
			i += 2
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &ParseError{Pos: start, Reason: fmt.Sprintf("unterminated %c-quoted text", quote)}
}

// dollarTag returns the $tag$ opener at i, if any.
func dollarTag(input string, i int) (string, bool) {
	j := i + 1
	for j < len(input) && (isIdentStart(input[j]) || isDigit(input[j])) {
		j++
	}
	if j < len(input) && input[j] == '$' {
		return input[i : j+1], true
	}
	return "", false
}

func scanNumber(input string, i int) int {
	n := len(input)
	if input[i] == '0' && i+1 < n && (input[i+1] == 'x' || input[i+1] == 'X') {
		i += 2
		for i < n && isHexDigit(input[i]) {
			i++
		}
		return i
	}
	for i < n && isDigit(input[i]) {
		i++
	}
	if i < n && input[i] == '.' {
		i++
		for i < n && isDigit(input[i]) {
			i++
		}
	}
	if i < n && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < n && (input[j] == '+' || input[j] == '-') {
			j++
		}
		if j < n && isDigit(input[j]) {
			i = j
			for i < n && isDigit(input[i]) {
				i++
			}
		}
	}
	return i
}

// isSubscript reports whether a bracket opened after the last token indexes an
// expression (arr[i]) rather than quoting a T-SQL identifier.
func isSubscript(tokens []token) bool {
	if len(tokens) == 0 {
		return false
	}
	prev := tokens[len(tokens)-1]
	return prev.isName() || prev.isPunct("]") || prev.isPunct(")")
}

func isStringPrefix(c byte) bool {
	switch c {
	case 'E', 'e', 'N', 'n', 'X', 'x', 'B', 'b':
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}

func isOperatorChar(c byte) bool {
	return strings.IndexByte("+-*/<>=~!%^&|#", c) >= 0
}
