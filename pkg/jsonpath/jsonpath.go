// Package jsonpath implements the JSONPath subset the extraction engine
// consumes: root `$`, child access, recursive descent `..`, wildcards,
// array indexing, and scalar filter predicates of the form
// `[?(@.field=='literal')]`.
//
// Expressions are compiled once, at configuration load time, so malformed
// expressions fail fast before any request is issued. Evaluation never
// fails: an expression that matches nothing yields an empty result.
//
// Arrays are visited in document order. Object members are visited in
// sorted key order, since decoded JSON objects do not preserve member
// order.
//
// The same child-segment traversal backs Lookup, the dotted-path field
// accessor used for replication keys.
package jsonpath

import (
	"strconv"
	"strings"

	"github.com/resttap/resttap/pkg/errors"
)

// Path is a compiled JSONPath expression.
type Path struct {
	expr     string
	segments []segment
}

// String returns the original expression text.
func (p *Path) String() string {
	return p.expr
}

type segmentKind int

const (
	segChild segmentKind = iota
	segIndex
	segWildcard
	segDescend
	segFilter
)

// comparison operators permitted inside filter predicates
const (
	opEq = "=="
	opNe = "!="
	opLt = "<"
	opLe = "<="
	opGt = ">"
	opGe = ">="
)

type segment struct {
	kind   segmentKind
	name   string // segChild
	index  int    // segIndex
	filter *filterExpr
}

// filterExpr is a single `@.field <op> literal` predicate.
type filterExpr struct {
	field   string // dotted path below @
	op      string
	literal interface{} // string, float64, bool, or nil
}

// Compile parses a JSONPath expression. A nil error guarantees Evaluate
// will not fail at runtime.
func Compile(expr string) (*Path, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "empty JSONPath expression")
	}

	p := &parser{input: trimmed}
	segments, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Path{expr: trimmed, segments: segments}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level defaults.
func MustCompile(expr string) *Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	input string
	pos   int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrorTypeConfig, "invalid JSONPath %q: "+format,
		append([]interface{}{p.input}, args...)...)
}

func (p *parser) parse() ([]segment, error) {
	if !strings.HasPrefix(p.input, "$") {
		return nil, p.errorf("expression must start with '$'")
	}
	p.pos = 1

	var segments []segment
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case '.':
			segs, err := p.parseDot()
			if err != nil {
				return nil, err
			}
			segments = append(segments, segs...)
		case '[':
			seg, err := p.parseBracket()
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		default:
			return nil, p.errorf("unexpected character %q at offset %d", p.input[p.pos], p.pos)
		}
	}
	return segments, nil
}

// parseDot handles `.name`, `.*`, and the recursive descent prefix `..`.
func (p *parser) parseDot() ([]segment, error) {
	p.pos++ // consume '.'
	var segments []segment

	if p.pos < len(p.input) && p.input[p.pos] == '.' {
		p.pos++
		segments = append(segments, segment{kind: segDescend})
		// `..` may be followed directly by a bracket selector
		if p.pos < len(p.input) && p.input[p.pos] == '[' {
			seg, err := p.parseBracket()
			if err != nil {
				return nil, err
			}
			return append(segments, seg), nil
		}
	}

	if p.pos >= len(p.input) {
		return nil, p.errorf("trailing '.'")
	}

	if p.input[p.pos] == '*' {
		p.pos++
		return append(segments, segment{kind: segWildcard}), nil
	}

	name := p.scanName()
	if name == "" {
		return nil, p.errorf("expected member name at offset %d", p.pos)
	}
	return append(segments, segment{kind: segChild, name: name}), nil
}

// scanName consumes a bare member name, stopping at the next '.' or '['.
func (p *parser) scanName() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '.' || c == '[' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) parseBracket() (segment, error) {
	p.pos++ // consume '['
	end := p.matchingBracket()
	if end < 0 {
		return segment{}, p.errorf("unterminated '['")
	}
	inner := strings.TrimSpace(p.input[p.pos:end])
	p.pos = end + 1

	switch {
	case inner == "*":
		return segment{kind: segWildcard}, nil
	case strings.HasPrefix(inner, "?("), strings.HasPrefix(inner, "?"):
		f, err := p.parseFilter(inner)
		if err != nil {
			return segment{}, err
		}
		return segment{kind: segFilter, filter: f}, nil
	case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"'):
		name, err := unquote(inner)
		if err != nil {
			return segment{}, p.errorf("bad quoted name %s", inner)
		}
		return segment{kind: segChild, name: name}, nil
	default:
		idx, err := strconv.Atoi(inner)
		if err != nil {
			return segment{}, p.errorf("bad bracket selector %q", inner)
		}
		return segment{kind: segIndex, index: idx}, nil
	}
}

// matchingBracket finds the index of the ']' closing the bracket opened just
// before p.pos, skipping over quoted strings.
func (p *parser) matchingBracket() int {
	var quote byte
	for i := p.pos; i < len(p.input); i++ {
		c := p.input[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case ']':
			return i
		}
	}
	return -1
}

// parseFilter parses `?(@.field <op> literal)` (parentheses optional).
func (p *parser) parseFilter(inner string) (*filterExpr, error) {
	body := strings.TrimPrefix(inner, "?")
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "(") && strings.HasSuffix(body, ")") {
		body = body[1 : len(body)-1]
	}
	body = strings.TrimSpace(body)

	if !strings.HasPrefix(body, "@.") {
		return nil, p.errorf("filter must reference the current node as '@.field'")
	}

	// Longer operators first so "<=" is not read as "<".
	ops := []string{opEq, opNe, opLe, opGe, opLt, opGt}
	opIdx, opFound := -1, ""
	for _, op := range ops {
		if i := indexOutsideQuotes(body, op); i >= 0 && (opIdx < 0 || i < opIdx) {
			opIdx, opFound = i, op
		}
	}
	if opIdx < 0 {
		return nil, p.errorf("filter %q lacks a comparison operator", inner)
	}

	field := strings.TrimSpace(body[2:opIdx])
	if field == "" {
		return nil, p.errorf("filter %q lacks a field", inner)
	}
	litText := strings.TrimSpace(body[opIdx+len(opFound):])
	lit, err := parseLiteral(litText)
	if err != nil {
		return nil, p.errorf("filter %q has a bad literal: %v", inner, err)
	}

	return &filterExpr{field: field, op: opFound, literal: lit}, nil
}

// indexOutsideQuotes reports the first occurrence of op outside quoted text.
func indexOutsideQuotes(s, op string) int {
	var quote byte
	for i := 0; i+len(op) <= len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if s[i:i+len(op)] == op {
			// avoid matching the "<" inside "<=" etc.
			if (op == opLt || op == opGt) && i+len(op) < len(s) && s[i+len(op)] == '=' {
				continue
			}
			return i
		}
	}
	return -1
}

func parseLiteral(text string) (interface{}, error) {
	if text == "" {
		return nil, strconv.ErrSyntax
	}
	if text[0] == '\'' || text[0] == '"' {
		return unquote(text)
	}
	switch text {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func unquote(text string) (string, error) {
	if len(text) < 2 {
		return "", strconv.ErrSyntax
	}
	q := text[0]
	if (q != '\'' && q != '"') || text[len(text)-1] != q {
		return "", strconv.ErrSyntax
	}
	return text[1 : len(text)-1], nil
}
