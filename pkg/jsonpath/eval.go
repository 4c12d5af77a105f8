package jsonpath

import (
	"sort"
	"strings"
)

// Evaluate applies the compiled path to a decoded JSON document and returns
// every matched value. The document is expected to be the output of a JSON
// decoder: map[string]interface{}, []interface{}, and scalars. No match
// yields an empty (nil) slice, never an error.
func (p *Path) Evaluate(doc interface{}) []interface{} {
	nodes := []interface{}{doc}
	for _, seg := range p.segments {
		if len(nodes) == 0 {
			return nil
		}
		nodes = applySegment(seg, nodes)
	}
	return nodes
}

// Evaluate compiles expr and applies it to doc. Prefer compiling once via
// Compile when the expression is reused per page.
func Evaluate(doc interface{}, expr string) ([]interface{}, error) {
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return p.Evaluate(doc), nil
}

// Lookup resolves a dotted field path ("a.b.c") against a record, returning
// the value and whether every path element resolved. It reuses the child
// traversal of the evaluator, so replication-key lookup and JSONPath record
// extraction agree on field semantics.
func Lookup(doc interface{}, dotted string) (interface{}, bool) {
	if dotted == "" {
		return nil, false
	}
	node := doc
	for _, name := range strings.Split(dotted, ".") {
		child, ok := childValue(node, name)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

func applySegment(seg segment, nodes []interface{}) []interface{} {
	var out []interface{}
	for _, node := range nodes {
		switch seg.kind {
		case segChild:
			if v, ok := childValue(node, seg.name); ok {
				out = append(out, v)
			}
		case segIndex:
			if v, ok := indexValue(node, seg.index); ok {
				out = append(out, v)
			}
		case segWildcard:
			out = append(out, children(node)...)
		case segDescend:
			out = append(out, descend(node)...)
		case segFilter:
			out = append(out, filterChildren(node, seg.filter)...)
		}
	}
	return out
}

// childValue resolves a single object member. Arrays and scalars have no
// named children.
func childValue(node interface{}, name string) (interface{}, bool) {
	obj, ok := node.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}

func indexValue(node interface{}, idx int) (interface{}, bool) {
	arr, ok := node.([]interface{})
	if !ok {
		return nil, false
	}
	if idx < 0 {
		idx += len(arr)
	}
	if idx < 0 || idx >= len(arr) {
		return nil, false
	}
	return arr[idx], true
}

// children returns a node's immediate children: array elements in document
// order, object members in sorted key order.
func children(node interface{}) []interface{} {
	switch t := node.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]interface{}, 0, len(keys))
		for _, k := range keys {
			out = append(out, t[k])
		}
		return out
	default:
		return nil
	}
}

// descend returns the node itself followed by all of its descendants,
// depth-first.
func descend(node interface{}) []interface{} {
	out := []interface{}{node}
	for _, child := range children(node) {
		out = append(out, descend(child)...)
	}
	return out
}

// filterChildren applies a filter predicate to a node's children; this is
// the `items[?(@.x=='y')]` form, selecting matching elements of items.
func filterChildren(node interface{}, f *filterExpr) []interface{} {
	var out []interface{}
	for _, child := range children(node) {
		v, ok := Lookup(child, f.field)
		if !ok {
			continue
		}
		if compareFilter(v, f.op, f.literal) {
			out = append(out, child)
		}
	}
	return out
}

func compareFilter(value interface{}, op string, literal interface{}) bool {
	// null literal only supports equality checks
	if literal == nil {
		switch op {
		case opEq:
			return value == nil
		case opNe:
			return value != nil
		default:
			return false
		}
	}

	switch lit := literal.(type) {
	case bool:
		b, ok := value.(bool)
		if !ok {
			return false
		}
		switch op {
		case opEq:
			return b == lit
		case opNe:
			return b != lit
		}
		return false
	case float64:
		f, ok := toFloat(value)
		if !ok {
			return false
		}
		return compareOrdered(f, lit, op)
	case string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		return compareOrdered(s, lit, op)
	default:
		return false
	}
}

func compareOrdered[T interface{ ~string | ~float64 }](a, b T, op string) bool {
	switch op {
	case opEq:
		return a == b
	case opNe:
		return a != b
	case opLt:
		return a < b
	case opLe:
		return a <= b
	case opGt:
		return a > b
	case opGe:
		return a >= b
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case interface{ Float64() (float64, error) }: // json.Number
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
