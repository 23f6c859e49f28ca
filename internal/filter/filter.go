// Package filter parses MongoDB-style filter trees and compiles them to
// SQLite predicates (JSON1 extraction over the metadata column) or native
// Qdrant filter objects. The same tree applied to the same data yields
// the same id-set on either backend, modulo the documented $regex/$text
// differences.
package filter

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// DefaultMaxDepth bounds filter tree nesting. The guard caps compile cost
// against pathological input.
const DefaultMaxDepth = 10

// Comparison and set operators accepted inside a field condition.
const (
	OpEq          = "$eq"
	OpNe          = "$ne"
	OpGt          = "$gt"
	OpGte         = "$gte"
	OpLt          = "$lt"
	OpLte         = "$lte"
	OpBetween     = "$between"
	OpIn          = "$in"
	OpNin         = "$nin"
	OpContains    = "$contains"
	OpNotContains = "$not_contains"
	OpAll         = "$all"
	OpSize        = "$size"
	OpExists      = "$exists"
	OpNull        = "$null"
	OpEmpty       = "$empty"
	OpRegex       = "$regex"
	OpText        = "$text"
)

// Logical operators forming interior nodes.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNot = "$not"
)

var fieldOperators = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpBetween: true, OpIn: true, OpNin: true, OpContains: true,
	OpNotContains: true, OpAll: true, OpSize: true, OpExists: true,
	OpNull: true, OpEmpty: true, OpRegex: true, OpText: true,
}

// systemFields bypass JSON extraction and bind to first-class columns
// (relational) or top-level payload keys (vector).
var systemFields = map[string]bool{
	"channel_id": true,
	"sender_id":  true,
	"timestamp":  true,
	"confidence": true,
	"content":    true,
	"project_id": true,
}

// IsSystemField reports whether a path binds to a first-class column.
func IsSystemField(path string) bool { return systemFields[path] }

// Node is one node of a parsed filter tree.
type Node interface {
	isNode()
}

// Logical is an interior $and/$or/$not node.
type Logical struct {
	Op       string
	Children []Node
}

func (*Logical) isNode() {}

// Condition is a leaf: one operator applied to one field path.
type Condition struct {
	Field string
	Op    string
	Value any
}

func (*Condition) isNode() {}

// Parse compiles a raw filter mapping into a tree with the default depth
// limit. A nil or empty mapping parses to nil (no constraint).
func Parse(tree map[string]any) (Node, error) {
	return ParseWithDepth(tree, DefaultMaxDepth)
}

// ParseWithDepth is Parse with an explicit depth limit.
func ParseWithDepth(tree map[string]any, maxDepth int) (Node, error) {
	if len(tree) == 0 {
		return nil, nil
	}
	return parseMap(tree, 1, maxDepth)
}

// parseMap handles one mapping level: a leading $-key makes it a logical
// node; otherwise it is an implicit AND over {field: condition} pairs.
func parseMap(m map[string]any, depth, maxDepth int) (Node, error) {
	if depth > maxDepth {
		return nil, store.Filterf("filter depth exceeds limit of %d", maxDepth)
	}

	if isOperatorMap(m) {
		return parseLogical(m, depth, maxDepth)
	}

	children := make([]Node, 0, len(m))
	for _, field := range sortedKeys(m) {
		if strings.HasPrefix(field, "$") {
			return nil, store.Filterf("unexpected operator %q among field conditions", field)
		}
		node, err := parseCondition(field, m[field], depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Logical{Op: OpAnd, Children: children}, nil
}

func isOperatorMap(m map[string]any) bool {
	return strings.HasPrefix(firstKey(m), "$")
}

// firstKey returns the lexically first key; map iteration order is not
// stable, so "first key" is defined deterministically.
func firstKey(m map[string]any) string {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func parseLogical(m map[string]any, depth, maxDepth int) (Node, error) {
	if depth > maxDepth {
		return nil, store.Filterf("filter depth exceeds limit of %d", maxDepth)
	}

	children := make([]Node, 0, len(m))
	for _, op := range sortedKeys(m) {
		value := m[op]
		switch op {
		case OpAnd, OpOr:
			list, ok := value.([]any)
			if !ok {
				return nil, store.Filterf("%s expects a list of filters", op)
			}
			sub := make([]Node, 0, len(list))
			for _, item := range list {
				mm, ok := item.(map[string]any)
				if !ok {
					return nil, store.Filterf("%s expects mapping elements", op)
				}
				node, err := parseMap(mm, depth+1, maxDepth)
				if err != nil {
					return nil, err
				}
				if node != nil {
					sub = append(sub, node)
				}
			}
			if len(sub) == 0 {
				return nil, store.Filterf("%s requires at least one clause", op)
			}
			children = append(children, &Logical{Op: op, Children: sub})
		case OpNot:
			mm, ok := value.(map[string]any)
			if !ok {
				return nil, store.Filterf("$not expects a mapping")
			}
			node, err := parseMap(mm, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			children = append(children, &Logical{Op: OpNot, Children: []Node{node}})
		default:
			return nil, store.Filterf("unknown operator %q", op)
		}
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Logical{Op: OpAnd, Children: children}, nil
}

// parseCondition handles a {field: condition} pair. A scalar is $eq
// sugar, a list is $in sugar, and a mapping holds operator→value pairs.
func parseCondition(field string, value any, depth, maxDepth int) (Node, error) {
	if depth > maxDepth {
		return nil, store.Filterf("filter depth exceeds limit of %d", maxDepth)
	}

	switch v := value.(type) {
	case map[string]any:
		conds := make([]Node, 0, len(v))
		for _, op := range sortedKeys(v) {
			if !fieldOperators[op] {
				return nil, store.Filterf("unknown operator %q on field %q", op, field)
			}
			cond := &Condition{Field: field, Op: op, Value: v[op]}
			if err := validateCondition(cond); err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		if len(conds) == 0 {
			return nil, store.Filterf("empty condition on field %q", field)
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return &Logical{Op: OpAnd, Children: conds}, nil
	case []any:
		return &Condition{Field: field, Op: OpIn, Value: v}, nil
	default:
		return &Condition{Field: field, Op: OpEq, Value: value}, nil
	}
}

func validateCondition(c *Condition) error {
	switch c.Op {
	case OpBetween:
		list, ok := c.Value.([]any)
		if !ok || len(list) != 2 {
			return store.Filterf("$between expects [low, high] on field %q", c.Field)
		}
	case OpIn, OpNin, OpAll:
		if _, ok := c.Value.([]any); !ok {
			return store.Filterf("%s expects a list on field %q", c.Op, c.Field)
		}
	case OpSize:
		switch c.Value.(type) {
		case int, int64, float64:
		default:
			return store.Filterf("$size expects a number on field %q", c.Field)
		}
	case OpExists, OpNull, OpEmpty:
		if _, ok := c.Value.(bool); !ok {
			return store.Filterf("%s expects a boolean on field %q", c.Op, c.Field)
		}
	case OpRegex, OpText:
		if _, ok := c.Value.(string); !ok {
			return store.Filterf("%s expects a string on field %q", c.Op, c.Field)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort; condition maps are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Depth reports the nesting depth of a parsed tree (tests and guards).
func Depth(n Node) int {
	switch t := n.(type) {
	case *Logical:
		max := 0
		for _, c := range t.Children {
			if d := Depth(c); d > max {
				max = d
			}
		}
		return max + 1
	case *Condition:
		return 1
	default:
		return 0
	}
}

// String renders a tree for logs and error messages.
func String(n Node) string {
	switch t := n.(type) {
	case *Logical:
		parts := make([]string, len(t.Children))
		for i, c := range t.Children {
			parts[i] = String(c)
		}
		return fmt.Sprintf("%s(%s)", t.Op, strings.Join(parts, ", "))
	case *Condition:
		return fmt.Sprintf("%s %s %v", t.Field, t.Op, t.Value)
	default:
		return "<nil>"
	}
}
