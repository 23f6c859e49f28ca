package vector

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/agentmesh/internal/filter"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// Memory is an in-process Index. It evaluates filter trees directly
// against point payloads, so filtered search behaves like the remote
// backend. Suitable for tests and single-host setups without Qdrant.
type Memory struct {
	mu     sync.RWMutex
	points map[int64]Point
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[int64]Point)}
}

func (m *Memory) Upsert(_ context.Context, points ...Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(_ context.Context, vec []float32, f filter.Node, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		if f != nil {
			ok, err := evalNode(f, p.Payload)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		hits = append(hits, Hit{ID: id, Score: cosine(vec, p.Vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Delete(_ context.Context, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func (m *Memory) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.points)), nil
}

func (m *Memory) IDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// evalNode evaluates a parsed filter tree against one flat payload.
func evalNode(n filter.Node, payload map[string]any) (bool, error) {
	switch node := n.(type) {
	case *filter.Logical:
		switch node.Op {
		case filter.OpAnd:
			for _, c := range node.Children {
				ok, err := evalNode(c, payload)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case filter.OpOr:
			for _, c := range node.Children {
				ok, err := evalNode(c, payload)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		case filter.OpNot:
			ok, err := evalNode(node.Children[0], payload)
			return !ok, err
		}
		return false, store.Filterf("unknown logical operator %q", node.Op)
	case *filter.Condition:
		return evalCondition(node, payload)
	}
	return false, store.Filterf("unknown filter node")
}

func payloadKey(path string) string {
	if filter.IsSystemField(path) {
		return path
	}
	return "metadata." + strings.TrimPrefix(path, "metadata.")
}

func evalCondition(c *filter.Condition, payload map[string]any) (bool, error) {
	val, present := payload[payloadKey(c.Field)]

	switch c.Op {
	case filter.OpEq:
		return present && looseEqual(val, c.Value), nil
	case filter.OpNe:
		return !present || !looseEqual(val, c.Value), nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		if !present {
			return false, nil
		}
		return compareOrdered(c.Op, val, c.Value), nil
	case filter.OpBetween:
		if !present {
			return false, nil
		}
		bounds := c.Value.([]any)
		return compareOrdered(filter.OpGte, val, bounds[0]) &&
			compareOrdered(filter.OpLte, val, bounds[1]), nil
	case filter.OpIn:
		if !present {
			return false, nil
		}
		for _, want := range c.Value.([]any) {
			if looseEqual(val, want) {
				return true, nil
			}
		}
		return false, nil
	case filter.OpNin:
		if !present {
			return true, nil
		}
		for _, want := range c.Value.([]any) {
			if looseEqual(val, want) {
				return false, nil
			}
		}
		return true, nil
	case filter.OpContains:
		return listContains(val, c.Value), nil
	case filter.OpNotContains:
		return !listContains(val, c.Value), nil
	case filter.OpAll:
		for _, want := range c.Value.([]any) {
			if !listContains(val, want) {
				return false, nil
			}
		}
		return true, nil
	case filter.OpSize:
		list, ok := val.([]any)
		if !ok {
			return false, nil
		}
		want, ok := toFloat(c.Value)
		return ok && float64(len(list)) == want, nil
	case filter.OpExists:
		return present == c.Value.(bool), nil
	case filter.OpNull:
		isNull := present && val == nil
		return isNull == c.Value.(bool), nil
	case filter.OpEmpty:
		return isEmptyValue(val, present) == c.Value.(bool), nil
	case filter.OpRegex:
		s, ok := val.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(c.Value.(string))
		if err != nil {
			return false, store.Filterf("invalid regex %q: %v", c.Value, err)
		}
		return re.MatchString(s), nil
	case filter.OpText:
		s, ok := val.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Value.(string))), nil
	}
	return false, store.Filterf("unknown operator %q", c.Op)
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func compareOrdered(op string, a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch op {
		case filter.OpGt:
			return fa > fb
		case filter.OpGte:
			return fa >= fb
		case filter.OpLt:
			return fa < fb
		case filter.OpLte:
			return fa <= fb
		}
		return false
	}

	sa, aok := a.(string)
	sb, bok := b.(string)
	if !aok || !bok {
		return false
	}
	switch op {
	case filter.OpGt:
		return sa > sb
	case filter.OpGte:
		return sa >= sb
	case filter.OpLt:
		return sa < sb
	case filter.OpLte:
		return sa <= sb
	}
	return false
}

func listContains(val, want any) bool {
	switch v := val.(type) {
	case []any:
		for _, item := range v {
			if looseEqual(item, want) {
				return true
			}
		}
	case string:
		if s, ok := want.(string); ok {
			return strings.Contains(v, s)
		}
	}
	return false
}

func isEmptyValue(val any, present bool) bool {
	if !present || val == nil {
		return true
	}
	switch v := val.(type) {
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
