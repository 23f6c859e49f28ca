package filter

import (
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// Qdrant compiles a parsed tree into the backend's native filter object.
// A nil tree compiles to nil (unfiltered search).
func Qdrant(n Node) (*qdrant.Filter, error) {
	if n == nil {
		return nil, nil
	}

	// Flatten a top-level AND into the filter's Must list instead of
	// nesting a single wrapped condition.
	if l, ok := n.(*Logical); ok && l.Op == OpAnd {
		must := make([]*qdrant.Condition, 0, len(l.Children))
		for _, c := range l.Children {
			cond, err := qdrantCondition(c)
			if err != nil {
				return nil, err
			}
			must = append(must, cond)
		}
		return &qdrant.Filter{Must: must}, nil
	}

	cond, err := qdrantCondition(n)
	if err != nil {
		return nil, err
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{cond}}, nil
}

func qdrantCondition(n Node) (*qdrant.Condition, error) {
	switch t := n.(type) {
	case *Logical:
		return qdrantLogical(t)
	case *Condition:
		return qdrantLeaf(t)
	default:
		return nil, store.Filterf("unknown node type %T", n)
	}
}

func qdrantLogical(l *Logical) (*qdrant.Condition, error) {
	conds := make([]*qdrant.Condition, 0, len(l.Children))
	for _, c := range l.Children {
		cond, err := qdrantCondition(c)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	switch l.Op {
	case OpAnd:
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: conds}), nil
	case OpOr:
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: conds}), nil
	case OpNot:
		return qdrant.NewFilterAsCondition(&qdrant.Filter{MustNot: conds}), nil
	default:
		return nil, store.Filterf("unknown logical operator %q", l.Op)
	}
}

// payloadKey maps a field path onto the flat payload. System fields are
// stored at the top level; metadata keys carry the "metadata." prefix.
func payloadKey(field string) string {
	if IsSystemField(field) {
		return field
	}
	return "metadata." + strings.TrimPrefix(field, "metadata.")
}

func qdrantLeaf(c *Condition) (*qdrant.Condition, error) {
	key := payloadKey(c.Field)

	switch c.Op {
	case OpEq:
		return matchValue(key, c.Value)
	case OpNe:
		eq, err := matchValue(key, c.Value)
		if err != nil {
			return nil, err
		}
		return negate(eq), nil
	case OpGt:
		v, err := toFloat(c)
		if err != nil {
			return nil, err
		}
		return qdrant.NewRange(key, &qdrant.Range{Gt: qdrant.PtrOf(v)}), nil
	case OpGte:
		v, err := toFloat(c)
		if err != nil {
			return nil, err
		}
		return qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(v)}), nil
	case OpLt:
		v, err := toFloat(c)
		if err != nil {
			return nil, err
		}
		return qdrant.NewRange(key, &qdrant.Range{Lt: qdrant.PtrOf(v)}), nil
	case OpLte:
		v, err := toFloat(c)
		if err != nil {
			return nil, err
		}
		return qdrant.NewRange(key, &qdrant.Range{Lte: qdrant.PtrOf(v)}), nil
	case OpBetween:
		bounds := c.Value.([]any)
		lo, err := floatValue(bounds[0])
		if err != nil {
			return nil, store.Filterf("$between low bound on %q: %v", c.Field, err)
		}
		hi, err := floatValue(bounds[1])
		if err != nil {
			return nil, store.Filterf("$between high bound on %q: %v", c.Field, err)
		}
		return qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(lo), Lte: qdrant.PtrOf(hi)}), nil
	case OpIn:
		return matchAny(key, c.Value.([]any))
	case OpNin:
		in, err := matchAny(key, c.Value.([]any))
		if err != nil {
			return nil, err
		}
		return negate(in), nil
	case OpContains:
		// A keyword match on an array payload field is containment.
		return matchValue(key, c.Value)
	case OpNotContains:
		contains, err := matchValue(key, c.Value)
		if err != nil {
			return nil, err
		}
		return negate(contains), nil
	case OpAll:
		// N conjoined containment conditions.
		conds := make([]*qdrant.Condition, 0)
		for _, v := range c.Value.([]any) {
			cond, err := matchValue(key, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: conds}), nil
	case OpSize:
		n, err := floatValue(c.Value)
		if err != nil {
			return nil, store.Filterf("$size on %q: %v", c.Field, err)
		}
		count := uint64(n)
		return qdrant.NewValuesCount(key, &qdrant.ValuesCount{
			Gte: qdrant.PtrOf(count),
			Lte: qdrant.PtrOf(count),
		}), nil
	case OpExists:
		if c.Value.(bool) {
			return negate(qdrant.NewIsEmpty(key)), nil
		}
		return qdrant.NewIsEmpty(key), nil
	case OpNull:
		if c.Value.(bool) {
			return qdrant.NewIsNull(key), nil
		}
		return negate(qdrant.NewIsNull(key)), nil
	case OpEmpty:
		if c.Value.(bool) {
			return qdrant.NewIsEmpty(key), nil
		}
		return negate(qdrant.NewIsEmpty(key)), nil
	case OpRegex, OpText:
		// Token-level text match; a partial rendition of both operators
		// on this backend.
		return qdrant.NewMatchText(key, c.Value.(string)), nil
	default:
		return nil, store.Filterf("unknown operator %q", c.Op)
	}
}

func negate(cond *qdrant.Condition) *qdrant.Condition {
	return qdrant.NewFilterAsCondition(&qdrant.Filter{MustNot: []*qdrant.Condition{cond}})
}

func matchValue(key string, value any) (*qdrant.Condition, error) {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(key, v), nil
	case bool:
		return qdrant.NewMatchBool(key, v), nil
	case int:
		return qdrant.NewMatchInt(key, int64(v)), nil
	case int64:
		return qdrant.NewMatchInt(key, v), nil
	case float64:
		if v == float64(int64(v)) {
			return qdrant.NewMatchInt(key, int64(v)), nil
		}
		// Qdrant has no float match; a degenerate range is equivalent.
		return qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(v), Lte: qdrant.PtrOf(v)}), nil
	default:
		return nil, store.Filterf("unsupported match value %T for field %q", value, key)
	}
}

func matchAny(key string, values []any) (*qdrant.Condition, error) {
	strs := make([]string, 0, len(values))
	ints := make([]int64, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			strs = append(strs, t)
		case int:
			ints = append(ints, int64(t))
		case int64:
			ints = append(ints, t)
		case float64:
			if t == float64(int64(t)) {
				ints = append(ints, int64(t))
			} else {
				return nil, store.Filterf("$in does not support float values on %q", key)
			}
		default:
			return nil, store.Filterf("unsupported $in value %T for field %q", v, key)
		}
	}

	switch {
	case len(strs) > 0 && len(ints) == 0:
		return qdrant.NewMatchKeywords(key, strs...), nil
	case len(ints) > 0 && len(strs) == 0:
		return qdrant.NewMatchInts(key, ints...), nil
	case len(strs) == 0 && len(ints) == 0:
		// Empty $in matches nothing: an impossible keyword set.
		return qdrant.NewMatchKeywords(key), nil
	default:
		return nil, store.Filterf("$in values on %q must not mix types", key)
	}
}

func toFloat(c *Condition) (float64, error) {
	v, err := floatValue(c.Value)
	if err != nil {
		return 0, store.Filterf("%s on %q: %v", c.Op, c.Field, err)
	}
	return v, nil
}

func floatValue(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, store.Filterf("expected a number, got %T", v)
	}
}
