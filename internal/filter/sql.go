package filter

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// SQL compiles a parsed tree into a predicate over the messages table
// (alias m) with positional args. A nil tree compiles to ("", nil).
func SQL(n Node) (string, []any, error) {
	if n == nil {
		return "", nil, nil
	}
	var e sqlEmitter
	where, err := e.emit(n)
	if err != nil {
		return "", nil, err
	}
	return where, e.args, nil
}

type sqlEmitter struct {
	args []any
}

func (e *sqlEmitter) bind(v any) string {
	e.args = append(e.args, v)
	return "?"
}

func (e *sqlEmitter) emit(n Node) (string, error) {
	switch t := n.(type) {
	case *Logical:
		return e.emitLogical(t)
	case *Condition:
		return e.emitCondition(t)
	default:
		return "", store.Filterf("unknown node type %T", n)
	}
}

func (e *sqlEmitter) emitLogical(l *Logical) (string, error) {
	if l.Op == OpNot {
		inner, err := e.emit(l.Children[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}

	joiner := " AND "
	if l.Op == OpOr {
		joiner = " OR "
	}
	parts := make([]string, 0, len(l.Children))
	for _, c := range l.Children {
		s, err := e.emit(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

// column renders the expression a field path binds to. System fields use
// first-class columns; everything else is a JSON extraction against the
// metadata column with the dot path rewritten to a JSON path.
func column(field string) string {
	switch field {
	case "channel_id":
		return "m.channel_id"
	case "sender_id":
		return "(CASE WHEN m.sender_project_id = '' THEN m.sender_name ELSE m.sender_name || ':' || m.sender_project_id END)"
	case "timestamp":
		return "m.timestamp"
	case "confidence":
		return "m.confidence"
	case "content":
		return "m.content"
	case "project_id":
		return "(SELECT c.project_id FROM channels c WHERE c.id = m.channel_id)"
	default:
		return fmt.Sprintf("json_extract(m.metadata, '%s')", jsonPath(field))
	}
}

// jsonPath rewrites a dot path for json_extract; a leading "metadata."
// prefix is accepted and stripped.
func jsonPath(field string) string {
	field = strings.TrimPrefix(field, "metadata.")
	return "$." + field
}

// numericColumn wraps an extraction in a REAL cast so comparisons against
// numbers behave; first-class numeric columns pass through.
func numericColumn(field string) string {
	col := column(field)
	if IsSystemField(field) {
		return col
	}
	return "CAST(" + col + " AS REAL)"
}

func (e *sqlEmitter) emitCondition(c *Condition) (string, error) {
	col := column(c.Field)

	switch c.Op {
	case OpEq:
		return col + " = " + e.bind(c.Value), nil
	case OpNe:
		// Matches rows where the field is missing, like Mongo's $ne.
		return "(" + col + " IS NULL OR " + col + " != " + e.bind(c.Value) + ")", nil
	case OpGt:
		return numericCompare(e, c, ">")
	case OpGte:
		return numericCompare(e, c, ">=")
	case OpLt:
		return numericCompare(e, c, "<")
	case OpLte:
		return numericCompare(e, c, "<=")
	case OpBetween:
		bounds := c.Value.([]any)
		return numericColumn(c.Field) + " BETWEEN " + e.bind(bounds[0]) + " AND " + e.bind(bounds[1]), nil
	case OpIn:
		return e.emitIn(col, c.Value.([]any), false)
	case OpNin:
		return e.emitIn(col, c.Value.([]any), true)
	case OpContains:
		return e.emitContains(c.Field, c.Value, false)
	case OpNotContains:
		return e.emitContains(c.Field, c.Value, true)
	case OpAll:
		parts := make([]string, 0)
		for _, v := range c.Value.([]any) {
			p, err := e.emitContains(c.Field, v, false)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case OpSize:
		if IsSystemField(c.Field) {
			return "", store.Filterf("$size is not applicable to field %q", c.Field)
		}
		return fmt.Sprintf("json_array_length(m.metadata, '%s') = %s",
			jsonPath(c.Field), e.bind(c.Value)), nil
	case OpExists:
		return e.emitExists(c)
	case OpNull:
		return e.emitNull(c)
	case OpEmpty:
		return e.emitEmpty(c)
	case OpRegex:
		// The driver registers a REGEXP function backed by Go's regexp.
		return col + " REGEXP " + e.bind(c.Value), nil
	case OpText:
		if c.Field == "content" {
			return "m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH " + e.bind(c.Value) + ")", nil
		}
		// No full-text index over metadata; pattern match instead.
		return col + " LIKE " + e.bind("%"+fmt.Sprint(c.Value)+"%"), nil
	default:
		return "", store.Filterf("unknown operator %q", c.Op)
	}
}

func numericCompare(e *sqlEmitter, c *Condition, op string) (string, error) {
	return numericColumn(c.Field) + " " + op + " " + e.bind(c.Value), nil
}

func (e *sqlEmitter) emitIn(col string, values []any, negate bool) (string, error) {
	if len(values) == 0 {
		if negate {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = e.bind(v)
	}
	list := strings.Join(placeholders, ", ")
	if negate {
		return "(" + col + " IS NULL OR " + col + " NOT IN (" + list + "))", nil
	}
	return col + " IN (" + list + ")", nil
}

// emitContains tests array membership via a per-element iteration.
func (e *sqlEmitter) emitContains(field string, value any, negate bool) (string, error) {
	if IsSystemField(field) {
		return "", store.Filterf("%s is not applicable to field %q", OpContains, field)
	}
	clause := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(m.metadata, '%s') WHERE json_each.value = %s)",
		jsonPath(field), e.bind(value))
	if negate {
		return "NOT " + clause, nil
	}
	return clause, nil
}

func (e *sqlEmitter) emitExists(c *Condition) (string, error) {
	want := c.Value.(bool)
	var clause string
	if IsSystemField(c.Field) {
		clause = column(c.Field) + " IS NOT NULL"
	} else {
		clause = fmt.Sprintf("json_type(m.metadata, '%s') IS NOT NULL", jsonPath(c.Field))
	}
	if !want {
		return "NOT (" + clause + ")", nil
	}
	return clause, nil
}

func (e *sqlEmitter) emitNull(c *Condition) (string, error) {
	want := c.Value.(bool)
	var clause string
	if IsSystemField(c.Field) {
		clause = column(c.Field) + " IS NULL"
	} else {
		clause = fmt.Sprintf("json_type(m.metadata, '%s') = 'null'", jsonPath(c.Field))
	}
	if !want {
		return "NOT (" + clause + ")", nil
	}
	return clause, nil
}

// emitEmpty matches empty strings and empty arrays/objects. json_extract
// renders containers as their JSON text, so the comparison is textual.
func (e *sqlEmitter) emitEmpty(c *Condition) (string, error) {
	want := c.Value.(bool)
	col := column(c.Field)
	clause := "(" + col + " IS NULL OR " + col + " IN ('', '[]', '{}'))"
	if !want {
		return "NOT " + clause, nil
	}
	return clause, nil
}
