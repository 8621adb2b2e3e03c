package expr

import (
	"fmt"
	"strings"

	"github.com/qflowdb/qflow/internal/batch"
)

// ToPushdownSQL renders a conjunction of predicates into the object store's
// supported SQL subset: SELECT <cols> FROM S3Object [WHERE <conjunction>],
// where <conjunction> uses =, IN (…), <, >=, LIKE 'prefix%',
// CAST(col AS timestamp), boolean AND. It is intentionally narrower than
// the full expr.Node grammar: only the node shapes that endpoint accepts
// are renderable, and ToPushdownSQL reports an error for anything else so
// that a non-pushable predicate is always evaluated locally instead of
// producing SQL the object store would reject.
func ToPushdownSQL(projection []string, table string, where Node, schema *batch.Schema) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(projection, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(table)
	if where != nil {
		clause, err := renderPushdown(where)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(clause)
	}
	return sb.String(), nil
}

func renderPushdown(n Node) (string, error) {
	switch v := n.(type) {
	case Column:
		return v.Name, nil

	case Lit:
		return LiteralSQL(v.Value)

	case Cast:
		inner, err := renderPushdown(v.Inner)
		if err != nil {
			return "", err
		}
		if v.To != batch.TypeTimestamp {
			return "", fmt.Errorf("expr: push-down only supports CAST(col AS timestamp), got %s", v.To)
		}
		return fmt.Sprintf("CAST(%s AS timestamp)", inner), nil

	case Like:
		inner, err := renderPushdown(v.Inner)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE '%s%%'", inner, v.Prefix), nil

	case In:
		inner, err := renderPushdown(v.Inner)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(v.Set))
		for i, val := range v.Set {
			s, err := LiteralSQL(val)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return fmt.Sprintf("%s IN (%s)", inner, strings.Join(parts, ", ")), nil

	case BinOp:
		op, err := pushdownOp(v.Op)
		if err != nil {
			return "", err
		}
		l, err := renderPushdown(v.Left)
		if err != nil {
			return "", err
		}
		r, err := renderPushdown(v.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", l, op, r), nil

	case And:
		l, err := renderPushdown(v.Left)
		if err != nil {
			return "", err
		}
		r, err := renderPushdown(v.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s AND %s", l, r), nil

	default:
		return "", fmt.Errorf("expr: %T is not push-down-able in the supported SQL subset", n)
	}
}

func pushdownOp(op BinOpKind) (string, error) {
	switch op {
	case OpEq:
		return "=", nil
	case OpLt:
		return "<", nil
	case OpGte:
		return ">=", nil
	default:
		return "", fmt.Errorf("expr: operator %v is not in the push-down SQL subset", op)
	}
}

// LiteralSQL renders v as a literal in the object store's SQL subset:
// quoted/escaped strings, plain numeric/bool literals, and
// CAST('YYYY-MM-DD' AS timestamp) for timestamps. It is the only place that
// quoting logic lives, so every push-down caller (filter predicates, bloom
// IN-lists, top-K thresholds) renders literals identically.
func LiteralSQL(v batch.Value) (string, error) {
	if v.Null {
		return "", fmt.Errorf("expr: cannot render null literal for push-down")
	}
	switch v.Typ {
	case batch.TypeString:
		return "'" + strings.ReplaceAll(v.Str, "'", "''") + "'", nil
	case batch.TypeInt64:
		return fmt.Sprintf("%d", v.I64), nil
	case batch.TypeFloat64:
		return fmt.Sprintf("%g", v.F64), nil
	case batch.TypeBool:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case batch.TypeTimestamp:
		return "CAST('" + v.Time.Format("2006-01-02") + "' AS timestamp)", nil
	default:
		return "", fmt.Errorf("expr: unsupported literal type %s", v.Typ)
	}
}
