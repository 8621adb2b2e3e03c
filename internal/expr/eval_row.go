package expr

import (
	"fmt"
	"strings"

	"github.com/qflowdb/qflow/internal/batch"
)

// EvalRow is the reference evaluator: it interprets n against one row of
// schema, returning SQL three-valued-logic results (a null operand
// produces a null result, never an error, except for genuinely unresolvable
// references which are schema errors).
func EvalRow(n Node, row batch.Row, schema *batch.Schema) (batch.Value, error) {
	switch v := n.(type) {
	case Column:
		i, ok := schema.IndexOf(v.Name)
		if !ok {
			return batch.Value{}, fmt.Errorf("expr: unknown column %q", v.Name)
		}
		return row[i], nil

	case Lit:
		return v.Value, nil

	case BinOp:
		return evalBinOp(v, row, schema)

	case Cast:
		inner, err := EvalRow(v.Inner, row, schema)
		if err != nil {
			return batch.Value{}, err
		}
		return castValue(inner, v.To)

	case Like:
		inner, err := EvalRow(v.Inner, row, schema)
		if err != nil {
			return batch.Value{}, err
		}
		if inner.Null {
			return batch.NullValue(batch.TypeBool), nil
		}
		if inner.Typ != batch.TypeString {
			return batch.Value{}, fmt.Errorf("expr: LIKE requires a string, got %s", inner.Typ)
		}
		return batch.BoolValue(strings.HasPrefix(inner.Str, v.Prefix)), nil

	case In:
		inner, err := EvalRow(v.Inner, row, schema)
		if err != nil {
			return batch.Value{}, err
		}
		if inner.Null {
			return batch.NullValue(batch.TypeBool), nil
		}
		for _, cand := range v.Set {
			if !cand.Null && valuesEqual(inner, cand) {
				return batch.BoolValue(true), nil
			}
		}
		return batch.BoolValue(false), nil

	case And:
		return evalAnd(v, row, schema)

	case Or:
		return evalOr(v, row, schema)

	case Not:
		inner, err := EvalRow(v.Inner, row, schema)
		if err != nil {
			return batch.Value{}, err
		}
		if inner.Null {
			return batch.NullValue(batch.TypeBool), nil
		}
		return batch.BoolValue(!inner.Bool), nil

	default:
		return batch.Value{}, fmt.Errorf("expr: unhandled node %T", n)
	}
}

// evalAnd implements SQL three-valued AND: false dominates even a null
// counterpart (false AND null = false), otherwise any null yields null.
func evalAnd(v And, row batch.Row, schema *batch.Schema) (batch.Value, error) {
	l, err := EvalRow(v.Left, row, schema)
	if err != nil {
		return batch.Value{}, err
	}
	if !l.Null && !l.Bool {
		return batch.BoolValue(false), nil
	}
	r, err := EvalRow(v.Right, row, schema)
	if err != nil {
		return batch.Value{}, err
	}
	if !r.Null && !r.Bool {
		return batch.BoolValue(false), nil
	}
	if l.Null || r.Null {
		return batch.NullValue(batch.TypeBool), nil
	}
	return batch.BoolValue(true), nil
}

// evalOr implements SQL three-valued OR: true dominates.
func evalOr(v Or, row batch.Row, schema *batch.Schema) (batch.Value, error) {
	l, err := EvalRow(v.Left, row, schema)
	if err != nil {
		return batch.Value{}, err
	}
	if !l.Null && l.Bool {
		return batch.BoolValue(true), nil
	}
	r, err := EvalRow(v.Right, row, schema)
	if err != nil {
		return batch.Value{}, err
	}
	if !r.Null && r.Bool {
		return batch.BoolValue(true), nil
	}
	if l.Null || r.Null {
		return batch.NullValue(batch.TypeBool), nil
	}
	return batch.BoolValue(false), nil
}

func evalBinOp(v BinOp, row batch.Row, schema *batch.Schema) (batch.Value, error) {
	l, err := EvalRow(v.Left, row, schema)
	if err != nil {
		return batch.Value{}, err
	}
	r, err := EvalRow(v.Right, row, schema)
	if err != nil {
		return batch.Value{}, err
	}
	if l.Null || r.Null {
		if isArithmetic(v.Op) {
			return batch.NullValue(resultType(v.Op, l, r)), nil
		}
		return batch.NullValue(batch.TypeBool), nil
	}

	switch v.Op {
	case OpEq:
		return batch.BoolValue(valuesEqual(l, r)), nil
	case OpNeq:
		return batch.BoolValue(!valuesEqual(l, r)), nil
	case OpLt, OpLte, OpGt, OpGte:
		cmp, err := compare(l, r)
		if err != nil {
			return batch.Value{}, err
		}
		switch v.Op {
		case OpLt:
			return batch.BoolValue(cmp < 0), nil
		case OpLte:
			return batch.BoolValue(cmp <= 0), nil
		case OpGt:
			return batch.BoolValue(cmp > 0), nil
		default:
			return batch.BoolValue(cmp >= 0), nil
		}
	case OpAdd, OpSub, OpMul, OpDiv:
		return arith(v.Op, l, r)
	default:
		return batch.Value{}, fmt.Errorf("expr: unsupported operator %v", v.Op)
	}
}

func isArithmetic(op BinOpKind) bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return true
	default:
		return false
	}
}

func resultType(op BinOpKind, l, r batch.Value) batch.Type {
	if l.Typ == batch.TypeFloat64 || r.Typ == batch.TypeFloat64 {
		return batch.TypeFloat64
	}
	return batch.TypeInt64
}

func valuesEqual(l, r batch.Value) bool {
	switch l.Typ {
	case batch.TypeString:
		return l.Str == r.Str
	case batch.TypeBool:
		return l.Bool == r.Bool
	case batch.TypeTimestamp:
		return l.Time.Equal(r.Time)
	case batch.TypeInt64, batch.TypeFloat64:
		lf, _ := l.AsFloat64()
		rf, _ := r.AsFloat64()
		return lf == rf
	default:
		return false
	}
}

func compare(l, r batch.Value) (int, error) {
	switch l.Typ {
	case batch.TypeString:
		return strings.Compare(l.Str, r.Str), nil
	case batch.TypeTimestamp:
		switch {
		case l.Time.Before(r.Time):
			return -1, nil
		case l.Time.After(r.Time):
			return 1, nil
		default:
			return 0, nil
		}
	case batch.TypeInt64, batch.TypeFloat64:
		lf, _ := l.AsFloat64()
		rf, _ := r.AsFloat64()
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("expr: type %s is not ordered", l.Typ)
	}
}

func arith(op BinOpKind, l, r batch.Value) (batch.Value, error) {
	lf, lok := l.AsFloat64()
	rf, rok := r.AsFloat64()
	if !lok || !rok {
		return batch.Value{}, fmt.Errorf("expr: arithmetic requires numeric operands")
	}
	var out float64
	switch op {
	case OpAdd:
		out = lf + rf
	case OpSub:
		out = lf - rf
	case OpMul:
		out = lf * rf
	case OpDiv:
		if rf == 0 {
			return batch.NullValue(batch.TypeFloat64), nil
		}
		out = lf / rf
	}
	if l.Typ == batch.TypeInt64 && r.Typ == batch.TypeInt64 && op != OpDiv {
		return batch.Int64Value(int64(out)), nil
	}
	return batch.Float64Value(out), nil
}

func castValue(v batch.Value, to batch.Type) (batch.Value, error) {
	if v.Null {
		return batch.NullValue(to), nil
	}
	if v.Typ == to {
		return v, nil
	}
	switch to {
	case batch.TypeTimestamp:
		if v.Typ != batch.TypeString {
			return batch.Value{}, fmt.Errorf("expr: cannot cast %s to timestamp", v.Typ)
		}
		t, err := parseTimestamp(v.Str)
		if err != nil {
			return batch.Value{}, err
		}
		return batch.TimestampValue(t), nil
	case batch.TypeFloat64:
		f, ok := v.AsFloat64()
		if !ok {
			return batch.Value{}, fmt.Errorf("expr: cannot cast %s to float64", v.Typ)
		}
		return batch.Float64Value(f), nil
	case batch.TypeInt64:
		f, ok := v.AsFloat64()
		if !ok {
			return batch.Value{}, fmt.Errorf("expr: cannot cast %s to int64", v.Typ)
		}
		return batch.Int64Value(int64(f)), nil
	case batch.TypeString:
		return batch.StringValue(fmt.Sprintf("%v", v)), nil
	default:
		return batch.Value{}, fmt.Errorf("expr: unsupported cast to %s", to)
	}
}
