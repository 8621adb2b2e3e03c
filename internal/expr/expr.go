// Package expr implements the predicate/projection expression tree: a small
// typed AST with both a row interpreter (the reference semantics) and a
// batch-vectorised evaluator, selected by the executor.
package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/qflowdb/qflow/internal/batch"
)

// Node is one node of an expression tree. Implementations are Column, Lit,
// BinOp, Cast, Like, In, And, Or, and Not.
type Node interface {
	node()
}

// Column references an input column by logical name or ordinal token
// ("_0", "_1", …).
type Column struct {
	Name string
}

func (Column) node() {}

// Lit is a literal value.
type Lit struct {
	Value batch.Value
}

func (Lit) node() {}

// BinOpKind enumerates the supported binary operators.
type BinOpKind int

const (
	OpEq BinOpKind = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAdd
	OpSub
	OpMul
	OpDiv
)

func (k BinOpKind) String() string {
	switch k {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return "?"
	}
}

// BinOp is a binary comparison or arithmetic expression.
type BinOp struct {
	Op    BinOpKind
	Left  Node
	Right Node
}

func (BinOp) node() {}

// Cast converts Inner's value to type To. CAST(col AS timestamp) is the
// form pushdown queries use; other directions are supported for
// completeness of the expression evaluator.
type Cast struct {
	To    batch.Type
	Inner Node
}

func (Cast) node() {}

// Like implements SQL LIKE 'prefix%', the only pattern the pushdown
// renderer supports.
type Like struct {
	Inner  Node
	Prefix string
}

func (Like) node() {}

// In implements col IN (…literal set…).
type In struct {
	Inner Node
	Set   []batch.Value
}

func (In) node() {}

// And, Or, Not implement three-valued boolean logic.
type And struct{ Left, Right Node }
type Or struct{ Left, Right Node }
type Not struct{ Inner Node }

func (And) node() {}
func (Or) node()  {}
func (Not) node() {}

// Col is a convenience constructor.
func Col(name string) Node { return Column{Name: name} }

// String returns a best-effort textual rendering, used for log/debug
// output; ToPushdownSQL is the canonical SQL renderer.
func String(n Node) string {
	var sb strings.Builder
	writeNode(&sb, n)
	return sb.String()
}

func writeNode(sb *strings.Builder, n Node) {
	switch v := n.(type) {
	case Column:
		sb.WriteString(v.Name)
	case Lit:
		fmt.Fprintf(sb, "%v", v.Value)
	case BinOp:
		sb.WriteByte('(')
		writeNode(sb, v.Left)
		sb.WriteByte(' ')
		sb.WriteString(v.Op.String())
		sb.WriteByte(' ')
		writeNode(sb, v.Right)
		sb.WriteByte(')')
	case Cast:
		sb.WriteString("CAST(")
		writeNode(sb, v.Inner)
		sb.WriteString(" AS ")
		sb.WriteString(v.To.String())
		sb.WriteByte(')')
	case Like:
		writeNode(sb, v.Inner)
		fmt.Fprintf(sb, " LIKE '%s%%'", v.Prefix)
	case In:
		writeNode(sb, v.Inner)
		sb.WriteString(" IN (…)")
	case And:
		sb.WriteByte('(')
		writeNode(sb, v.Left)
		sb.WriteString(" AND ")
		writeNode(sb, v.Right)
		sb.WriteByte(')')
	case Or:
		sb.WriteByte('(')
		writeNode(sb, v.Left)
		sb.WriteString(" OR ")
		writeNode(sb, v.Right)
		sb.WriteByte(')')
	case Not:
		sb.WriteString("NOT ")
		writeNode(sb, v.Inner)
	default:
		sb.WriteString("?")
	}
}

// parseTimestamp parses the date/timestamp literal forms query predicates
// use (e.g. CAST('1996-03-01' AS timestamp)).
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("expr: cannot parse timestamp %q", s)
}
