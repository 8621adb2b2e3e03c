// Package batch defines the record-batch data model that flows through a
// qflow plan: a finite, ordered sequence of rows sharing one schema.
//
// Columns are drawn from a fixed set of SQL-ish types and every value is
// nullable. Rows have single-ownership semantics across stage boundaries: a
// producer must not read a Row after handing it to a consumer.
package batch

import (
	"fmt"
	"time"
)

// Type is one of the column types supported by the engine.
type Type int

const (
	TypeString Type = iota
	TypeInt64
	TypeFloat64
	TypeBool
	TypeTimestamp
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Column describes one named, typed field of a Schema.
type Column struct {
	Name string
	Type Type
}

// Schema is the ordered name->index mapping shared by every batch within a
// stream. It is computed once per stream from the first FieldNames message
// and cached by every downstream consumer.
type Schema struct {
	columns []Column
	index   map[string]int
}

// NewSchema builds a Schema from an ordered column list, also registering
// the 0-based ordinal aliases "_0", "_1", … used by push-down predicates
// and by hash-join composite schemas.
func NewSchema(columns ...Column) *Schema {
	idx := make(map[string]int, len(columns)*2)
	for i, c := range columns {
		idx[c.Name] = i
		idx[fmt.Sprintf("_%d", i)] = i
	}
	return &Schema{columns: columns, index: idx}
}

// Columns returns the ordered column list. Callers must not mutate it.
func (s *Schema) Columns() []Column { return s.columns }

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// IndexOf resolves a logical name or ordinal token ("_0", "_1", …) to a
// column index. ok is false for unknown columns.
func (s *Schema) IndexOf(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Names returns the column names in order, used as the payload of a
// FieldNames message.
func (s *Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Equal reports whether two schemas have the same columns in the same
// order with the same types — the invariant every Data message in a stream
// must satisfy against the stream's first FieldNames message.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.columns) != len(other.columns) {
		return false
	}
	for i, c := range s.columns {
		if c != other.columns[i] {
			return false
		}
	}
	return true
}

// Concat returns a new schema that is the ordered concatenation of s and
// other, used by HashJoinProbe to build the composite probe‖build schema.
// Duplicate column names are retained; callers must resolve them by
// ordinal.
func (s *Schema) Concat(other *Schema) *Schema {
	cols := make([]Column, 0, len(s.columns)+len(other.columns))
	cols = append(cols, s.columns...)
	cols = append(cols, other.columns...)
	return NewSchema(cols...)
}

// Value is a nullable, typed scalar. Null propagates through arithmetic and
// comparison per SQL three-valued logic (see internal/expr).
type Value struct {
	Null  bool
	Typ   Type
	Str   string
	I64   int64
	F64   float64
	Bool  bool
	Time  time.Time
}

// NullValue returns a null value carrying the given type (nulls still know
// their column type so expr can type-check them against the schema).
func NullValue(t Type) Value { return Value{Null: true, Typ: t} }

func StringValue(s string) Value   { return Value{Typ: TypeString, Str: s} }
func Int64Value(i int64) Value     { return Value{Typ: TypeInt64, I64: i} }
func Float64Value(f float64) Value { return Value{Typ: TypeFloat64, F64: f} }
func BoolValue(b bool) Value       { return Value{Typ: TypeBool, Bool: b} }
func TimestampValue(t time.Time) Value {
	return Value{Typ: TypeTimestamp, Time: t}
}

// AsFloat64 returns the numeric value as a float64, coercing Int64. It is
// used by aggregate accumulators, which store sums/averages in float64.
func (v Value) AsFloat64() (float64, bool) {
	if v.Null {
		return 0, false
	}
	switch v.Typ {
	case TypeInt64:
		return float64(v.I64), true
	case TypeFloat64:
		return v.F64, true
	default:
		return 0, false
	}
}

// Row is one record: a slice of values positionally aligned with a Schema.
type Row []Value

// Clone returns an independent copy of the row, used when a row must
// outlive the batch it was read from (e.g. staged in HashJoinProbe).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Concat returns the row concatenation used by HashJoinProbe: probe ‖ build.
func (r Row) Concat(other Row) Row {
	out := make(Row, 0, len(r)+len(other))
	out = append(out, r...)
	out = append(out, other...)
	return out
}

// Batch is an immutable group of rows sharing one schema — the unit of
// dataflow between operators.
type Batch struct {
	Schema *Schema
	Rows   []Row
}

// NewBatch constructs a Batch from schema and rows as given. It does not
// check that each row's length matches the schema.
func NewBatch(schema *Schema, rows []Row) *Batch {
	return &Batch{Schema: schema, Rows: rows}
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.Rows) }

// Column returns the i'th column's values across every row — the columnar
// view used by internal/expr's vectorised evaluator.
func (b *Batch) Column(i int) []Value {
	out := make([]Value, len(b.Rows))
	for r, row := range b.Rows {
		out[r] = row[i]
	}
	return out
}
