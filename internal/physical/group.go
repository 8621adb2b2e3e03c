package physical

import (
	"context"
	"math"

	"golang.org/x/exp/slices"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// AggKind names one of the five supported aggregate functions.
type AggKind int

const (
	AggSum AggKind = iota
	AggCount
	AggAvg
	AggMin
	AggMax
)

// AggExpr names one aggregate expression: a function over a named input
// column, bound to an output column name.
type AggExpr struct {
	Kind   AggKind
	Column string // input column; ignored (may be "") for COUNT(*)
	As     string
}

// accumulator holds the running state for one AggExpr over one group. AVG
// is stored as (sum, count) so partials combine without precision loss
// from repeated averaging.
type accumulator struct {
	kind    AggKind
	sum     float64
	count   int64
	min     float64
	max     float64
	hasSeen bool
}

func newAccumulator(kind AggKind) *accumulator {
	return &accumulator{kind: kind, min: math.Inf(1), max: math.Inf(-1)}
}

func (a *accumulator) observe(v batch.Value) {
	if a.kind == AggCount {
		a.count++
		return
	}
	f, ok := v.AsFloat64()
	if !ok {
		return
	}
	a.hasSeen = true
	a.sum += f
	a.count++
	if f < a.min {
		a.min = f
	}
	if f > a.max {
		a.max = f
	}
}

// combine folds other into a, implementing the per-aggregate combine laws:
// SUM/COUNT add, MIN/MAX take the extremum, AVG combines as (Σsum, Σcount).
func (a *accumulator) combine(other *accumulator) {
	a.sum += other.sum
	a.count += other.count
	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}
	a.hasSeen = a.hasSeen || other.hasSeen
}

// partialValues encodes the accumulator's current state as the columns a
// Group emits for this AggExpr: one value for SUM/COUNT/MIN/MAX, (sum,
// count) for AVG.
func (a *accumulator) partialValues() []batch.Value {
	switch a.kind {
	case AggSum:
		if !a.hasSeen {
			return []batch.Value{batch.NullValue(batch.TypeFloat64)}
		}
		return []batch.Value{batch.Float64Value(a.sum)}
	case AggCount:
		return []batch.Value{batch.Int64Value(a.count)}
	case AggAvg:
		return []batch.Value{batch.Float64Value(a.sum), batch.Int64Value(a.count)}
	case AggMin:
		if !a.hasSeen {
			return []batch.Value{batch.NullValue(batch.TypeFloat64)}
		}
		return []batch.Value{batch.Float64Value(a.min)}
	case AggMax:
		if !a.hasSeen {
			return []batch.Value{batch.NullValue(batch.TypeFloat64)}
		}
		return []batch.Value{batch.Float64Value(a.max)}
	default:
		return []batch.Value{batch.NullValue(batch.TypeFloat64)}
	}
}

// loadPartial reconstructs an accumulator from the columns a Group emitted
// for this AggExpr, so Aggregate can combine() it with others.
func loadPartial(kind AggKind, vals []batch.Value) *accumulator {
	a := newAccumulator(kind)
	switch kind {
	case AggSum:
		if !vals[0].Null {
			a.hasSeen = true
			a.sum = vals[0].F64
		}
	case AggCount:
		a.count = vals[0].I64
	case AggAvg:
		a.sum = vals[0].F64
		a.count = vals[1].I64
		a.hasSeen = a.count > 0
	case AggMin:
		if !vals[0].Null {
			a.hasSeen = true
			a.min = vals[0].F64
			a.max = vals[0].F64
		}
	case AggMax:
		if !vals[0].Null {
			a.hasSeen = true
			a.min = vals[0].F64
			a.max = vals[0].F64
		}
	}
	return a
}

// groupKey is a canonical string encoding of a row's group-by column
// values, used as the accumulator map key.
type groupKey string

func makeGroupKey(row batch.Row, keyIdx []int) groupKey {
	var buf []byte
	for _, i := range keyIdx {
		buf = append(buf, keyBytes(row[i])...)
		buf = append(buf, 0)
	}
	return groupKey(buf)
}

// Group implements grouped partial aggregation: for each distinct value of
// its key columns seen on this operator, it maintains one accumulator per
// AggExpr and emits one partial-state row per group on Complete. Grouping
// with no key columns collapses to a single row. Group never finalizes an
// AVG to a ratio — that only happens in the paired Aggregate, so multiple
// Group instances feeding one Aggregate (one per input partition) combine
// correctly.
type Group struct {
	keyColumns []string
	aggs       []AggExpr
	inSchema   *batch.Schema
	outSchema  *batch.Schema
	keyIdx     []int
	aggIdx     []int // input column index per agg (-1 for COUNT(*))
	groups     map[groupKey][]*accumulator
	groupKeys  map[groupKey]batch.Row // first row seen per group, for key values
	order      []groupKey
	self       *op.Operator
}

// NewGroup constructs a Group body. An empty keyColumns list produces the
// single-row, no-grouping form. The output schema's key columns take their
// types from the input schema, so it isn't known until bindSchema runs.
func NewGroup(keyColumns []string, aggs []AggExpr) *Group {
	return &Group{
		keyColumns: keyColumns,
		aggs:       aggs,
		groups:     make(map[groupKey][]*accumulator),
		groupKeys:  make(map[groupKey]batch.Row),
	}
}

func partialColumns(a AggExpr) []batch.Column {
	if a.Kind == AggAvg {
		return []batch.Column{
			{Name: a.As + "__sum", Type: batch.TypeFloat64},
			{Name: a.As + "__count", Type: batch.TypeInt64},
		}
	}
	t := batch.TypeFloat64
	if a.Kind == AggCount {
		t = batch.TypeInt64
	}
	return []batch.Column{{Name: a.As, Type: t}}
}

func (g *Group) Bind(o *op.Operator) { g.self = o }

func (g *Group) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		return g.bindSchema(ctx, m.Schema)
	case message.Data:
		g.self.Metrics.AddIn(int64(m.Batch.Len()))
		for _, row := range m.Batch.Rows {
			g.observe(row)
		}
		return nil
	case message.Complete:
		if m.Err != nil {
			return g.self.Emit(ctx, message.Complete{Operator: g.self.Name, Err: m.Err})
		}
		return g.flush(ctx)
	default:
		return nil
	}
}

func (g *Group) bindSchema(ctx context.Context, schema *batch.Schema) error {
	g.inSchema = schema
	g.keyIdx = make([]int, len(g.keyColumns))
	for i, k := range g.keyColumns {
		idx, ok := schema.IndexOf(k)
		if !ok {
			return qerr.New(qerr.KindSchema, g.self.Name, "group: unknown key column %q", k)
		}
		g.keyIdx[i] = idx
	}
	g.aggIdx = make([]int, len(g.aggs))
	for i, a := range g.aggs {
		if a.Kind == AggCount && a.Column == "" {
			g.aggIdx[i] = -1
			continue
		}
		idx, ok := schema.IndexOf(a.Column)
		if !ok {
			return qerr.New(qerr.KindSchema, g.self.Name, "group: unknown aggregate column %q", a.Column)
		}
		g.aggIdx[i] = idx
	}

	cols := schema.Columns()
	outCols := make([]batch.Column, 0, len(g.keyColumns)+len(g.aggs))
	for _, idx := range g.keyIdx {
		outCols = append(outCols, batch.Column{Name: cols[idx].Name, Type: cols[idx].Type})
	}
	for _, a := range g.aggs {
		outCols = append(outCols, partialColumns(a)...)
	}
	g.outSchema = batch.NewSchema(outCols...)

	return g.self.Emit(ctx, message.FieldNames{Schema: g.outSchema})
}

func (g *Group) observe(row batch.Row) {
	k := makeGroupKey(row, g.keyIdx)
	accs, ok := g.groups[k]
	if !ok {
		accs = make([]*accumulator, len(g.aggs))
		for i, a := range g.aggs {
			accs[i] = newAccumulator(a.Kind)
		}
		g.groups[k] = accs
		g.groupKeys[k] = row
		g.order = append(g.order, k)
	}
	for i, idx := range g.aggIdx {
		if idx < 0 {
			accs[i].observe(batch.Value{})
			continue
		}
		accs[i].observe(row[idx])
	}
}

func (g *Group) flush(ctx context.Context) error {
	// Clone before ranging: flush hands keyRow slices straight from
	// groupKeys into the emitted batch, so the key order snapshot must not
	// alias anything a later observe() (on a reused Group) could mutate.
	order := slices.Clone(g.order)
	rows := make([]batch.Row, 0, len(order))
	for _, k := range order {
		keyRow := g.groupKeys[k]
		accs := g.groups[k]
		out := make(batch.Row, 0, len(g.keyIdx)+len(g.aggs))
		for _, idx := range g.keyIdx {
			out = append(out, keyRow[idx])
		}
		for _, acc := range accs {
			out = append(out, acc.partialValues()...)
		}
		rows = append(rows, out)
	}
	g.self.Metrics.AddOut(int64(len(rows)))
	if len(rows) > 0 {
		if err := g.self.Emit(ctx, message.Data{Batch: batch.NewBatch(g.outSchema, rows)}); err != nil {
			return err
		}
	}
	return g.self.Emit(ctx, message.Complete{Operator: g.self.Name})
}
