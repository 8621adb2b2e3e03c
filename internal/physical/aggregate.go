package physical

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// Aggregate is the terminal combine-and-finalize stage of a grouped
// aggregation: it accepts the partial-state rows emitted by one or more
// Group instances (one per input partition, fanned in via ManyToOne),
// re-combines accumulators sharing the same group key using the combine
// laws, and emits exactly one finalized row per group once every producer
// has completed. With a single Group producer this degenerates to plain
// finalization of that Group's own partials.
type Aggregate struct {
	keyColumns []string
	aggs       []AggExpr
	numInputs  int
	seenInputs int

	schema    *batch.Schema
	outSchema *batch.Schema
	keyIdx    []int
	aggColIdx [][]int // partial column index(es) per agg, width 1 or 2

	groups    map[groupKey][]*accumulator
	groupKeys map[groupKey]batch.Row
	order     []groupKey

	self *op.Operator
}

// NewAggregate constructs the finalize stage for the given keyColumns/aggs
// (must match what every feeding Group was constructed with), fed by
// numInputs producers. numInputs is 1 for a single, unpartitioned Group. The
// output schema's key columns take their types from the partial schema a
// Group emits, so it isn't known until bindSchema runs.
func NewAggregate(keyColumns []string, aggs []AggExpr, numInputs int) *Aggregate {
	return &Aggregate{
		keyColumns: keyColumns,
		aggs:       aggs,
		numInputs:  numInputs,
		groups:     make(map[groupKey][]*accumulator),
		groupKeys:  make(map[groupKey]batch.Row),
	}
}

func (a *Aggregate) Bind(o *op.Operator) { a.self = o }

func (a *Aggregate) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		return a.bindSchema(m.Schema)
	case message.Data:
		a.self.Metrics.AddIn(int64(m.Batch.Len()))
		for _, row := range m.Batch.Rows {
			a.combine(row)
		}
		return nil
	case message.Complete:
		if m.Err != nil {
			return a.self.Emit(ctx, message.Complete{Operator: a.self.Name, Err: m.Err})
		}
		a.seenInputs++
		if a.seenInputs < a.numInputs {
			return nil
		}
		return a.flush(ctx)
	default:
		return nil
	}
}

func (a *Aggregate) bindSchema(schema *batch.Schema) error {
	if a.schema != nil {
		return nil // already bound by an earlier producer's FieldNames
	}
	a.schema = schema
	a.keyIdx = make([]int, len(a.keyColumns))
	for i, k := range a.keyColumns {
		idx, ok := schema.IndexOf(k)
		if !ok {
			return qerr.New(qerr.KindSchema, a.self.Name, "aggregate: unknown key column %q", k)
		}
		a.keyIdx[i] = idx
	}
	a.aggColIdx = make([][]int, len(a.aggs))
	for i, agg := range a.aggs {
		names := partialColumns(agg)
		idxs := make([]int, len(names))
		for j, c := range names {
			idx, ok := schema.IndexOf(c.Name)
			if !ok {
				return qerr.New(qerr.KindAggregate, a.self.Name, "aggregate: missing partial column %q", c.Name)
			}
			idxs[j] = idx
		}
		a.aggColIdx[i] = idxs
	}

	cols := schema.Columns()
	outCols := make([]batch.Column, 0, len(a.keyColumns)+len(a.aggs))
	for _, idx := range a.keyIdx {
		outCols = append(outCols, batch.Column{Name: cols[idx].Name, Type: cols[idx].Type})
	}
	for _, ag := range a.aggs {
		t := batch.TypeFloat64
		if ag.Kind == AggCount {
			t = batch.TypeInt64
		}
		outCols = append(outCols, batch.Column{Name: ag.As, Type: t})
	}
	a.outSchema = batch.NewSchema(outCols...)

	return nil
}

func (a *Aggregate) combine(row batch.Row) {
	k := makeGroupKey(row, a.keyIdx)
	accs, ok := a.groups[k]
	if !ok {
		accs = make([]*accumulator, len(a.aggs))
		for i := range a.aggs {
			accs[i] = newAccumulator(a.aggs[i].Kind)
		}
		a.groups[k] = accs
		a.groupKeys[k] = row
		a.order = append(a.order, k)
	}
	for i, idxs := range a.aggColIdx {
		vals := make([]batch.Value, len(idxs))
		for j, idx := range idxs {
			vals[j] = row[idx]
		}
		accs[i].combine(loadPartial(a.aggs[i].Kind, vals))
	}
}

func (a *Aggregate) finalize(acc *accumulator) batch.Value {
	switch acc.kind {
	case AggSum, AggMin, AggMax:
		if !acc.hasSeen {
			return batch.NullValue(batch.TypeFloat64)
		}
		switch acc.kind {
		case AggMin:
			return batch.Float64Value(acc.min)
		case AggMax:
			return batch.Float64Value(acc.max)
		default:
			return batch.Float64Value(acc.sum)
		}
	case AggCount:
		return batch.Int64Value(acc.count)
	case AggAvg:
		if acc.count == 0 {
			return batch.NullValue(batch.TypeFloat64)
		}
		return batch.Float64Value(acc.sum / float64(acc.count))
	default:
		return batch.NullValue(batch.TypeFloat64)
	}
}

func (a *Aggregate) flush(ctx context.Context) error {
	if err := a.self.Emit(ctx, message.FieldNames{Schema: a.outSchema}); err != nil {
		return err
	}
	order := slices.Clone(a.order)
	rows := make([]batch.Row, 0, len(order))
	for _, k := range order {
		keyRow := a.groupKeys[k]
		accs := a.groups[k]
		out := make(batch.Row, 0, len(a.keyIdx)+len(a.aggs))
		for _, idx := range a.keyIdx {
			out = append(out, keyRow[idx])
		}
		for _, acc := range accs {
			out = append(out, a.finalize(acc))
		}
		rows = append(rows, out)
	}
	a.self.Metrics.AddOut(int64(len(rows)))
	if len(rows) > 0 {
		if err := a.self.Emit(ctx, message.Data{Batch: batch.NewBatch(a.outSchema, rows)}); err != nil {
			return err
		}
	}
	return a.self.Emit(ctx, message.Complete{Operator: a.self.Name})
}
