package physical

import (
	"context"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/expr"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// Filter is a stateless predicate transform: rows for which pred evaluates
// true are forwarded; a null predicate result filters the row out, per SQL
// WHERE semantics. Always run Inline.
type Filter struct {
	pred   expr.Node
	schema *batch.Schema
	self   *op.Operator
}

// NewFilter constructs a Filter body over pred.
func NewFilter(pred expr.Node) *Filter {
	return &Filter{pred: pred}
}

func (f *Filter) Bind(o *op.Operator) { f.self = o }

func (f *Filter) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		f.schema = m.Schema
		return f.self.Emit(ctx, m)
	case message.Data:
		return f.handleData(ctx, m.Batch)
	case message.Complete:
		return f.self.Emit(ctx, message.Complete{Operator: f.self.Name, Err: m.Err})
	default:
		return nil
	}
}

func (f *Filter) handleData(ctx context.Context, b *batch.Batch) error {
	f.self.Metrics.AddIn(int64(b.Len()))
	mask, err := expr.FilterMask(f.pred, b)
	if err != nil {
		return qerr.Wrap(qerr.KindPredicate, f.self.Name, err)
	}
	rows := make([]batch.Row, 0, len(b.Rows))
	for i, keep := range mask {
		if keep {
			rows = append(rows, b.Rows[i])
		}
	}
	f.self.Metrics.AddOut(int64(len(rows)))
	if len(rows) == 0 {
		return nil
	}
	return f.self.Emit(ctx, message.Data{Batch: batch.NewBatch(b.Schema, rows)})
}
