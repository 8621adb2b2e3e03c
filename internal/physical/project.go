package physical

import (
	"context"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/expr"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// ProjectColumn names one output column of a Project and the expression
// that computes it from the input row.
type ProjectColumn struct {
	Name string
	Expr expr.Node
	Type batch.Type
}

// Project is a stateless row-wise transform: each output column is an
// expr.Node evaluated against the input row. It is always run Inline since
// it holds no state across messages.
type Project struct {
	cols       []ProjectColumn
	outSchema  *batch.Schema
	inSchema   *batch.Schema
	self       *op.Operator
}

// NewProject constructs a Project body computing cols from each input row.
func NewProject(cols []ProjectColumn) *Project {
	outCols := make([]batch.Column, len(cols))
	for i, c := range cols {
		outCols[i] = batch.Column{Name: c.Name, Type: c.Type}
	}
	return &Project{cols: cols, outSchema: batch.NewSchema(outCols...)}
}

func (p *Project) Bind(o *op.Operator) { p.self = o }

func (p *Project) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		p.inSchema = m.Schema
		return p.self.Emit(ctx, message.FieldNames{Schema: p.outSchema})
	case message.Data:
		return p.handleData(ctx, m.Batch)
	case message.Complete:
		return p.self.Emit(ctx, message.Complete{Operator: p.self.Name, Err: m.Err})
	default:
		return nil
	}
}

func (p *Project) handleData(ctx context.Context, b *batch.Batch) error {
	p.self.Metrics.AddIn(int64(b.Len()))
	rows := make([]batch.Row, len(b.Rows))
	for i, row := range b.Rows {
		out := make(batch.Row, len(p.cols))
		for c, col := range p.cols {
			v, err := expr.EvalRow(col.Expr, row, p.inSchema)
			if err != nil {
				return qerr.Wrap(qerr.KindSchema, p.self.Name, err)
			}
			out[c] = v
		}
		rows[i] = out
	}
	p.self.Metrics.AddOut(int64(len(rows)))
	return p.self.Emit(ctx, message.Data{Batch: batch.NewBatch(p.outSchema, rows)})
}
