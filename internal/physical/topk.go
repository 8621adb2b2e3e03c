package physical

import (
	"context"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
	"github.com/qflowdb/qflow/internal/topk"
)

// TopKFilterBuild wraps a topk.Exchanger as a pass-through operator: every
// row it sees updates the running K-th best value on its sort column, and
// every time the threshold tightens it notifies subscribed scans with a
// Threshold control message so they can push a tighter predicate down to
// the object store. Rows themselves flow through unchanged.
type TopKFilterBuild struct {
	sortColumn  string
	exchanger   *topk.Exchanger
	subscribers []*op.Operator

	schema    *batch.Schema
	colIdx    int
	lastValid bool
	lastValue float64

	self *op.Operator
}

// NewTopKFilterBuild constructs a threshold tracker over sortColumn keeping
// the k best values in order, notifying subscribers of tightened
// thresholds.
func NewTopKFilterBuild(sortColumn string, k int, order topk.Order, subscribers []*op.Operator) *TopKFilterBuild {
	return &TopKFilterBuild{
		sortColumn:  sortColumn,
		exchanger:   topk.New(k, order),
		subscribers: subscribers,
	}
}

func (t *TopKFilterBuild) Bind(o *op.Operator) { t.self = o }

func (t *TopKFilterBuild) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		t.schema = m.Schema
		idx, ok := m.Schema.IndexOf(t.sortColumn)
		if !ok {
			return qerr.New(qerr.KindSchema, t.self.Name, "topk: unknown sort column %q", t.sortColumn)
		}
		t.colIdx = idx
		return t.self.Emit(ctx, m)
	case message.Data:
		return t.handleData(ctx, m.Batch)
	case message.Complete:
		return t.self.Emit(ctx, message.Complete{Operator: t.self.Name, Err: m.Err})
	case message.Eval:
		return t.handleEval(m)
	default:
		return nil
	}
}

func (t *TopKFilterBuild) handleData(ctx context.Context, b *batch.Batch) error {
	t.self.Metrics.AddIn(int64(b.Len()))
	for _, row := range b.Rows {
		t.exchanger.Observe(row[t.colIdx])
	}
	t.self.Metrics.AddOut(int64(b.Len()))
	if err := t.self.Emit(ctx, message.Data{Batch: b}); err != nil {
		return err
	}
	return t.notifyIfTightened(ctx)
}

func (t *TopKFilterBuild) notifyIfTightened(ctx context.Context) error {
	value, valid := t.exchanger.Threshold()
	if !valid {
		return nil
	}
	if t.lastValid && value == t.lastValue {
		return nil
	}
	t.lastValid, t.lastValue = valid, value
	msg := message.Threshold{
		Operator: t.self.Name,
		Column:   t.sortColumn,
		Value:    batch.Float64Value(value),
		Valid:    valid,
		Desc:     t.exchanger.Order() == topk.Desc,
	}
	for _, sub := range t.subscribers {
		if err := sub.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *TopKFilterBuild) handleEval(m message.Eval) error {
	value, valid := t.exchanger.Threshold()
	reply := message.Evaluated{
		Operator: t.self.Name,
		Query:    m.Query,
		Value: message.Threshold{
			Operator: t.self.Name,
			Column:   t.sortColumn,
			Value:    batch.Float64Value(value),
			Valid:    valid,
			Desc:     t.exchanger.Order() == topk.Desc,
		},
	}
	select {
	case m.ReplyTo <- reply:
	default:
	}
	return nil
}
