package physical

import (
	"context"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/bloom"
	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// falsePositiveRate is the target bloom false-positive rate used to size
// every filter this operator builds.
const falsePositiveRate = 0.01

// BloomCreate observes one column of its input to completion, inserting
// every distinct non-null value into a bloom.Filter sized for the number
// of distinct values observed, then delivers the finished filter to every subscribed
// ScanBloomUse operator and completes. The distinct values themselves are
// kept (not just their bloom-coded bytes) so a small build side can be
// forwarded as a literal key set instead of only bloom bits.
type BloomCreate struct {
	column      string
	subscribers []*op.Operator
	schema      *batch.Schema
	colIdx      int
	seen        map[string]batch.Value
	self        *op.Operator
}

// NewBloomCreate constructs a filter-builder over column, delivering the
// finished filter to each of subscribers once its own input completes.
func NewBloomCreate(column string, subscribers []*op.Operator) *BloomCreate {
	return &BloomCreate{column: column, subscribers: subscribers, seen: make(map[string]batch.Value)}
}

func (b *BloomCreate) Bind(o *op.Operator) { b.self = o }

func (b *BloomCreate) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		b.schema = m.Schema
		idx, ok := m.Schema.IndexOf(b.column)
		if !ok {
			return qerr.New(qerr.KindSchema, b.self.Name, "bloomcreate: unknown column %q", b.column)
		}
		b.colIdx = idx
		return nil
	case message.Data:
		b.self.Metrics.AddIn(int64(m.Batch.Len()))
		for _, row := range m.Batch.Rows {
			v := row[b.colIdx]
			if v.Null {
				continue
			}
			b.seen[string(keyBytes(v))] = v
		}
		return nil
	case message.Complete:
		if m.Err != nil {
			return b.self.Emit(ctx, message.Complete{Operator: b.self.Name, Err: m.Err})
		}
		return b.publish(ctx)
	default:
		return nil
	}
}

func (b *BloomCreate) publish(ctx context.Context) error {
	filter := bloom.New(uint64(len(b.seen)), falsePositiveRate)
	for key := range b.seen {
		filter.Insert([]byte(key))
	}

	var keys []batch.Value
	if len(b.seen) > 0 && len(b.seen) <= smallCardinalityThreshold {
		keys = make([]batch.Value, 0, len(b.seen))
		for _, v := range b.seen {
			keys = append(keys, v)
		}
	}

	for _, sub := range b.subscribers {
		eventbus.Publish(ctx, events.BloomDelivered{
			FromOperator: b.self.Name,
			ToOperator:   sub.Name,
			Cardinality:  filter.Cardinality(),
		})
		if err := sub.Send(ctx, message.BloomFilter{Operator: b.self.Name, Column: b.column, Filter: filter, Keys: keys}); err != nil {
			return err
		}
	}
	return b.self.Emit(ctx, message.Complete{Operator: b.self.Name})
}
