package physical

import (
	"context"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/connector"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// Map hashes each row on a named key column and forwards it to
// consumer[h(key) mod len(consumers)], guaranteeing rows sharing a key
// value land on the same downstream shard. Order within a shard matches
// input order; order across shards is not preserved.
type Map struct {
	keyColumn string
	part      *connector.Partitioner
	schema    *batch.Schema
	self      *op.Operator
}

// NewMap constructs a repartitioner keyed on keyColumn, sharing part with
// every other Map feeding the same all-to-all stage so their partitioning
// decisions agree.
func NewMap(keyColumn string, part *connector.Partitioner) *Map {
	return &Map{keyColumn: keyColumn, part: part}
}

func (m *Map) Bind(o *op.Operator) { m.self = o }

func (m *Map) HandleMessage(ctx context.Context, msg message.Message) error {
	switch msg := msg.(type) {
	case message.FieldNames:
		m.schema = msg.Schema
		for _, c := range m.self.Consumers() {
			if err := c.Send(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	case message.Data:
		return m.handleData(ctx, msg.Batch)
	case message.Complete:
		for _, c := range m.self.Consumers() {
			if err := c.Send(ctx, message.Complete{Operator: m.self.Name, Err: msg.Err}); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func (m *Map) handleData(ctx context.Context, b *batch.Batch) error {
	m.self.Metrics.AddIn(int64(b.Len()))
	idx, ok := m.schema.IndexOf(m.keyColumn)
	if !ok {
		return qerr.New(qerr.KindSchema, m.self.Name, "map: unknown key column %q", m.keyColumn)
	}

	consumers := m.self.Consumers()
	buckets := make([][]batch.Row, len(consumers))
	for _, row := range b.Rows {
		p := m.part.Index(keyBytes(row[idx]))
		buckets[p] = append(buckets[p], row)
	}
	m.self.Metrics.AddOut(int64(b.Len()))
	for p, rows := range buckets {
		if len(rows) == 0 {
			continue
		}
		if err := consumers[p].Send(ctx, message.Data{Batch: batch.NewBatch(b.Schema, rows)}); err != nil {
			return err
		}
	}
	return nil
}
