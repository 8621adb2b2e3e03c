package physical

import (
	"context"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// buildTable is the hash table a HashJoinBuild materialises and hands to
// its paired HashJoinProbe. Duplicate keys are chained.
type buildTable struct {
	schema  *batch.Schema
	keyIdx  int
	buckets map[string][]batch.Row
	rows    int64
}

func newBuildTable(schema *batch.Schema, keyIdx int) *buildTable {
	return &buildTable{schema: schema, keyIdx: keyIdx, buckets: make(map[string][]batch.Row)}
}

func (t *buildTable) insert(row batch.Row) {
	if row[t.keyIdx].Null {
		return
	}
	k := string(keyBytes(row[t.keyIdx]))
	t.buckets[k] = append(t.buckets[k], row)
	t.rows++
}

func (t *buildTable) Lookup(key []byte) []batch.Row { return t.buckets[string(key)] }

// HashJoinBuild consumes its input to completion into a hash table keyed
// by buildKey, then emits the table to its paired probe via a HashTable
// control message and completes.
type HashJoinBuild struct {
	buildKey string
	probe    *op.Operator // the single paired HashJoinProbe
	schema   *batch.Schema
	table    *buildTable
	self     *op.Operator
}

// NewHashJoinBuild constructs a build-side body keyed on buildKey. probe
// must be bound before Start (the paired probe operator is passed in here,
// at construction time).
func NewHashJoinBuild(buildKey string, probe *op.Operator) *HashJoinBuild {
	return &HashJoinBuild{buildKey: buildKey, probe: probe}
}

func (b *HashJoinBuild) Bind(o *op.Operator) { b.self = o }

// Probe returns the paired probe operator, so the plan builder can confirm
// it was registered in the same plan before execution.
func (b *HashJoinBuild) Probe() *op.Operator { return b.probe }

func (b *HashJoinBuild) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		b.schema = m.Schema
		idx, ok := m.Schema.IndexOf(b.buildKey)
		if !ok {
			return qerr.New(qerr.KindSchema, b.self.Name, "hashjoin build: unknown key column %q", b.buildKey)
		}
		b.table = newBuildTable(m.Schema, idx)
		return nil
	case message.Data:
		b.self.Metrics.AddIn(int64(m.Batch.Len()))
		for _, row := range m.Batch.Rows {
			b.table.insert(row)
		}
		return nil
	case message.Complete:
		if m.Err != nil {
			return b.probe.Send(ctx, message.Complete{Operator: b.self.Name, Err: m.Err})
		}
		eventbus.Publish(ctx, events.HashJoinBuildComplete{
			Operator: b.self.Name,
			RowCount: b.table.rows,
		})
		if err := b.probe.Send(ctx, message.HashTable{Operator: b.self.Name, Table: b.table}); err != nil {
			return err
		}
		return b.self.Emit(ctx, message.Complete{Operator: b.self.Name})
	default:
		return nil
	}
}

// HashJoinProbe holds probe-side rows in an in-memory staging slice, with no
// size bound, until its
// paired build table arrives, then emits the inner-join row concatenation
// for each match. Supports equi-join only.
type HashJoinProbe struct {
	probeKey          string
	probeSchema       *batch.Schema
	outSchema         *batch.Schema
	table             message.HashTableValue
	staged            []batch.Row
	probeDone         bool
	tableErr          error
	fieldNamesEmitted bool
	finished          bool
	self              *op.Operator
}

// NewHashJoinProbe constructs a probe-side body keyed on probeKey.
func NewHashJoinProbe(probeKey string) *HashJoinProbe {
	return &HashJoinProbe{probeKey: probeKey}
}

func (p *HashJoinProbe) Bind(o *op.Operator) { p.self = o }

// HandleMessage is order-agnostic across its four input signals (own
// FieldNames, own Data/Complete, and the build side's HashTable): every
// branch updates its own state and then calls ready, which only emits
// once both the probe schema and the build table are known.
func (p *HashJoinProbe) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		p.probeSchema = m.Schema
		return p.ready(ctx)
	case message.Data:
		p.self.Metrics.AddIn(int64(m.Batch.Len()))
		p.staged = append(p.staged, m.Batch.Rows...)
		if p.table == nil || p.probeSchema == nil {
			return nil
		}
		return p.drain(ctx)
	case message.Complete:
		p.probeDone = true
		if m.Err != nil {
			p.tableErr = m.Err
		}
		return p.ready(ctx)
	case message.HashTable:
		p.table = m.Table
		return p.ready(ctx)
	default:
		return nil
	}
}

// ready emits the joined FieldNames as soon as both the probe schema and
// the build table are known (exactly once), drains any rows staged before
// that point, and finishes once the probe side has also completed.
func (p *HashJoinProbe) ready(ctx context.Context) error {
	if p.tableErr != nil && p.probeDone {
		return p.finish(ctx)
	}
	if p.probeSchema == nil || p.table == nil {
		return nil
	}
	if !p.fieldNamesEmitted {
		p.fieldNamesEmitted = true
		if err := p.self.Emit(ctx, message.FieldNames{Schema: p.joinedSchema(p.buildSchemaOf(p.table))}); err != nil {
			return err
		}
	}
	if err := p.drain(ctx); err != nil {
		return err
	}
	if p.probeDone {
		return p.finish(ctx)
	}
	return nil
}

// buildSchemaOf extracts the build-side schema carried by a *buildTable;
// for any other HashTableValue implementation it returns nil.
func (p *HashJoinProbe) buildSchemaOf(t message.HashTableValue) *batch.Schema {
	if bt, ok := t.(*buildTable); ok {
		return bt.schema
	}
	return nil
}

func (p *HashJoinProbe) joinedSchema(buildSchema *batch.Schema) *batch.Schema {
	if p.outSchema == nil && buildSchema != nil {
		p.outSchema = p.probeSchema.Concat(buildSchema)
	}
	return p.outSchema
}

func (p *HashJoinProbe) drain(ctx context.Context) error {
	idx, ok := p.probeSchema.IndexOf(p.probeKey)
	if !ok {
		return qerr.New(qerr.KindSchema, p.self.Name, "hashjoin probe: unknown key column %q", p.probeKey)
	}
	rows := p.staged
	p.staged = nil
	joined := make([]batch.Row, 0, len(rows))
	for _, row := range rows {
		if row[idx].Null {
			continue
		}
		matches := p.table.Lookup(keyBytes(row[idx]))
		for _, build := range matches {
			joined = append(joined, row.Concat(build))
		}
	}
	if len(joined) == 0 {
		return nil
	}
	p.self.Metrics.AddOut(int64(len(joined)))
	return p.self.Emit(ctx, message.Data{Batch: batch.NewBatch(p.outSchema, joined)})
}

func (p *HashJoinProbe) finish(ctx context.Context) error {
	if p.finished {
		return nil
	}
	p.finished = true
	return p.self.Emit(ctx, message.Complete{Operator: p.self.Name, Err: p.tableErr})
}
