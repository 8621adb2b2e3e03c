package physical

import (
	"context"
	"sync"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
)

// Collate is the terminal sink of a plan: it buffers every row it
// receives, in receipt order, and exposes them once its input completes.
// The field-name vector is exposed through Schema() and the data rows
// through Rows(); callers read the two together rather than a single
// interleaved slice, since Data messages carry typed rows, not formatted
// output.
type Collate struct {
	mu     sync.Mutex
	schema *batch.Schema
	rows   []batch.Row
	done   chan struct{}
	doneOnce sync.Once
	err    error
	self   *op.Operator
}

// NewCollate constructs an empty sink.
func NewCollate() *Collate {
	return &Collate{done: make(chan struct{})}
}

func (c *Collate) Bind(o *op.Operator) { c.self = o }

func (c *Collate) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.FieldNames:
		c.mu.Lock()
		c.schema = m.Schema
		c.mu.Unlock()
		return nil
	case message.Data:
		c.self.Metrics.AddIn(int64(m.Batch.Len()))
		c.mu.Lock()
		c.rows = append(c.rows, m.Batch.Rows...)
		c.mu.Unlock()
		return nil
	case message.Complete:
		c.mu.Lock()
		c.err = m.Err
		c.mu.Unlock()
		c.doneOnce.Do(func() { close(c.done) })
		// Collate has no real downstream, but it still forwards its own
		// Complete — the plan's completion tracking listens for exactly
		// this, attached as an ordinary consumer of every operator.
		return c.self.Emit(ctx, message.Complete{Operator: c.self.Name, Err: m.Err})
	default:
		return nil
	}
}

// Done is closed once Collate has received its final Complete.
func (c *Collate) Done() <-chan struct{} { return c.done }

// Schema returns the field-name vector observed on this stream. Valid only
// after Done is closed.
func (c *Collate) Schema() *batch.Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema
}

// Rows returns every row collected, in receipt order. Valid only after
// Done is closed.
func (c *Collate) Rows() []batch.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]batch.Row, len(c.rows))
	copy(out, c.rows)
	return out
}

// Err returns the terminal error, if the upstream plan failed.
func (c *Collate) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
