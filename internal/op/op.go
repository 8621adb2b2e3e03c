// Package op implements the operator runtime: the actor wrapper every
// physical operator (Scan, Project, Filter, Map, HashJoinBuild/Probe,
// Group, Aggregate, BloomCreate, BloomUse, TopKFilterBuild, Collate) runs
// inside. An Operator owns a bounded inbound queue and a consumer list; it
// never shares mutable state with its peers, only exchanges messages.
package op

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/qerr"
)

// Mode selects how an operator consumes its inbound queue.
type Mode int

const (
	// Inline operators run their handler synchronously on the delivering
	// goroutine — no dedicated worker loop, no queue contention. Project,
	// Filter, and Cast-only transforms run inline since they hold no state
	// across messages.
	Inline Mode = iota
	// Async operators own a dedicated goroutine draining a bounded inbound
	// queue. Scan, the join/aggregate/bloom/top-K builders, and any
	// operator that must serialize access to accumulated state run async.
	Async
)

// State is the lifecycle position of an operator within a plan.
type State int32

const (
	Pending State = iota
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Handler is implemented by a physical operator's core logic. HandleMessage
// is invoked once per inbound message (Inline: on the caller's goroutine;
// Async: on the operator's own worker goroutine, so it never needs its own
// locking for state mutated only from here).
type Handler interface {
	HandleMessage(ctx context.Context, msg message.Message) error
}

// Metrics accumulates the per-operator counters exposed to Eval queries and
// printed in a plan's final report.
type Metrics struct {
	mu           sync.Mutex
	RowsIn       int64
	RowsOut      int64
	BatchesIn    int64
	BatchesOut   int64
	BytesScanned int64
}

func (m *Metrics) AddIn(rows int64)  { m.mu.Lock(); m.RowsIn += rows; m.BatchesIn++; m.mu.Unlock() }
func (m *Metrics) AddOut(rows int64) { m.mu.Lock(); m.RowsOut += rows; m.BatchesOut++; m.mu.Unlock() }
func (m *Metrics) AddBytesScanned(n int64) {
	m.mu.Lock()
	m.BytesScanned += n
	m.mu.Unlock()
}

// Snapshot returns a copy safe to read without further locking.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{RowsIn: m.RowsIn, RowsOut: m.RowsOut, BatchesIn: m.BatchesIn, BatchesOut: m.BatchesOut, BytesScanned: m.BytesScanned}
}

// queueDepth is the default bound on an async operator's inbound channel;
// it is deliberately small so a slow consumer applies back-pressure to its
// producer rather than letting the whole plan buffer unboundedly in memory.
const queueDepth = 64

// Operator wraps a Handler with the bookkeeping every physical operator
// needs: a name unique within its plan, a lifecycle state, an inbound
// queue (for Async mode), consumer fan-out, and completion signalling.
type Operator struct {
	Name    string
	Mode    Mode
	Metrics Metrics

	handler   Handler
	state     atomic.Int32
	inbound   chan message.Message
	consumers []*Operator
	done      chan struct{}
	doneOnce  sync.Once
	err       atomic.Pointer[error]
}

// New constructs an Operator. Async operators get a bounded inbound queue;
// Inline operators get none, since HandleMessage runs on the sender's
// goroutine.
func New(name string, mode Mode, h Handler) *Operator {
	o := &Operator{Name: name, Mode: mode, handler: h, done: make(chan struct{})}
	if mode == Async {
		o.inbound = make(chan message.Message, queueDepth)
	}
	return o
}

// AddConsumer registers a downstream operator that will receive every
// message this operator emits via Emit. Connectors call this while wiring
// a plan, before any operator is started.
func (o *Operator) AddConsumer(consumer *Operator) {
	o.consumers = append(o.consumers, consumer)
}

// Consumers returns the registered downstream operators, used by
// connectors that need to pick a specific consumer (e.g. hash-partitioned
// routing) rather than broadcasting via Emit.
func (o *Operator) Consumers() []*Operator { return o.consumers }

// State returns the operator's current lifecycle state.
func (o *Operator) State() State { return State(o.state.Load()) }

// Err returns the error the operator completed with, if any.
func (o *Operator) Err() error {
	if p := o.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Send delivers msg to the operator: inline operators process it
// synchronously on the caller's goroutine, async operators enqueue it
// (blocking if the queue is full, providing back-pressure).
func (o *Operator) Send(ctx context.Context, msg message.Message) error {
	if o.Mode == Inline {
		return o.dispatch(ctx, msg)
	}
	select {
	case o.inbound <- msg:
		return nil
	case <-ctx.Done():
		return qerr.Wrap(qerr.KindShutdown, o.Name, ctx.Err())
	case <-o.done:
		return nil
	}
}

// Run starts the async worker loop. It is a no-op for Inline operators.
// Run returns at once; the worker loop exits when the inbound queue is
// closed, a Complete has been handled, the handler returns an error, or ctx
// is cancelled.
func (o *Operator) Run(ctx context.Context) {
	if o.Mode == Inline {
		o.state.Store(int32(Running))
		return
	}
	o.state.Store(int32(Running))
	go o.loop(ctx)
}

func (o *Operator) loop(ctx context.Context) {
	for {
		select {
		case msg, ok := <-o.inbound:
			if !ok {
				o.finish(nil)
				return
			}
			if err := o.dispatch(ctx, msg); err != nil {
				o.finish(err)
				return
			}
			if _, ok := msg.(message.Complete); ok {
				o.finish(nil)
				return
			}
		case <-ctx.Done():
			o.finish(qerr.Wrap(qerr.KindShutdown, o.Name, ctx.Err()))
			return
		}
	}
}

func (o *Operator) dispatch(ctx context.Context, msg message.Message) error {
	return o.handler.HandleMessage(ctx, msg)
}

func (o *Operator) finish(err error) {
	o.doneOnce.Do(func() {
		if err != nil {
			o.err.Store(&err)
		}
		o.state.Store(int32(Completed))
		close(o.done)
	})
}

// Done returns a channel closed once the operator has completed.
func (o *Operator) Done() <-chan struct{} { return o.done }

// Emit fans msg out to every registered consumer. Physical operators call
// this from within HandleMessage to publish Data/FieldNames/Complete
// downstream; an Inline consumer runs msg's handler synchronously on this
// goroutine, an Async consumer enqueues it (blocking on that consumer's
// queue bound).
func (o *Operator) Emit(ctx context.Context, msg message.Message) error {
	for _, c := range o.consumers {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the inbound queue (Async only), causing the worker loop to
// drain remaining buffered messages and exit. It is idempotent.
func (o *Operator) Stop() {
	if o.Mode == Async {
		defer func() { recover() }() // closing an already-closed channel
		close(o.inbound)
	}
}
