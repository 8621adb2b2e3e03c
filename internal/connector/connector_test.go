package connector_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/connector"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
)

type countingHandler struct {
	mu sync.Mutex
	n  int
}

func (h *countingHandler) HandleMessage(ctx context.Context, msg message.Message) error {
	h.mu.Lock()
	h.n++
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func newInlineOp(name string) (*op.Operator, *countingHandler) {
	h := &countingHandler{}
	o := op.New(name, op.Inline, h)
	o.Run(context.Background())
	return o, h
}

func TestOneToOne(t *testing.T) {
	producer, _ := newInlineOp("p")
	consumer, ch := newInlineOp("c")
	connector.OneToOne(producer, consumer)

	require.NoError(t, producer.Emit(context.Background(), message.Start{}))
	require.Equal(t, 1, ch.count())
}

func TestManyToOneFanIn(t *testing.T) {
	p1, _ := newInlineOp("p1")
	p2, _ := newInlineOp("p2")
	consumer, ch := newInlineOp("c")
	connector.ManyToOne([]*op.Operator{p1, p2}, consumer)

	require.NoError(t, p1.Emit(context.Background(), message.Start{}))
	require.NoError(t, p2.Emit(context.Background(), message.Start{}))
	require.Equal(t, 2, ch.count())
}

func TestManyToManyBroadcast(t *testing.T) {
	p1, _ := newInlineOp("p1")
	c1, ch1 := newInlineOp("c1")
	c2, ch2 := newInlineOp("c2")
	connector.ManyToMany([]*op.Operator{p1}, []*op.Operator{c1, c2})

	require.NoError(t, p1.Emit(context.Background(), message.Start{}))
	require.Equal(t, 1, ch1.count())
	require.Equal(t, 1, ch2.count())
}

func TestPartitionerIsConsistentAcrossCalls(t *testing.T) {
	part := connector.NewPartitioner(8)
	key := []byte("customer-42")
	idx1 := part.Index(key)
	idx2 := part.Index(key)
	require.Equal(t, idx1, idx2)
	require.GreaterOrEqual(t, idx1, 0)
	require.Less(t, idx1, 8)
}

func TestAllToAllWiresEveryProducerToEveryConsumer(t *testing.T) {
	p1, _ := newInlineOp("p1")
	p2, _ := newInlineOp("p2")
	c1, ch1 := newInlineOp("c1")
	c2, ch2 := newInlineOp("c2")
	part := connector.AllToAll([]*op.Operator{p1, p2}, []*op.Operator{c1, c2})
	require.Equal(t, 2, part.N())

	require.NoError(t, p1.Emit(context.Background(), message.Start{}))
	require.NoError(t, p2.Emit(context.Background(), message.Start{}))
	require.Equal(t, 2, ch1.count())
	require.Equal(t, 2, ch2.count())
}
