package op_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []message.Message
}

func (h *recordingHandler) HandleMessage(ctx context.Context, msg message.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, msg)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestInlineOperatorDispatchesSynchronously(t *testing.T) {
	h := &recordingHandler{}
	o := op.New("inline-op", op.Inline, h)
	o.Run(context.Background())

	require.NoError(t, o.Send(context.Background(), message.Start{}))
	require.Equal(t, 1, h.count())
	require.Equal(t, op.Running, o.State())
}

func TestAsyncOperatorProcessesQueueAndCompletes(t *testing.T) {
	h := &recordingHandler{}
	o := op.New("async-op", op.Async, h)
	ctx := context.Background()
	o.Run(ctx)

	require.NoError(t, o.Send(ctx, message.Start{}))
	require.NoError(t, o.Send(ctx, message.Complete{Operator: "async-op"}))

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("operator did not complete")
	}
	require.Equal(t, op.Completed, o.State())
	require.NoError(t, o.Err())
}

type failingHandler struct{}

func (failingHandler) HandleMessage(ctx context.Context, msg message.Message) error {
	return errors.New("boom")
}

func TestAsyncOperatorFinishesWithErrorFromHandler(t *testing.T) {
	o := op.New("failing-op", op.Async, failingHandler{})
	ctx := context.Background()
	o.Run(ctx)
	require.NoError(t, o.Send(ctx, message.Start{}))

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("operator did not complete")
	}
	require.Error(t, o.Err())
}

func TestEmitFansOutToConsumers(t *testing.T) {
	producerHandler := &recordingHandler{}
	producer := op.New("producer", op.Inline, producerHandler)
	producer.Run(context.Background())

	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	c1 := op.New("c1", op.Inline, h1)
	c2 := op.New("c2", op.Inline, h2)
	c1.Run(context.Background())
	c2.Run(context.Background())
	producer.AddConsumer(c1)
	producer.AddConsumer(c2)

	require.NoError(t, producer.Emit(context.Background(), message.Start{}))
	require.Equal(t, 1, h1.count())
	require.Equal(t, 1, h2.count())
}

func TestMetricsAccumulate(t *testing.T) {
	var m op.Metrics
	m.AddIn(10)
	m.AddOut(8)
	m.AddBytesScanned(1024)
	snap := m.Snapshot()
	require.Equal(t, int64(10), snap.RowsIn)
	require.Equal(t, int64(8), snap.RowsOut)
	require.Equal(t, int64(1024), snap.BytesScanned)
	require.Equal(t, int64(1), snap.BatchesIn)
	require.Equal(t, int64(1), snap.BatchesOut)
}
