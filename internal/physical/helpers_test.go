package physical_test

import (
	"context"
	"sync"

	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
)

// capturingHandler records every message it receives, in order, so tests
// can assert on what a physical operator emitted.
type capturingHandler struct {
	mu  sync.Mutex
	msg []message.Message
}

func (h *capturingHandler) HandleMessage(ctx context.Context, msg message.Message) error {
	h.mu.Lock()
	h.msg = append(h.msg, msg)
	h.mu.Unlock()
	return nil
}

func (h *capturingHandler) messages() []message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]message.Message, len(h.msg))
	copy(out, h.msg)
	return out
}

func newCapturingConsumer(ctx context.Context, name string) (*op.Operator, *capturingHandler) {
	h := &capturingHandler{}
	o := op.New(name, op.Inline, h)
	o.Run(ctx)
	return o, h
}

// bindOperator wraps a physical-operator body in an Inline *op.Operator,
// binds it, wires consumers, and runs it — mirroring what plan.Add and
// Plan.Execute do for a registered operator.
func bindOperator(ctx context.Context, name string, body interface {
	Bind(*op.Operator)
	HandleMessage(context.Context, message.Message) error
}, consumers ...*op.Operator) *op.Operator {
	o := op.New(name, op.Inline, body)
	body.Bind(o)
	for _, c := range consumers {
		o.AddConsumer(c)
	}
	o.Run(ctx)
	return o
}
