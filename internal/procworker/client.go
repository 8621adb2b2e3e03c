package procworker

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/qflowdb/qflow/internal/grpctp"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
)

// RemoteBody is a plan.Body standing in for an operator whose real logic
// runs in a separate process behind a Server: every message delivered to
// it is forwarded over an Exchange stream, and every message the remote
// Body emits is replayed locally via self.Emit, so the rest of the plan
// never knows the operator isn't local.
type RemoteBody struct {
	cc      grpc.ClientConnInterface
	release func()
	self    *op.Operator
	stream  exchangeClientStream
	recvErr chan error
}

// NewRemoteBody constructs a client-side proxy dialed against cc, the
// connection to the process hosting the paired Server.
func NewRemoteBody(cc grpc.ClientConnInterface) *RemoteBody {
	return &RemoteBody{cc: cc}
}

// NewRemoteBodyFromPool resolves operator to one of its worker endpoints
// through t and builds a RemoteBody against the pooled connection,
// releasing it back to the pool once the operator stops. Use this instead
// of NewRemoteBody whenever a remote operator may be hosted by more than
// one worker process.
func NewRemoteBodyFromPool(ctx context.Context, t *grpctp.Transport, operator string) (*RemoteBody, error) {
	cc, release, err := t.Dial(ctx, operator)
	if err != nil {
		return nil, fmt.Errorf("procworker: dial %s: %w", operator, err)
	}
	return &RemoteBody{cc: cc, release: release}, nil
}

func (r *RemoteBody) Bind(o *op.Operator) { r.self = o }

// Start opens the Exchange stream and launches the goroutine that replays
// the remote operator's emitted messages locally. Callers invoke Start
// once, before the plan begins sending it messages — plan.Plan does this
// implicitly for ordinary bodies by constructing them ready-to-run; a
// RemoteBody additionally needs the network half wired up, so Start is
// called right after plan.Add.
func (r *RemoteBody) Start(ctx context.Context) error {
	stream, err := newExchangeClientStream(ctx, r.cc)
	if err != nil {
		return fmt.Errorf("procworker: open stream: %w", err)
	}
	r.stream = stream
	r.recvErr = make(chan error, 1)
	go r.recvLoop(ctx)
	return nil
}

func (r *RemoteBody) recvLoop(ctx context.Context) {
	defer close(r.recvErr)
	if r.release != nil {
		defer r.release()
	}
	for {
		frame, err := r.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			r.recvErr <- err
			return
		}
		msg, err := decodeMessage(frame.Value)
		if err != nil {
			r.recvErr <- err
			return
		}
		if err := r.self.Emit(ctx, msg); err != nil {
			r.recvErr <- err
			return
		}
	}
}

func (r *RemoteBody) HandleMessage(ctx context.Context, msg message.Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := r.stream.Send(&wrapperspb.BytesValue{Value: payload}); err != nil {
		return fmt.Errorf("procworker: send %T: %w", msg, err)
	}
	if _, ok := msg.(message.Stop); ok {
		return r.stream.CloseSend()
	}
	return nil
}
