package procworker

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
)

// Body is the shape an operator's logic must have to run inside a Server:
// the same Bind-plus-Handler contract internal/plan.Body requires,
// duplicated here so this package doesn't depend on the scheduler.
type Body interface {
	op.Handler
	Bind(*op.Operator)
}

// Server hosts one operator Body in this process and exchanges its
// messages with a remote plan over one Exchange stream. One Server value
// handles exactly one stream at a time; Serve blocks for the stream's
// lifetime.
type Server struct {
	name string
	mode op.Mode
	body Body
}

// NewServer wraps body to be driven over gRPC instead of by a local
// *plan.Plan. name and mode mirror what a plan.Add call would have used.
func NewServer(name string, mode op.Mode, body Body) *Server {
	return &Server{name: name, mode: mode, body: body}
}

// streamForwarder is the local operator's sole consumer: every message the
// hosted Body emits is serialized and sent back over the stream, standing
// in for whatever local consumers the message would otherwise fan out to.
type streamForwarder struct {
	stream exchangeServerStream
}

func (f *streamForwarder) HandleMessage(ctx context.Context, msg message.Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return f.stream.Send(&wrapperspb.BytesValue{Value: payload})
}

// Exchange implements operatorWorkerServer; it's registered against a
// *grpc.Server via Register.
func (s *Server) Exchange(stream exchangeServerStream) error {
	ctx := stream.Context()

	local := op.New(s.name, s.mode, s.body)
	s.body.Bind(local)
	uplink := op.New(s.name+"~uplink", op.Inline, &streamForwarder{stream: stream})
	uplink.Run(ctx)
	local.AddConsumer(uplink)
	local.Run(ctx)

	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		msg, err := decodeMessage(frame.Value)
		if err != nil {
			return err
		}
		if err := local.Send(ctx, msg); err != nil {
			return err
		}
		if _, ok := msg.(message.Stop); ok {
			break
		}
	}

	if s.mode == op.Async {
		local.Stop()
		<-local.Done()
	}
	return nil
}

// Register attaches s to grpcServer under the OperatorWorker service name.
func Register(grpcServer grpc.ServiceRegistrar, s *Server) {
	grpcServer.RegisterService(&operatorWorkerServiceDesc, s)
}
