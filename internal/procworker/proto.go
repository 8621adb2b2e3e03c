package procworker

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName and streamName name the RPC exactly as a .proto file would,
// even though no .proto file or protoc invocation produced this code.
const (
	serviceName = "qflow.v1.OperatorWorker"
	streamName  = "Exchange"
)

var operatorWorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*operatorWorkerServer)(nil),
	Methods:     nil,
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/procworker/proto.go",
}

// operatorWorkerServer is implemented by Server; it's the HandlerType the
// manually-built ServiceDesc dispatches into.
type operatorWorkerServer interface {
	Exchange(exchangeServerStream) error
}

type exchangeServerStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type serverStream struct{ grpc.ServerStream }

func (s *serverStream) Send(m *wrapperspb.BytesValue) error { return s.ServerStream.SendMsg(m) }

func (s *serverStream) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(operatorWorkerServer).Exchange(&serverStream{stream})
}

// exchangeClientStream is the client's half of the Exchange RPC.
type exchangeClientStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type clientStream struct{ grpc.ClientStream }

func (c *clientStream) Send(m *wrapperspb.BytesValue) error { return c.ClientStream.SendMsg(m) }

func (c *clientStream) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newExchangeClientStream(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (exchangeClientStream, error) {
	stream, err := cc.NewStream(ctx, &operatorWorkerServiceDesc.Streams[0], "/"+serviceName+"/"+streamName, opts...)
	if err != nil {
		return nil, err
	}
	return &clientStream{stream}, nil
}
