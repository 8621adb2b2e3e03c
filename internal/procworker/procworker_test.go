package procworker_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/expr"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/physical"
	"github.com/qflowdb/qflow/internal/procworker"
)

// fakeSource mirrors internal/plan's test double: on Start it emits one
// schema, one batch, then Complete.
type fakeSource struct {
	schema *batch.Schema
	rows   []batch.Row
	self   *op.Operator
}

func (s *fakeSource) Bind(o *op.Operator) { s.self = o }

func (s *fakeSource) HandleMessage(ctx context.Context, msg message.Message) error {
	switch msg.(type) {
	case message.Start:
		if err := s.self.Emit(ctx, message.FieldNames{Schema: s.schema}); err != nil {
			return err
		}
		if err := s.self.Emit(ctx, message.Data{Batch: batch.NewBatch(s.schema, s.rows)}); err != nil {
			return err
		}
		return s.self.Emit(ctx, message.Complete{Operator: s.self.Name})
	default:
		return nil
	}
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	return conn
}

// TestRemoteFilterAcrossProcessBoundary runs a Filter operator behind a
// Server, reached through a RemoteBody over an in-memory gRPC connection,
// and confirms the decoded rows match running the same Filter in-process.
func TestRemoteFilterAcrossProcessBoundary(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	pred := expr.BinOp{Op: expr.OpGt, Left: expr.Col("n"), Right: expr.Lit{Value: batch.Int64Value(2)}}
	procworker.Register(grpcServer, procworker.NewServer("filter", op.Inline, physical.NewFilter(pred)))
	go func() { _ = grpcServer.Serve(lis) }()
	defer grpcServer.Stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	remote := procworker.NewRemoteBody(conn)
	remoteOp := op.New("remote-filter", op.Async, remote)
	require.NoError(t, remote.Start(ctx))
	remoteOp.Run(ctx)

	schema := batch.NewSchema(batch.Column{Name: "n", Type: batch.TypeInt64})
	source := &fakeSource{schema: schema, rows: []batch.Row{
		{batch.Int64Value(1)},
		{batch.Int64Value(3)},
		{batch.Int64Value(5)},
	}}
	sourceOp := op.New("source", op.Async, source)
	source.Bind(sourceOp)
	sourceOp.AddConsumer(remoteOp)
	sourceOp.Run(ctx)

	collate := physical.NewCollate()
	collateOp := op.New("collate", op.Async, collate)
	collate.Bind(collateOp)
	collateOp.Run(ctx)
	remoteOp.AddConsumer(collateOp)

	require.NoError(t, sourceOp.Send(ctx, message.Start{}))

	select {
	case <-collate.Done():
	case <-ctx.Done():
		t.Fatal("timed out waiting for collate to complete")
	}

	require.NoError(t, collate.Err())
	rows := collate.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, int64(3), rows[0][0].I64)
	require.Equal(t, int64(5), rows[1][0].I64)

	// Mirror plan.Plan's own shutdown: tell the remote operator to stop,
	// which closes the Exchange stream's send side and lets the server's
	// Recv loop exit cleanly instead of only via grpcServer.Stop().
	require.NoError(t, remoteOp.Send(ctx, message.Stop{}))
	remoteOp.Stop()
	<-remoteOp.Done()
}
