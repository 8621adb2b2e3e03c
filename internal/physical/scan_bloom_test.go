package physical_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/bloom"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/objectstore"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/physical"
)

// TestScanBloomUseFiltersLocallyByMembership confirms rows whose key the
// delivered bloom filter rejects are dropped before forwarding.
func TestScanBloomUseFiltersLocallyByMembership(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	schema := custkeySchema()
	client := &fakeClient{reader: &fakeReader{batches: []*batch.Batch{
		batch.NewBatch(schema, []batch.Row{
			{batch.Int64Value(1)},
			{batch.Int64Value(2)},
			{batch.Int64Value(3)},
		}),
	}}}

	filter := bloom.New(2, 0.01)
	filter.Insert([]byte("1"))
	filter.Insert([]byte("3"))

	body := physical.NewScanBloomUse(physical.ScanConfig{Bucket: "b", Key: "k", Schema: schema}, client, "c_custkey")
	scanOp := op.New("scan", op.Async, body)
	body.Bind(scanOp)
	scanOp.AddConsumer(consumer)
	scanOp.Run(ctx)

	require.NoError(t, scanOp.Send(ctx, message.BloomFilter{Operator: "bloomcreate", Column: "c_custkey", Filter: filter}))
	require.NoError(t, scanOp.Send(ctx, message.Start{}))
	scanOp.Stop()
	<-scanOp.Done()

	msgs := sink.messages()
	require.Len(t, msgs, 3) // FieldNames, Data, Complete
	data := msgs[1].(message.Data)
	require.Len(t, data.Batch.Rows, 2)
	require.Equal(t, int64(1), data.Batch.Rows[0][0].I64)
	require.Equal(t, int64(3), data.Batch.Rows[1][0].I64)
}

// TestScanBloomUseShortCircuitsOnEmptyFilter confirms an empty build side
// skips the select request entirely.
func TestScanBloomUseShortCircuitsOnEmptyFilter(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	schema := custkeySchema()
	client := &fakeClient{reader: &fakeReader{batches: []*batch.Batch{
		batch.NewBatch(schema, []batch.Row{{batch.Int64Value(1)}}),
	}}}

	filter := bloom.New(0, 0.01)
	body := physical.NewScanBloomUse(physical.ScanConfig{Bucket: "b", Key: "k", Schema: schema}, client, "c_custkey")
	scanOp := op.New("scan", op.Async, body)
	body.Bind(scanOp)
	scanOp.AddConsumer(consumer)
	scanOp.Run(ctx)

	require.NoError(t, scanOp.Send(ctx, message.BloomFilter{Operator: "bloomcreate", Column: "c_custkey", Filter: filter}))
	require.NoError(t, scanOp.Send(ctx, message.Start{}))
	scanOp.Stop()
	<-scanOp.Done()

	msgs := sink.messages()
	require.Len(t, msgs, 2) // FieldNames, Complete — no Data, no client call
	_, ok := msgs[1].(message.Complete)
	require.True(t, ok)
}

// TestScanBloomUseRewritesQueryWithInListForSmallBuildSide confirms a bloom
// filter carrying a small key set is rendered as an IN (...) predicate the
// object store evaluates itself, rather than only pruning client-side.
func TestScanBloomUseRewritesQueryWithInListForSmallBuildSide(t *testing.T) {
	ctx := context.Background()
	consumer, _ := newCapturingConsumer(ctx, "collate")

	schema := custkeySchema()
	client := &fakeClient{reader: &fakeReader{batches: []*batch.Batch{
		batch.NewBatch(schema, []batch.Row{{batch.Int64Value(1)}}),
	}}}

	filter := bloom.New(2, 0.01)
	filter.Insert([]byte("1"))
	filter.Insert([]byte("3"))

	body := physical.NewScanBloomUse(physical.ScanConfig{
		Bucket: "b", Key: "k", SQL: "SELECT * FROM s3object", Schema: schema,
	}, client, "c_custkey")
	scanOp := op.New("scan", op.Async, body)
	body.Bind(scanOp)
	scanOp.AddConsumer(consumer)
	scanOp.Run(ctx)

	require.NoError(t, scanOp.Send(ctx, message.BloomFilter{
		Operator: "bloomcreate", Column: "c_custkey", Filter: filter,
		Keys: []batch.Value{batch.Int64Value(1), batch.Int64Value(3)},
	}))
	require.NoError(t, scanOp.Send(ctx, message.Start{}))
	scanOp.Stop()
	<-scanOp.Done()

	require.Equal(t, "SELECT * FROM s3object WHERE c_custkey IN (1, 3)", client.gotQuery)
}

var _ objectstore.Client = (*fakeClient)(nil)
