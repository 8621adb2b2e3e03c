package physical_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/physical"
)

func custkeySchema() *batch.Schema {
	return batch.NewSchema(batch.Column{Name: "c_custkey", Type: batch.TypeInt64})
}

// TestBloomCreateDeliversFilterToSubscribers exercises the common path:
// observe a column to completion, build a sized filter, and deliver it to
// every subscriber, each of which sees exactly one BloomFilter message
// whose filter reports every observed key as a member.
func TestBloomCreateDeliversFilterToSubscribers(t *testing.T) {
	ctx := context.Background()
	subOp, subSink := newCapturingConsumer(ctx, "subscriber")

	body := physical.NewBloomCreate("c_custkey", []*op.Operator{subOp})
	bloomOp := op.New("bloomcreate", op.Inline, body)
	body.Bind(bloomOp)
	bloomOp.Run(ctx)

	require.NoError(t, bloomOp.Send(ctx, message.FieldNames{Schema: custkeySchema()}))
	require.NoError(t, bloomOp.Send(ctx, message.Data{Batch: batch.NewBatch(custkeySchema(), []batch.Row{
		{batch.Int64Value(1)},
		{batch.Int64Value(2)},
		{batch.Int64Value(1)}, // duplicate key, still one insertion
	})}))
	require.NoError(t, bloomOp.Send(ctx, message.Complete{Operator: "bloomcreate"}))

	msgs := subSink.messages()
	require.Len(t, msgs, 1)
	bf, ok := msgs[0].(message.BloomFilter)
	require.True(t, ok)
	require.Equal(t, "c_custkey", bf.Column)
	require.True(t, bf.Filter.Contains([]byte("1")))
	require.True(t, bf.Filter.Contains([]byte("2")))

	// Small build side: the distinct key values ride along for an IN-list
	// rewrite, not just the bloom bits.
	require.ElementsMatch(t, []batch.Value{batch.Int64Value(1), batch.Int64Value(2)}, bf.Keys)
}

// TestBloomCreateOmitsKeysAboveSmallCardinalityThreshold confirms a build
// side too large to name directly ships only bloom bits.
func TestBloomCreateOmitsKeysAboveSmallCardinalityThreshold(t *testing.T) {
	ctx := context.Background()
	subOp, subSink := newCapturingConsumer(ctx, "subscriber")

	body := physical.NewBloomCreate("c_custkey", []*op.Operator{subOp})
	bloomOp := op.New("bloomcreate", op.Inline, body)
	body.Bind(bloomOp)
	bloomOp.Run(ctx)

	require.NoError(t, bloomOp.Send(ctx, message.FieldNames{Schema: custkeySchema()}))
	rows := make([]batch.Row, 0, 300)
	for i := int64(0); i < 300; i++ {
		rows = append(rows, batch.Row{batch.Int64Value(i)})
	}
	require.NoError(t, bloomOp.Send(ctx, message.Data{Batch: batch.NewBatch(custkeySchema(), rows)}))
	require.NoError(t, bloomOp.Send(ctx, message.Complete{Operator: "bloomcreate"}))

	msgs := subSink.messages()
	require.Len(t, msgs, 1)
	bf := msgs[0].(message.BloomFilter)
	require.Nil(t, bf.Keys)
}

// TestBloomCreatePropagatesUpstreamError confirms an error-tagged Complete
// short-circuits filter delivery and is forwarded downstream instead.
func TestBloomCreatePropagatesUpstreamError(t *testing.T) {
	ctx := context.Background()
	subOp, subSink := newCapturingConsumer(ctx, "subscriber")
	consumer, sink := newCapturingConsumer(ctx, "consumer")

	body := physical.NewBloomCreate("c_custkey", []*op.Operator{subOp})
	bloomOp := op.New("bloomcreate", op.Inline, body)
	body.Bind(bloomOp)
	bloomOp.AddConsumer(consumer)
	bloomOp.Run(ctx)

	require.NoError(t, bloomOp.Send(ctx, message.FieldNames{Schema: custkeySchema()}))
	boomErr := errors.New("boom")
	require.NoError(t, bloomOp.Send(ctx, message.Complete{Operator: "bloomcreate", Err: boomErr}))

	require.Empty(t, subSink.messages())
	msgs := sink.messages()
	require.Len(t, msgs, 1)
	complete, ok := msgs[0].(message.Complete)
	require.True(t, ok)
	require.ErrorIs(t, complete.Err, boomErr)
}
