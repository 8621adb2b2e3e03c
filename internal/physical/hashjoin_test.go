package physical_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/physical"
)

func ordersSchema() *batch.Schema {
	return batch.NewSchema(
		batch.Column{Name: "o_custkey", Type: batch.TypeInt64},
		batch.Column{Name: "o_total", Type: batch.TypeFloat64},
	)
}

func customerSchema() *batch.Schema {
	return batch.NewSchema(
		batch.Column{Name: "c_custkey", Type: batch.TypeInt64},
		batch.Column{Name: "c_name", Type: batch.TypeString},
	)
}

// TestHashJoinProbeAfterBuild exercises the common ordering: the build
// side completes (and hands off its table) before any probe rows arrive.
func TestHashJoinProbeAfterBuild(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	probeBody := physical.NewHashJoinProbe("o_custkey")
	probeOp := bindOperator(ctx, "probe", probeBody, consumer)

	buildBody := physical.NewHashJoinBuild("c_custkey", probeOp)
	buildOp := bindOperator(ctx, "build", buildBody)

	require.NoError(t, buildOp.Send(ctx, message.FieldNames{Schema: customerSchema()}))
	require.NoError(t, buildOp.Send(ctx, message.Data{Batch: batch.NewBatch(customerSchema(), []batch.Row{
		{batch.Int64Value(1), batch.StringValue("alice")},
		{batch.Int64Value(2), batch.StringValue("bob")},
	})}))
	require.NoError(t, buildOp.Send(ctx, message.Complete{Operator: "build"}))

	require.NoError(t, probeOp.Send(ctx, message.FieldNames{Schema: ordersSchema()}))
	require.NoError(t, probeOp.Send(ctx, message.Data{Batch: batch.NewBatch(ordersSchema(), []batch.Row{
		{batch.Int64Value(1), batch.Float64Value(10.0)},
		{batch.Int64Value(3), batch.Float64Value(99.0)}, // no match
		{batch.Int64Value(2), batch.Float64Value(20.0)},
	})}))
	require.NoError(t, probeOp.Send(ctx, message.Complete{Operator: "probe"}))

	msgs := sink.messages()
	require.Len(t, msgs, 3) // FieldNames, Data, Complete

	fn, ok := msgs[0].(message.FieldNames)
	require.True(t, ok)
	require.Equal(t, 4, fn.Schema.Len())

	data, ok := msgs[1].(message.Data)
	require.True(t, ok)
	require.Len(t, data.Batch.Rows, 2) // only custkeys 1 and 2 match

	complete, ok := msgs[2].(message.Complete)
	require.True(t, ok)
	require.NoError(t, complete.Err)
}

// TestHashJoinProbeBeforeBuild exercises the reverse ordering: probe rows
// and probe Complete arrive before the build table does.
func TestHashJoinProbeBeforeBuild(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	probeBody := physical.NewHashJoinProbe("o_custkey")
	probeOp := bindOperator(ctx, "probe", probeBody, consumer)

	buildBody := physical.NewHashJoinBuild("c_custkey", probeOp)
	buildOp := bindOperator(ctx, "build", buildBody)

	require.NoError(t, probeOp.Send(ctx, message.FieldNames{Schema: ordersSchema()}))
	require.NoError(t, probeOp.Send(ctx, message.Data{Batch: batch.NewBatch(ordersSchema(), []batch.Row{
		{batch.Int64Value(1), batch.Float64Value(10.0)},
	})}))
	require.NoError(t, probeOp.Send(ctx, message.Complete{Operator: "probe"}))

	require.NoError(t, buildOp.Send(ctx, message.FieldNames{Schema: customerSchema()}))
	require.NoError(t, buildOp.Send(ctx, message.Data{Batch: batch.NewBatch(customerSchema(), []batch.Row{
		{batch.Int64Value(1), batch.StringValue("alice")},
	})}))
	require.NoError(t, buildOp.Send(ctx, message.Complete{Operator: "build"}))

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	data, ok := msgs[1].(message.Data)
	require.True(t, ok)
	require.Len(t, data.Batch.Rows, 1)
}

// TestHashJoinBuildErrorPropagatesToProbe confirms a build-side failure is
// forwarded to the probe as an error-tagged Complete rather than a
// HashTable handoff.
func TestHashJoinBuildErrorPropagatesToProbe(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	probeBody := physical.NewHashJoinProbe("o_custkey")
	probeOp := bindOperator(ctx, "probe", probeBody, consumer)

	buildBody := physical.NewHashJoinBuild("c_custkey", probeOp)
	buildOp := bindOperator(ctx, "build", buildBody)

	require.NoError(t, probeOp.Send(ctx, message.FieldNames{Schema: ordersSchema()}))
	require.NoError(t, probeOp.Send(ctx, message.Complete{Operator: "probe"}))

	require.NoError(t, buildOp.Send(ctx, message.FieldNames{Schema: customerSchema()}))
	boomErr := errors.New("boom")
	require.NoError(t, buildOp.Send(ctx, message.Complete{Operator: "build", Err: boomErr}))

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	complete, ok := msgs[0].(message.Complete)
	require.True(t, ok)
	require.ErrorIs(t, complete.Err, boomErr)
}
