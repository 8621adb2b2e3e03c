package physical_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/expr"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/physical"
)

// TestFilterForwardsOnlyPassingRows confirms a predicate's three-valued
// result controls forwarding: false and null rows are dropped.
func TestFilterForwardsOnlyPassingRows(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	pred := expr.BinOp{Op: expr.OpGt, Left: expr.Col("revenue"), Right: expr.Lit{Value: batch.Float64Value(10)}}
	filterOp := bindOperator(ctx, "filter", physical.NewFilter(pred), consumer)

	schema := revenueSchema()
	require.NoError(t, filterOp.Send(ctx, message.FieldNames{Schema: schema}))
	require.NoError(t, filterOp.Send(ctx, message.Data{Batch: batch.NewBatch(schema, []batch.Row{
		{batch.Float64Value(5)},
		{batch.Float64Value(15)},
		{batch.NullValue(batch.TypeFloat64)},
		{batch.Float64Value(20)},
	})}))
	require.NoError(t, filterOp.Send(ctx, message.Complete{Operator: "filter"}))

	msgs := sink.messages()
	require.Len(t, msgs, 3) // FieldNames, Data, Complete
	data := msgs[1].(message.Data)
	require.Len(t, data.Batch.Rows, 2)
	require.Equal(t, 15.0, data.Batch.Rows[0][0].F64)
	require.Equal(t, 20.0, data.Batch.Rows[1][0].F64)
}

// TestFilterSkipsEmitWhenNoRowsPass confirms an all-filtered batch emits no
// Data message at all.
func TestFilterSkipsEmitWhenNoRowsPass(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	pred := expr.BinOp{Op: expr.OpGt, Left: expr.Col("revenue"), Right: expr.Lit{Value: batch.Float64Value(100)}}
	filterOp := bindOperator(ctx, "filter", physical.NewFilter(pred), consumer)

	schema := revenueSchema()
	require.NoError(t, filterOp.Send(ctx, message.FieldNames{Schema: schema}))
	require.NoError(t, filterOp.Send(ctx, message.Data{Batch: batch.NewBatch(schema, []batch.Row{
		{batch.Float64Value(5)},
	})}))
	require.NoError(t, filterOp.Send(ctx, message.Complete{Operator: "filter"}))

	msgs := sink.messages()
	require.Len(t, msgs, 2) // FieldNames, Complete — no Data
}
