package physical_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/physical"
)

func lineitemSchema() *batch.Schema {
	return batch.NewSchema(
		batch.Column{Name: "l_linestatus", Type: batch.TypeString},
		batch.Column{Name: "l_extendedprice", Type: batch.TypeFloat64},
	)
}

// TestGroupThenAggregateSinglePartition exercises the common case: one
// Group feeding one Aggregate (numInputs=1), which just finalizes that
// Group's own partials.
func TestGroupThenAggregateSinglePartition(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	aggs := []physical.AggExpr{
		{Kind: physical.AggSum, Column: "l_extendedprice", As: "revenue"},
		{Kind: physical.AggCount, As: "n"},
		{Kind: physical.AggAvg, Column: "l_extendedprice", As: "avg_price"},
	}
	aggBody := physical.NewAggregate([]string{"l_linestatus"}, aggs, 1)
	aggOp := bindOperator(ctx, "aggregate", aggBody, consumer)

	groupBody := physical.NewGroup([]string{"l_linestatus"}, aggs)
	groupOp := bindOperator(ctx, "group", groupBody, aggOp)

	require.NoError(t, groupOp.Send(ctx, message.FieldNames{Schema: lineitemSchema()}))
	require.NoError(t, groupOp.Send(ctx, message.Data{Batch: batch.NewBatch(lineitemSchema(), []batch.Row{
		{batch.StringValue("F"), batch.Float64Value(100)},
		{batch.StringValue("F"), batch.Float64Value(200)},
		{batch.StringValue("O"), batch.Float64Value(50)},
	})}))
	require.NoError(t, groupOp.Send(ctx, message.Complete{Operator: "group"}))

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	data := msgs[1].(message.Data)
	byKey := map[string]batch.Row{}
	for _, row := range data.Batch.Rows {
		byKey[row[0].Str] = row
	}

	require.Equal(t, 300.0, byKey["F"][1].F64)
	require.Equal(t, int64(2), byKey["F"][2].I64)
	require.Equal(t, 150.0, byKey["F"][3].F64)

	require.Equal(t, 50.0, byKey["O"][1].F64)
	require.Equal(t, int64(1), byKey["O"][2].I64)
	require.Equal(t, 50.0, byKey["O"][3].F64)
}

// TestAggregateCombinesAcrossPartitions confirms two Group instances
// (simulating two partitions) fanning into one Aggregate combine correctly,
// including the AVG combine law (not a naive average-of-averages).
func TestAggregateCombinesAcrossPartitions(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	aggs := []physical.AggExpr{
		{Kind: physical.AggAvg, Column: "l_extendedprice", As: "avg_price"},
	}
	aggBody := physical.NewAggregate([]string{"l_linestatus"}, aggs, 2)
	aggOp := bindOperator(ctx, "aggregate", aggBody, consumer)

	group1 := bindOperator(ctx, "group1", physical.NewGroup([]string{"l_linestatus"}, aggs), aggOp)
	group2 := bindOperator(ctx, "group2", physical.NewGroup([]string{"l_linestatus"}, aggs), aggOp)

	require.NoError(t, group1.Send(ctx, message.FieldNames{Schema: lineitemSchema()}))
	require.NoError(t, group1.Send(ctx, message.Data{Batch: batch.NewBatch(lineitemSchema(), []batch.Row{
		{batch.StringValue("F"), batch.Float64Value(100)}, // partition 1: one row of 100
	})}))
	require.NoError(t, group1.Send(ctx, message.Complete{Operator: "group1"}))

	require.NoError(t, group2.Send(ctx, message.FieldNames{Schema: lineitemSchema()}))
	require.NoError(t, group2.Send(ctx, message.Data{Batch: batch.NewBatch(lineitemSchema(), []batch.Row{
		{batch.StringValue("F"), batch.Float64Value(200)},
		{batch.StringValue("F"), batch.Float64Value(300)}, // partition 2: two rows averaging 250
	})}))
	require.NoError(t, group2.Send(ctx, message.Complete{Operator: "group2"}))

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	data := msgs[1].(message.Data)
	require.Len(t, data.Batch.Rows, 1)
	// true combined average over all 3 rows is (100+200+300)/3 = 200, not
	// the naive average of 100 and 250 (=175).
	require.Equal(t, 200.0, data.Batch.Rows[0][1].F64)
}

// TestGroupNoKeyColumnsProducesSingleRow confirms the unkeyed form.
func TestGroupNoKeyColumnsProducesSingleRow(t *testing.T) {
	ctx := context.Background()
	consumer, sink := newCapturingConsumer(ctx, "collate")

	aggs := []physical.AggExpr{{Kind: physical.AggCount, As: "n"}}
	aggOp := bindOperator(ctx, "aggregate", physical.NewAggregate(nil, aggs, 1), consumer)
	groupOp := bindOperator(ctx, "group", physical.NewGroup(nil, aggs), aggOp)

	require.NoError(t, groupOp.Send(ctx, message.FieldNames{Schema: lineitemSchema()}))
	require.NoError(t, groupOp.Send(ctx, message.Data{Batch: batch.NewBatch(lineitemSchema(), []batch.Row{
		{batch.StringValue("F"), batch.Float64Value(1)},
		{batch.StringValue("O"), batch.Float64Value(2)},
	})}))
	require.NoError(t, groupOp.Send(ctx, message.Complete{Operator: "group"}))

	data := sink.messages()[1].(message.Data)
	require.Len(t, data.Batch.Rows, 1)
	require.Equal(t, int64(2), data.Batch.Rows[0][0].I64)
}
