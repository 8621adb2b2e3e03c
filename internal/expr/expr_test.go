package expr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/expr"
)

func schemaFor() *batch.Schema {
	return batch.NewSchema(
		batch.Column{Name: "l_orderkey", Type: batch.TypeInt64},
		batch.Column{Name: "l_shipdate", Type: batch.TypeString},
	)
}

func TestEvalRowComparison(t *testing.T) {
	schema := schemaFor()
	row := batch.Row{batch.Int64Value(5), batch.StringValue("1996-04-01")}

	n := expr.BinOp{Op: expr.OpGte, Left: expr.Col("l_orderkey"), Right: expr.Lit{Value: batch.Int64Value(3)}}
	v, err := expr.EvalRow(n, row, schema)
	require.NoError(t, err)
	require.True(t, v.Bool)
}

func TestEvalRowCastTimestampAndCompare(t *testing.T) {
	schema := schemaFor()
	row := batch.Row{batch.Int64Value(1), batch.StringValue("1996-04-01")}

	threshold, _ := time.Parse("2006-01-02", "1996-03-01")
	n := expr.BinOp{
		Op:   expr.OpGte,
		Left: expr.Cast{To: batch.TypeTimestamp, Inner: expr.Col("l_shipdate")},
		Right: expr.Lit{Value: batch.TimestampValue(threshold)},
	}
	v, err := expr.EvalRow(n, row, schema)
	require.NoError(t, err)
	require.True(t, v.Bool)
}

func TestEvalRowNullPropagation(t *testing.T) {
	schema := schemaFor()
	row := batch.Row{batch.NullValue(batch.TypeInt64), batch.StringValue("x")}

	n := expr.BinOp{Op: expr.OpGte, Left: expr.Col("l_orderkey"), Right: expr.Lit{Value: batch.Int64Value(3)}}
	v, err := expr.EvalRow(n, row, schema)
	require.NoError(t, err)
	require.True(t, v.Null)
}

func TestEvalAndThreeValuedLogic(t *testing.T) {
	// false AND null = false, not null.
	n := expr.And{
		Left:  expr.Lit{Value: batch.BoolValue(false)},
		Right: expr.Lit{Value: batch.NullValue(batch.TypeBool)},
	}
	v, err := expr.EvalRow(n, batch.Row{}, batch.NewSchema())
	require.NoError(t, err)
	require.False(t, v.Null)
	require.False(t, v.Bool)
}

func TestEvalOrThreeValuedLogic(t *testing.T) {
	// true OR null = true.
	n := expr.Or{
		Left:  expr.Lit{Value: batch.BoolValue(true)},
		Right: expr.Lit{Value: batch.NullValue(batch.TypeBool)},
	}
	v, err := expr.EvalRow(n, batch.Row{}, batch.NewSchema())
	require.NoError(t, err)
	require.False(t, v.Null)
	require.True(t, v.Bool)
}

func TestLikePrefix(t *testing.T) {
	schema := batch.NewSchema(batch.Column{Name: "name", Type: batch.TypeString})
	row := batch.Row{batch.StringValue("PROMO BRUSHED COPPER")}
	n := expr.Like{Inner: expr.Col("name"), Prefix: "PROMO"}
	v, err := expr.EvalRow(n, row, schema)
	require.NoError(t, err)
	require.True(t, v.Bool)
}

func TestFilterMaskDropsNullPredicate(t *testing.T) {
	schema := batch.NewSchema(batch.Column{Name: "a", Type: batch.TypeInt64})
	b := batch.NewBatch(schema, []batch.Row{
		{batch.Int64Value(1)},
		{batch.NullValue(batch.TypeInt64)},
		{batch.Int64Value(5)},
	})
	n := expr.BinOp{Op: expr.OpGte, Left: expr.Col("a"), Right: expr.Lit{Value: batch.Int64Value(2)}}

	mask, err := expr.FilterMask(n, b)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, true}, mask)
}

func TestToPushdownSQL(t *testing.T) {
	schema := schemaFor()
	threshold, _ := time.Parse("2006-01-02", "1996-03-01")
	where := expr.BinOp{
		Op:   expr.OpGte,
		Left: expr.Cast{To: batch.TypeTimestamp, Inner: expr.Col("l_shipdate")},
		Right: expr.Lit{Value: batch.TimestampValue(threshold)},
	}
	sql, err := expr.ToPushdownSQL([]string{"l_orderkey", "l_shipdate"}, "S3Object", where, schema)
	require.NoError(t, err)
	require.Equal(t,
		"SELECT l_orderkey, l_shipdate FROM S3Object WHERE CAST(l_shipdate AS timestamp) >= CAST('1996-03-01' AS timestamp)",
		sql)
}

func TestToPushdownSQLRejectsUnsupportedOperator(t *testing.T) {
	where := expr.BinOp{Op: expr.OpAdd, Left: expr.Col("a"), Right: expr.Lit{Value: batch.Int64Value(1)}}
	_, err := expr.ToPushdownSQL([]string{"a"}, "S3Object", where, schemaFor())
	require.Error(t, err)
}

func TestEvalBatchAgreesWithEvalRow(t *testing.T) {
	schema := batch.NewSchema(batch.Column{Name: "a", Type: batch.TypeInt64})
	b := batch.NewBatch(schema, []batch.Row{
		{batch.Int64Value(1)}, {batch.Int64Value(2)}, {batch.Int64Value(3)},
	})
	n := expr.BinOp{Op: expr.OpGt, Left: expr.Col("a"), Right: expr.Lit{Value: batch.Int64Value(1)}}

	batchVals, err := expr.EvalBatch(n, b)
	require.NoError(t, err)
	for i, row := range b.Rows {
		rowVal, err := expr.EvalRow(n, row, schema)
		require.NoError(t, err)
		require.Equal(t, rowVal, batchVals[i])
	}
}
