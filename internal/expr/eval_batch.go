package expr

import (
	"github.com/qflowdb/qflow/internal/batch"
)

// EvalBatch is the vectorised evaluator operators are written against. It
// must always agree with EvalRow applied row-by-row; the implementation below
// delegates to EvalRow per row rather than special-casing each operator
// columnarly, keeping the two evaluators trivially consistent by
// construction while still presenting the batch-oriented signature
// operators are written against (and leaving room for column-at-a-time
// fast paths to be added later without changing callers).
func EvalBatch(n Node, b *batch.Batch) ([]batch.Value, error) {
	out := make([]batch.Value, b.Len())
	for i, row := range b.Rows {
		v, err := EvalRow(n, row, b.Schema)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FilterMask evaluates a boolean predicate over every row of b and returns
// which rows pass. A null predicate result filters the row out, matching
// SQL's three-valued WHERE semantics.
func FilterMask(pred Node, b *batch.Batch) ([]bool, error) {
	vals, err := EvalBatch(pred, b)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(vals))
	for i, v := range vals {
		mask[i] = !v.Null && v.Bool
	}
	return mask, nil
}
