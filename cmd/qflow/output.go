package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/physical"
)

func modeLabel(o *op.Operator) string {
	if o.Mode == op.Async {
		return "async"
	}
	return "inline"
}

// printRows renders a Collate's final rows as a simple pipe-delimited
// table, header first, mirroring the object store's own pipe-delimited
// CSV wire format.
func printRows(w io.Writer, collate *physical.Collate) {
	schema := collate.Schema()
	if schema == nil {
		return
	}
	fmt.Fprintln(w, strings.Join(schema.Names(), "|"))
	for _, row := range collate.Rows() {
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = formatValue(v)
		}
		fmt.Fprintln(w, strings.Join(fields, "|"))
	}
}

func formatValue(v batch.Value) string {
	if v.Null {
		return ""
	}
	switch v.Typ {
	case batch.TypeString:
		return v.Str
	case batch.TypeInt64:
		return strconv.FormatInt(v.I64, 10)
	case batch.TypeFloat64:
		return strconv.FormatFloat(v.F64, 'f', -1, 64)
	case batch.TypeBool:
		return strconv.FormatBool(v.Bool)
	case batch.TypeTimestamp:
		return v.Time.Format("2006-01-02T15:04:05Z07:00")
	default:
		return ""
	}
}
