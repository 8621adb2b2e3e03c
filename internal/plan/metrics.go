package plan

import (
	"fmt"
	"io"
	"time"
)

// OperatorMetrics is one row of a Plan's final report, in the topological
// order used for output (the order most closely aligned with the plan
// shape, not the order operators actually finished in).
type OperatorMetrics struct {
	Name     string
	Mode     string
	RowsIn   int64
	RowsOut  int64
	BatchesIn  int64
	BatchesOut int64
	BytesScanned int64
	Duration time.Duration
	Err      error
}

// Metrics is the report produced by one Plan.Execute call: total elapsed
// time, aggregate cost figures, and a per-operator breakdown.
type Metrics struct {
	Duration     time.Duration
	BytesScanned int64
	RowsReturned int64
	Operators    []OperatorMetrics
}

func (p *Plan) buildMetrics(topoOrder []string, duration time.Duration) Metrics {
	m := Metrics{Duration: duration}
	for _, name := range topoOrder {
		o := p.operators[name]
		snap := o.Metrics.Snapshot()
		m.Operators = append(m.Operators, OperatorMetrics{
			Name:         name,
			Mode:         modeString(o.Mode),
			RowsIn:       snap.RowsIn,
			RowsOut:      snap.RowsOut,
			BatchesIn:    snap.BatchesIn,
			BatchesOut:   snap.BatchesOut,
			BytesScanned: snap.BytesScanned,
			Err:          o.Err(),
		})
		m.BytesScanned += snap.BytesScanned
	}
	if len(m.Operators) > 0 {
		m.RowsReturned = m.Operators[len(m.Operators)-1].RowsOut
	}
	return m
}

// Print writes the plan and per-operator report to w, in the plain
// line-oriented style the original harness's print_metrics() used —
// nothing in this codebase's pack pulls in a table-formatting library for
// console output, so this stays a small fmt.Fprintf routine rather than
// reaching for one just for this.
func (m Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "Plan")
	fmt.Fprintln(w, "----")
	fmt.Fprintf(w, "total_elapsed_time: %s\n", m.Duration)
	fmt.Fprintf(w, "total_scanned_bytes: %d\n", m.BytesScanned)
	fmt.Fprintf(w, "total_returned_rows: %d\n", m.RowsReturned)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Operators")
	fmt.Fprintln(w, "---------")
	for _, o := range m.Operators {
		status := "ok"
		if o.Err != nil {
			status = o.Err.Error()
		}
		fmt.Fprintf(w, "%-20s mode=%-6s rows_in=%-8d rows_out=%-8d bytes_scanned=%-10d status=%s\n",
			o.Name, o.Mode, o.RowsIn, o.RowsOut, o.BytesScanned, status)
	}
}
