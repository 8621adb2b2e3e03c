package objectstore

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/qflowdb/qflow/internal/batch"
)

// csvBatchSize bounds how many decoded rows accumulate into one Batch
// before Next returns, so a scan of a large object never holds the whole
// result set in memory at once.
const csvBatchSize = 1024

// csvReader progressively decodes a pipe-delimited CSV response, stripping
// the header row and coercing each field to the expected schema type.
type csvReader struct {
	scanner    *bufio.Scanner
	schema     *batch.Schema
	body       io.ReadCloser
	acct       Accounting
	headerRead bool
}

func newCSVReader(body io.ReadCloser, schema *batch.Schema, acct Accounting) *csvReader {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &csvReader{scanner: sc, schema: schema, body: body, acct: acct}
}

func (r *csvReader) Next() (*batch.Batch, error) {
	if !r.headerRead {
		if r.scanner.Scan() {
			r.acct.BytesReturned += int64(len(r.scanner.Bytes())) + 1
		}
		r.headerRead = true
	}

	rows := make([]batch.Row, 0, csvBatchSize)
	for len(rows) < csvBatchSize && r.scanner.Scan() {
		line := r.scanner.Text()
		r.acct.BytesReturned += int64(len(line)) + 1
		if line == "" {
			continue
		}
		row, err := parseCSVRow(line, r.schema)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	r.acct.RowsReturned += int64(len(rows))
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return batch.NewBatch(r.schema, rows), nil
}

func parseCSVRow(line string, schema *batch.Schema) (batch.Row, error) {
	fields := strings.Split(line, "|")
	cols := schema.Columns()
	row := make(batch.Row, len(cols))
	for i, c := range cols {
		var raw string
		if i < len(fields) {
			raw = fields[i]
		}
		row[i] = parseCSVField(raw, c.Type)
	}
	return row, nil
}

func parseCSVField(raw string, t batch.Type) batch.Value {
	if raw == "" {
		return batch.NullValue(t)
	}
	switch t {
	case batch.TypeInt64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return batch.NullValue(t)
		}
		return batch.Int64Value(n)
	case batch.TypeFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return batch.NullValue(t)
		}
		return batch.Float64Value(f)
	case batch.TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return batch.NullValue(t)
		}
		return batch.BoolValue(b)
	case batch.TypeTimestamp:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return batch.TimestampValue(ts)
			}
		}
		return batch.NullValue(t)
	default:
		return batch.StringValue(raw)
	}
}

func (r *csvReader) Accounting() Accounting { return r.acct }

func (r *csvReader) Close() error { return r.body.Close() }
