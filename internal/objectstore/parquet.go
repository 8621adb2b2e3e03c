package objectstore

import (
	"bytes"
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/qflowdb/qflow/internal/batch"
)

// parquetReader decodes a Parquet response into batch.Batch values.
// Parquet's footer lives at the end of the file, so unlike csvReader this
// cannot decode progressively off the wire — the body is read fully into
// memory once, then pqarrow.FileReader streams record batches out of that
// buffer column-by-column.
type parquetReader struct {
	arrowReader *pqarrow.RecordReader
	schema      *batch.Schema
	acct        Accounting
	closer      io.Closer
}

func newParquetReader(body io.ReadCloser, schema *batch.Schema, acct Accounting) (*parquetReader, error) {
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	acct.BytesReturned += int64(len(data))

	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(csvBatchSize)}, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}

	rr, err := fr.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, err
	}

	return &parquetReader{arrowReader: rr, schema: schema, acct: acct, closer: pf}, nil
}

func (r *parquetReader) Next() (*batch.Batch, error) {
	if !r.arrowReader.Next() {
		if err := r.arrowReader.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	rec := r.arrowReader.Record()
	b, err := recordToBatch(rec, r.schema)
	if err != nil {
		return nil, err
	}
	r.acct.RowsReturned += int64(b.Len())
	return b, nil
}

// recordToBatch converts one Arrow record into the engine's own columnar
// batch.Batch, the boundary past which no Arrow type ever flows into the
// operator graph.
func recordToBatch(rec arrow.Record, schema *batch.Schema) (*batch.Batch, error) {
	cols := schema.Columns()
	n := int(rec.NumRows())
	rows := make([]batch.Row, n)
	for i := range rows {
		rows[i] = make(batch.Row, len(cols))
	}
	for c, col := range cols {
		arr := rec.Column(c)
		for i := 0; i < n; i++ {
			rows[i][c] = arrowValueAt(arr, i, col.Type)
		}
	}
	return batch.NewBatch(schema, rows), nil
}

// arrowValueAt reads one cell by duck-typing the Arrow array's generated
// Value(int) accessor; timestamp columns fall through to null until a
// dedicated arrow.Timestamp branch is added.
func arrowValueAt(arr arrow.Array, i int, t batch.Type) batch.Value {
	if arr.IsNull(i) {
		return batch.NullValue(t)
	}
	switch v := arr.(type) {
	case interface{ Value(int) string }:
		if t == batch.TypeString {
			return batch.StringValue(v.Value(i))
		}
	}
	switch t {
	case batch.TypeInt64:
		if v, ok := arr.(interface{ Value(int) int64 }); ok {
			return batch.Int64Value(v.Value(i))
		}
	case batch.TypeFloat64:
		if v, ok := arr.(interface{ Value(int) float64 }); ok {
			return batch.Float64Value(v.Value(i))
		}
	case batch.TypeBool:
		if v, ok := arr.(interface{ Value(int) bool }); ok {
			return batch.BoolValue(v.Value(i))
		}
	}
	return batch.NullValue(t)
}

func (r *parquetReader) Accounting() Accounting { return r.acct }

func (r *parquetReader) Close() error { return r.closer.Close() }
