// Package wire implements the length-prefixed binary encoding used for
// batches crossing a process boundary; in-process messages pass by move
// instead. internal/procworker frames batches with it over a gRPC byte
// stream.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/qflowdb/qflow/internal/batch"
)

// WriteBatch writes b to w as one length-prefixed frame: a schema frame
// (names + type tags) followed by a row-count-prefixed row frame.
func WriteBatch(w io.Writer, b *batch.Batch) error {
	buf := make([]byte, 0, 256)
	buf = appendSchema(buf, b.Schema)
	buf = appendUvarint(buf, uint64(len(b.Rows)))
	for _, row := range b.Rows {
		buf = appendRow(buf, row)
	}
	return writeFrame(w, buf)
}

// ReadBatch reads one frame written by WriteBatch.
func ReadBatch(r io.Reader) (*batch.Batch, error) {
	frame, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	br := newByteReader(frame)

	schema, err := readSchema(br)
	if err != nil {
		return nil, err
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("wire: row count: %w", err)
	}
	rows := make([]batch.Row, n)
	for i := range rows {
		row, err := readRow(br, schema)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return batch.NewBatch(schema, rows), nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendSchema(buf []byte, schema *batch.Schema) []byte {
	cols := schema.Columns()
	buf = appendUvarint(buf, uint64(len(cols)))
	for _, c := range cols {
		buf = appendString(buf, c.Name)
		buf = append(buf, byte(c.Type))
	}
	return buf
}

func appendRow(buf []byte, row batch.Row) []byte {
	for _, v := range row {
		if v.Null {
			buf = append(buf, 1)
			continue
		}
		buf = append(buf, 0)
		switch v.Typ {
		case batch.TypeString:
			buf = appendString(buf, v.Str)
		case batch.TypeInt64:
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], uint64(v.I64))
			buf = append(buf, tmp[:]...)
		case batch.TypeFloat64:
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.F64))
			buf = append(buf, tmp[:]...)
		case batch.TypeBool:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case batch.TypeTimestamp:
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], uint64(v.Time.UnixNano()))
			buf = append(buf, tmp[:]...)
		}
	}
	return buf
}

type byteReaderImpl struct {
	buf []byte
	pos int
}

func newByteReader(buf []byte) *byteReaderImpl { return &byteReaderImpl{buf: buf} }

func (b *byteReaderImpl) ReadByte() (byte, error) {
	if b.pos >= len(b.buf) {
		return 0, io.EOF
	}
	c := b.buf[b.pos]
	b.pos++
	return c, nil
}

func (b *byteReaderImpl) readN(n int) ([]byte, error) {
	if b.pos+n > len(b.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	out := b.buf[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

func readString(b *byteReaderImpl) (string, error) {
	n, err := binary.ReadUvarint(b)
	if err != nil {
		return "", err
	}
	data, err := b.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readSchema(b *byteReaderImpl) (*batch.Schema, error) {
	n, err := binary.ReadUvarint(b)
	if err != nil {
		return nil, fmt.Errorf("wire: schema column count: %w", err)
	}
	cols := make([]batch.Column, n)
	for i := range cols {
		name, err := readString(b)
		if err != nil {
			return nil, err
		}
		typByte, err := b.ReadByte()
		if err != nil {
			return nil, err
		}
		cols[i] = batch.Column{Name: name, Type: batch.Type(typByte)}
	}
	return batch.NewSchema(cols...), nil
}

func readRow(b *byteReaderImpl, schema *batch.Schema) (batch.Row, error) {
	cols := schema.Columns()
	row := make(batch.Row, len(cols))
	for i, c := range cols {
		isNull, err := b.ReadByte()
		if err != nil {
			return nil, err
		}
		if isNull == 1 {
			row[i] = batch.NullValue(c.Type)
			continue
		}
		switch c.Type {
		case batch.TypeString:
			s, err := readString(b)
			if err != nil {
				return nil, err
			}
			row[i] = batch.StringValue(s)
		case batch.TypeInt64:
			data, err := b.readN(8)
			if err != nil {
				return nil, err
			}
			row[i] = batch.Int64Value(int64(binary.BigEndian.Uint64(data)))
		case batch.TypeFloat64:
			data, err := b.readN(8)
			if err != nil {
				return nil, err
			}
			row[i] = batch.Float64Value(math.Float64frombits(binary.BigEndian.Uint64(data)))
		case batch.TypeBool:
			data, err := b.readN(1)
			if err != nil {
				return nil, err
			}
			row[i] = batch.BoolValue(data[0] == 1)
		case batch.TypeTimestamp:
			data, err := b.readN(8)
			if err != nil {
				return nil, err
			}
			row[i] = batch.TimestampValue(time.Unix(0, int64(binary.BigEndian.Uint64(data))).UTC())
		}
	}
	return row, nil
}

// NewFrameReader wraps r in a *bufio.Reader for callers that stream frames
// one at a time off a long-lived connection.
func NewFrameReader(r io.Reader) *bufio.Reader { return bufio.NewReader(r) }
