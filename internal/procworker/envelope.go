package procworker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/wire"
)

// kind tags which message.Message variant a frame carries. Only the plain
// dataflow messages are representable; see doc.go for what's excluded and
// why.
type kind byte

const (
	kindFieldNames kind = iota
	kindData
	kindStart
	kindStop
	kindComplete
)

// encodeMessage renders msg as one frame payload: a kind byte followed by
// a kind-specific body. FieldNames and Data reuse internal/wire's batch
// framing so the batch-decoding logic lives in exactly one place.
func encodeMessage(msg message.Message) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case message.FieldNames:
		buf.WriteByte(byte(kindFieldNames))
		if err := wire.WriteBatch(&buf, emptyBatch(m.Schema)); err != nil {
			return nil, fmt.Errorf("procworker: encode FieldNames: %w", err)
		}
	case message.Data:
		buf.WriteByte(byte(kindData))
		if err := wire.WriteBatch(&buf, m.Batch); err != nil {
			return nil, fmt.Errorf("procworker: encode Data: %w", err)
		}
	case message.Start:
		buf.WriteByte(byte(kindStart))
	case message.Stop:
		buf.WriteByte(byte(kindStop))
	case message.Complete:
		buf.WriteByte(byte(kindComplete))
		writeString(&buf, m.Operator)
		errStr := ""
		if m.Err != nil {
			errStr = m.Err.Error()
		}
		writeString(&buf, errStr)
	default:
		return nil, fmt.Errorf("procworker: message type %T cannot cross a process boundary", msg)
	}
	return buf.Bytes(), nil
}

// decodeMessage parses one frame payload produced by encodeMessage.
func decodeMessage(payload []byte) (message.Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("procworker: empty frame")
	}
	r := bytes.NewReader(payload[1:])
	switch kind(payload[0]) {
	case kindFieldNames:
		b, err := wire.ReadBatch(r)
		if err != nil {
			return nil, fmt.Errorf("procworker: decode FieldNames: %w", err)
		}
		return message.FieldNames{Schema: b.Schema}, nil
	case kindData:
		b, err := wire.ReadBatch(r)
		if err != nil {
			return nil, fmt.Errorf("procworker: decode Data: %w", err)
		}
		return message.Data{Batch: b}, nil
	case kindStart:
		return message.Start{}, nil
	case kindStop:
		return message.Stop{}, nil
	case kindComplete:
		op, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("procworker: decode Complete operator: %w", err)
		}
		errStr, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("procworker: decode Complete error: %w", err)
		}
		var cerr error
		if errStr != "" {
			cerr = fmt.Errorf("%s", errStr)
		}
		return message.Complete{Operator: op, Err: cerr}, nil
	default:
		return nil, fmt.Errorf("procworker: unknown frame kind %d", payload[0])
	}
}

func emptyBatch(schema *batch.Schema) *batch.Batch { return batch.NewBatch(schema, nil) }

func writeString(buf *bytes.Buffer, s string) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	buf.Write(tmp[:n])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}
