package physical

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
	"github.com/qflowdb/qflow/internal/expr"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/objectstore"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/qerr"
)

// smallCardinalityThreshold is the bloom cardinality at or below which BloomUse
// rewrites the push-down query as an IN (...) list the object store can
// evaluate itself, instead of only shipping the raw bloom bits — this
// engine has nowhere to ship bloom bits to the store, so a bare filter
// degrades to evaluating membership locally after an unfiltered fetch,
// which is only worth doing once the distinct key set is too large to
// name directly.
const smallCardinalityThreshold = 256

// ScanBloomUse extends Scan: on Start it issues its select request,
// rewriting the predicate to prune using the membership set of the
// BloomFilter control message it has received by then. It does not wait
// for that message: a Start that arrives first runs the scan without bloom
// pruning.
type ScanBloomUse struct {
	cfg       ScanConfig
	client    objectstore.Client
	keyColumn string
	self      *op.Operator

	filter message.BloomFilterValue
	keys   []batch.Value
}

// NewScanBloomUse constructs a bloom-aware scan body keyed on keyColumn.
func NewScanBloomUse(cfg ScanConfig, client objectstore.Client, keyColumn string) *ScanBloomUse {
	return &ScanBloomUse{cfg: cfg, client: client, keyColumn: keyColumn}
}

func (s *ScanBloomUse) Bind(o *op.Operator) { s.self = o }

func (s *ScanBloomUse) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.BloomFilter:
		s.filter = m.Filter
		s.keys = m.Keys
		return nil
	case message.Start:
		return s.run(ctx)
	case message.Stop:
		return nil
	default:
		return nil
	}
}

func (s *ScanBloomUse) run(ctx context.Context) error {
	if s.filter != nil && s.filter.Cardinality() == 0 {
		// empty build side: nothing can match, short-circuit without a request.
		if err := s.self.Emit(ctx, message.FieldNames{Schema: s.cfg.Schema}); err != nil {
			return err
		}
		return s.self.Emit(ctx, message.Complete{Operator: s.self.Name})
	}

	sql := s.cfg.SQL
	if s.filter != nil {
		sql = s.rewriteSQL(sql)
	}

	reader, err := s.client.Select(ctx, s.cfg.Bucket, s.cfg.Key, objectstore.SelectRequest{
		Query:  sql,
		Input:  s.cfg.Format,
		Schema: s.cfg.Schema,
	})
	if err != nil {
		return s.fail(ctx, qerr.Wrap(qerr.KindTransport, s.self.Name, err))
	}
	defer reader.Close()

	if err := s.self.Emit(ctx, message.FieldNames{Schema: s.cfg.Schema}); err != nil {
		return err
	}

	idx, hasIdx := s.cfg.Schema.IndexOf(s.keyColumn)
	start := time.Now()
	for {
		b, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.fail(ctx, qerr.Wrap(qerr.KindTransport, s.self.Name, err))
		}
		if s.filter != nil && hasIdx {
			b = s.localFilter(b, idx)
		}
		s.self.Metrics.AddOut(int64(b.Len()))
		if err := s.self.Emit(ctx, message.Data{Batch: b}); err != nil {
			return err
		}
	}

	acct := reader.Accounting()
	s.self.Metrics.AddBytesScanned(acct.BytesScanned)
	eventbus.Publish(ctx, events.ScanFinish{
		Operator:        s.self.Name,
		BytesScanned:    acct.BytesScanned,
		BytesProcessed:  acct.BytesProcessed,
		BytesReturned:   acct.BytesReturned,
		RowsReturned:    acct.RowsReturned,
		NumHTTPRequests: acct.NumHTTPRequests,
		TimeToLastRow:   time.Since(start),
	})
	return s.self.Emit(ctx, message.Complete{Operator: s.self.Name})
}

// rewriteSQL appends a pruning clause derived from the bloom filter: for a
// small build side, a literal IN (...) list the store can evaluate itself,
// lowering bytes scanned; otherwise the predicate is left unchanged and
// localFilter applies the bloom test client-side per batch after fetching
// the full object.
func (s *ScanBloomUse) rewriteSQL(sql string) string {
	if len(s.keys) == 0 {
		return sql
	}
	parts := make([]string, 0, len(s.keys))
	for _, v := range s.keys {
		lit, err := expr.LiteralSQL(v)
		if err != nil {
			return sql
		}
		parts = append(parts, lit)
	}
	clause := s.keyColumn + " IN (" + strings.Join(parts, ", ") + ")"
	return appendPushdownClause(sql, clause)
}

func (s *ScanBloomUse) localFilter(b *batch.Batch, keyIdx int) *batch.Batch {
	rows := make([]batch.Row, 0, len(b.Rows))
	for _, row := range b.Rows {
		if row[keyIdx].Null {
			continue
		}
		if s.filter.Contains(keyBytes(row[keyIdx])) {
			rows = append(rows, row)
		}
	}
	return batch.NewBatch(b.Schema, rows)
}

func keyBytes(v batch.Value) []byte {
	switch v.Typ {
	case batch.TypeString:
		return []byte(v.Str)
	case batch.TypeInt64:
		return []byte(fmt.Sprintf("%d", v.I64))
	case batch.TypeFloat64:
		return []byte(fmt.Sprintf("%g", v.F64))
	case batch.TypeBool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case batch.TypeTimestamp:
		return []byte(v.Time.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	default:
		return nil
	}
}

func (s *ScanBloomUse) fail(ctx context.Context, err error) error {
	_ = s.self.Emit(ctx, message.Complete{Operator: s.self.Name, Err: err})
	return err
}

