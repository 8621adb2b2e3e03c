// Package physical implements the concrete operators of a plan: Scan,
// Project, Filter, Map, the hash-join pair, Group/Aggregate, the bloom
// side-channel, the top-K threshold builder, and the Collate sink. Each
// type implements op.Handler and is wrapped in an *op.Operator by the plan
// builder, which also Binds the body back to its wrapping Operator so it
// can Emit.
package physical

import (
	"context"
	"io"
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

// ScanConfig names the object and query a Scan operator reads.
type ScanConfig struct {
	Bucket string
	Key    string
	SQL    string
	Format objectstore.InputFormat
	Schema *batch.Schema
}

// Scan issues one object-store select request on Start and streams the
// decoded response to its consumers as FieldNames followed by Data
// batches, then Complete. If a TopKFilterBuild has delivered a Threshold
// before Start, the select request is tightened with it.
type Scan struct {
	cfg    ScanConfig
	client objectstore.Client
	self   *op.Operator

	threshold message.Threshold
}

// NewScan constructs a Scan operator body; the plan builder wraps it with
// op.New(name, op.Async, scan) since a scan blocks on network I/O.
func NewScan(cfg ScanConfig, client objectstore.Client) *Scan {
	return &Scan{cfg: cfg, client: client}
}

// Bind gives the operator body a reference back to its wrapping
// *op.Operator so it can call Emit from within HandleMessage.
func (s *Scan) Bind(o *op.Operator) { s.self = o }

func (s *Scan) HandleMessage(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.Threshold:
		s.threshold = m
		return nil
	case message.Start:
		return s.run(ctx)
	case message.Stop:
		return nil
	default:
		return nil
	}
}

// pushdownSQL returns cfg.SQL tightened with the most recent top-K
// threshold, if one has arrived and the object store can accept it as a
// literal.
func (s *Scan) pushdownSQL() string {
	if !s.threshold.Valid {
		return s.cfg.SQL
	}
	lit, err := expr.LiteralSQL(s.threshold.Value)
	if err != nil {
		return s.cfg.SQL
	}
	cmp := ">="
	if !s.threshold.Desc {
		cmp = "<="
	}
	return appendPushdownClause(s.cfg.SQL, s.threshold.Column+" "+cmp+" "+lit)
}

func (s *Scan) run(ctx context.Context) error {
	start := time.Now()
	reader, err := s.client.Select(ctx, s.cfg.Bucket, s.cfg.Key, objectstore.SelectRequest{
		Query:  s.pushdownSQL(),
		Input:  s.cfg.Format,
		Schema: s.cfg.Schema,
	})
	if err != nil {
		return s.fail(ctx, qerr.Wrap(qerr.KindTransport, s.self.Name, err))
	}
	defer reader.Close()
	firstByteDur := time.Since(start)

	if err := s.self.Emit(ctx, message.FieldNames{Schema: s.cfg.Schema}); err != nil {
		return err
	}

	firstRow := true
	var firstRowDur time.Duration
	for {
		b, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.fail(ctx, qerr.Wrap(qerr.KindTransport, s.self.Name, err))
		}
		if firstRow {
			firstRowDur = time.Since(start)
			firstRow = false
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
		TimeToFirstByte: firstByteDur,
		TimeToFirstRow:  firstRowDur,
		TimeToLastRow:   time.Since(start),
	})
	return s.self.Emit(ctx, message.Complete{Operator: s.self.Name})
}

func (s *Scan) fail(ctx context.Context, err error) error {
	_ = s.self.Emit(ctx, message.Complete{Operator: s.self.Name, Err: err})
	return err
}
