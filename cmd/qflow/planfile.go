package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/expr"
	"github.com/qflowdb/qflow/internal/objectstore"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/physical"
	"github.com/qflowdb/qflow/internal/plan"
)

// planFile is the declarative shape a `qflow run`/`qflow explain` file
// takes: one scan, an optional filter, an optional group+aggregate, and a
// sink. It deliberately covers one linear pipeline rather than the full
// join/bloom/top-k topology the engine supports — those are built
// programmatically against internal/plan, the same way the teacher's own
// schema/runtime layers are assembled from Go code rather than a config
// file.
type planFile struct {
	Name        string          `json:"name"`
	Objectstore objectstoreSpec `json:"objectstore"`
	Source      sourceSpec      `json:"source"`
	Filter      *filterSpec     `json:"filter,omitempty"`
	Group       *groupSpec      `json:"group,omitempty"`
}

type objectstoreSpec struct {
	BaseURL        string `json:"base_url"`
	CacheDir       string `json:"cache_dir,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
}

type sourceSpec struct {
	Bucket string       `json:"bucket"`
	Key    string       `json:"key"`
	SQL    string       `json:"sql"`
	Format string       `json:"format"`
	Schema []columnSpec `json:"schema"`
}

type columnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type filterSpec struct {
	Column string      `json:"column"`
	Op     string      `json:"op"`
	Value  interface{} `json:"value"`
}

type aggSpec struct {
	Kind   string `json:"kind"`
	Column string `json:"column,omitempty"`
	As     string `json:"as"`
}

type groupSpec struct {
	Keys []string  `json:"keys"`
	Aggs []aggSpec `json:"aggs"`
}

func loadPlanFile(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if pf.Name == "" {
		pf.Name = "qflow"
	}
	return &pf, nil
}

// buildPlan assembles a *plan.Plan and its terminal Collate from pf. The
// caller reads results off the returned Collate once Execute returns.
func buildPlan(pf *planFile) (*plan.Plan, *physical.Collate, error) {
	schema, err := buildSchema(pf.Source.Schema)
	if err != nil {
		return nil, nil, err
	}

	var csOpts []objectstore.Option
	if pf.Objectstore.CacheDir != "" {
		csOpts = append(csOpts, objectstore.WithCacheDir(pf.Objectstore.CacheDir))
	}
	if pf.Objectstore.MaxRetries > 0 {
		csOpts = append(csOpts, objectstore.WithMaxRetries(pf.Objectstore.MaxRetries))
	}
	if pf.Objectstore.RequestTimeout != "" {
		d, err := time.ParseDuration(pf.Objectstore.RequestTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("objectstore.request_timeout: %w", err)
		}
		csOpts = append(csOpts, objectstore.WithRequestTimeout(d))
	}
	client := objectstore.New(pf.Objectstore.BaseURL, csOpts...)

	format := objectstore.InputCSV
	if pf.Source.Format == "parquet" {
		format = objectstore.InputParquet
	}
	scan := physical.NewScan(physical.ScanConfig{
		Bucket: pf.Source.Bucket,
		Key:    pf.Source.Key,
		SQL:    pf.Source.SQL,
		Format: format,
		Schema: schema,
	}, client)

	p := plan.New(plan.WithName(pf.Name))
	scanOp, err := p.Add("scan", op.Async, scan)
	if err != nil {
		return nil, nil, err
	}
	last := scanOp

	if pf.Filter != nil {
		pred, err := buildPredicate(pf.Filter, schema)
		if err != nil {
			return nil, nil, err
		}
		filterOp, err := p.Add("filter", op.Inline, physical.NewFilter(pred))
		if err != nil {
			return nil, nil, err
		}
		p.OneToOne(last, filterOp)
		last = filterOp
	}

	if pf.Group != nil {
		aggs, err := buildAggs(pf.Group.Aggs)
		if err != nil {
			return nil, nil, err
		}
		groupOp, err := p.Add("group", op.Inline, physical.NewGroup(pf.Group.Keys, aggs))
		if err != nil {
			return nil, nil, err
		}
		p.OneToOne(last, groupOp)

		aggOp, err := p.Add("aggregate", op.Inline, physical.NewAggregate(pf.Group.Keys, aggs, 1))
		if err != nil {
			return nil, nil, err
		}
		p.OneToOne(groupOp, aggOp)
		last = aggOp
	}

	collate := physical.NewCollate()
	collateOp, err := p.Add("collate", op.Async, collate)
	if err != nil {
		return nil, nil, err
	}
	p.OneToOne(last, collateOp)

	return p, collate, nil
}

func buildSchema(cols []columnSpec) (*batch.Schema, error) {
	out := make([]batch.Column, len(cols))
	for i, c := range cols {
		t, err := parseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("source.schema[%d]: %w", i, err)
		}
		out[i] = batch.Column{Name: c.Name, Type: t}
	}
	return batch.NewSchema(out...), nil
}

func parseColumnType(s string) (batch.Type, error) {
	switch s {
	case "string":
		return batch.TypeString, nil
	case "int64":
		return batch.TypeInt64, nil
	case "float64":
		return batch.TypeFloat64, nil
	case "bool":
		return batch.TypeBool, nil
	case "timestamp":
		return batch.TypeTimestamp, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

func buildPredicate(f *filterSpec, schema *batch.Schema) (expr.Node, error) {
	idx, ok := schema.IndexOf(f.Column)
	if !ok {
		return nil, fmt.Errorf("filter: unknown column %q", f.Column)
	}
	opKind, err := parseBinOp(f.Op)
	if err != nil {
		return nil, err
	}
	lit, err := literalValue(f.Value, schema.Columns()[idx].Type)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return expr.BinOp{Op: opKind, Left: expr.Col(f.Column), Right: expr.Lit{Value: lit}}, nil
}

func parseBinOp(s string) (expr.BinOpKind, error) {
	switch s {
	case "=", "==":
		return expr.OpEq, nil
	case "!=", "<>":
		return expr.OpNeq, nil
	case "<":
		return expr.OpLt, nil
	case "<=":
		return expr.OpLte, nil
	case ">":
		return expr.OpGt, nil
	case ">=":
		return expr.OpGte, nil
	default:
		return 0, fmt.Errorf("unknown filter operator %q", s)
	}
}

func literalValue(v interface{}, t batch.Type) (batch.Value, error) {
	switch t {
	case batch.TypeFloat64:
		f, ok := v.(float64)
		if !ok {
			return batch.Value{}, fmt.Errorf("expected a number, got %T", v)
		}
		return batch.Float64Value(f), nil
	case batch.TypeInt64:
		f, ok := v.(float64)
		if !ok {
			return batch.Value{}, fmt.Errorf("expected a number, got %T", v)
		}
		return batch.Int64Value(int64(f)), nil
	case batch.TypeString:
		s, ok := v.(string)
		if !ok {
			return batch.Value{}, fmt.Errorf("expected a string, got %T", v)
		}
		return batch.StringValue(s), nil
	case batch.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return batch.Value{}, fmt.Errorf("expected a bool, got %T", v)
		}
		return batch.BoolValue(b), nil
	default:
		return batch.Value{}, fmt.Errorf("unsupported literal type %v", t)
	}
}

func buildAggs(specs []aggSpec) ([]physical.AggExpr, error) {
	out := make([]physical.AggExpr, len(specs))
	for i, s := range specs {
		kind, err := parseAggKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("group.aggs[%d]: %w", i, err)
		}
		out[i] = physical.AggExpr{Kind: kind, Column: s.Column, As: s.As}
	}
	return out, nil
}

func parseAggKind(s string) (physical.AggKind, error) {
	switch s {
	case "sum":
		return physical.AggSum, nil
	case "count":
		return physical.AggCount, nil
	case "avg":
		return physical.AggAvg, nil
	case "min":
		return physical.AggMin, nil
	case "max":
		return physical.AggMax, nil
	default:
		return 0, fmt.Errorf("unknown aggregate kind %q", s)
	}
}
