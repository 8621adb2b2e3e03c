// Package events defines the typed events published on the shared
// internal/eventbus during a plan execution. An internal/otelobs subscriber
// turns these into spans and attributes; tests can subscribe directly to
// assert on scan/operator/plan lifecycle without touching tracing.
package events

import "time"

// PlanStart is published once, when Plan.Execute begins.
type PlanStart struct {
	Plan string
}

// PlanFinish is published once, when Plan.Execute returns.
type PlanFinish struct {
	Plan     string
	Err      error
	Duration time.Duration
}

// OperatorStart is published when an operator transitions to running.
type OperatorStart struct {
	Operator string
	Mode     string // "inline" or "async"
}

// OperatorComplete is published when an operator emits its own Complete.
type OperatorComplete struct {
	Operator string
	Err      error
	RowsIn   int64
	RowsOut  int64
	Duration time.Duration
}

// ScanStart is published when a Scan operator issues its object-store
// select request.
type ScanStart struct {
	Operator string
	Bucket   string
	Object   string
	SQL      string
}

// ScanFinish is published when a Scan operator finishes reading its
// response, carrying the object store's accounting fields.
type ScanFinish struct {
	Operator         string
	Err              error
	BytesScanned     int64
	BytesProcessed   int64
	BytesReturned    int64
	RowsReturned     int64
	NumHTTPRequests  int
	TimeToFirstByte  time.Duration
	TimeToFirstRow   time.Duration
	TimeToLastRow    time.Duration
}

// BloomDelivered is published when a BloomCreate operator hands its filter
// to a subscribed scan.
type BloomDelivered struct {
	FromOperator string
	ToOperator   string
	Cardinality  uint64
}

// HashJoinBuildComplete is published when a HashJoinBuild operator finishes
// materialising its hash table and hands it to its paired probe.
type HashJoinBuildComplete struct {
	Operator   string
	RowCount   int64
	DistinctKeys int64
}
