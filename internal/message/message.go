// Package message defines the typed messages carried between operators:
// FieldNames, Data, Start, Stop, Complete, Eval, Evaluated, and the
// side-channel control messages (BloomFilter, HashTable, Threshold).
package message

import (
	"github.com/qflowdb/qflow/internal/batch"
)

// Message is the interface implemented by every message type that can be
// sent on an operator's inbound queue.
type Message interface {
	messageMarker()
}

// FieldNames is always the first message on a stream; it announces the
// schema that every subsequent Data message must match.
type FieldNames struct {
	Schema *batch.Schema
}

func (FieldNames) messageMarker() {}

// Data carries one record batch. Consumers must have already seen a
// FieldNames message on this edge whose schema equals b.Schema.
type Data struct {
	Batch *batch.Batch
}

func (Data) messageMarker() {}

// Start instructs a worker to transition from pending to running. Root
// operators are started last, so every consumer is already listening
// before its producers begin emitting.
type Start struct{}

func (Start) messageMarker() {}

// Stop is broadcast by the plan to cancel execution; async workers drain
// and exit without processing further input.
type Stop struct{}

func (Stop) messageMarker() {}

// Complete is emitted by an operator exactly once, after all of its
// produced rows, to every consumer and to the plan's central queue. Err is
// non-nil when the operator failed.
type Complete struct {
	Operator string
	Err      error
}

func (Complete) messageMarker() {}

// Eval is a control round-trip the scheduler uses to read state owned by an
// operator — per-operator metrics ("self.op_metrics") or the current
// TopKFilterBuild threshold — without operators sharing mutable memory.
type Eval struct {
	Operator string
	Query    string
	ReplyTo  chan Evaluated
}

func (Eval) messageMarker() {}

// Evaluated is the reply to an Eval request.
type Evaluated struct {
	Operator string
	Query    string
	Value    any
}

func (Evaluated) messageMarker() {}

// BloomFilter delivers a completed bloom filter from a BloomCreate operator
// to its subscribed scans. It is a control message, not a Data message — it
// never carries rows and is not preceded by FieldNames. Keys carries the
// distinct build-side values alongside the filter when the build side's
// cardinality was small enough to name them directly; a probe-side scan can
// then push an IN (...) list down to the object store instead of only
// testing filter membership after an unfiltered fetch. Keys is nil once
// cardinality exceeds that threshold.
type BloomFilter struct {
	Operator string
	Column   string
	Filter   BloomFilterValue
	Keys     []batch.Value
}

func (BloomFilter) messageMarker() {}

// BloomFilterValue is the minimal contract internal/physical needs from
// internal/bloom without importing it here (avoids a message<->bloom
// import cycle; internal/bloom.Filter satisfies this interface).
type BloomFilterValue interface {
	Contains(key []byte) bool
	Cardinality() uint64
}

// HashTable delivers the completed build-side hash table from a
// HashJoinBuild operator to its paired HashJoinProbe.
type HashTable struct {
	Operator string
	Table    HashTableValue
}

func (HashTable) messageMarker() {}

// HashTableValue is the minimal contract internal/physical's probe side
// needs; internal/physical's own buildTable type satisfies it directly.
type HashTableValue interface {
	Lookup(key []byte) []batch.Row
}

// Threshold delivers the current top-K threshold value from a
// TopKFilterBuild operator to scans that want to tighten their push-down
// predicate. Desc mirrors the Exchanger's order: true when the K largest
// values are kept (a tightening scan wants Column >= Value), false when the
// K smallest are kept (Column <= Value).
type Threshold struct {
	Operator string
	Column   string
	Value    batch.Value
	Valid    bool // false until K rows have been observed
	Desc     bool
}

func (Threshold) messageMarker() {}
