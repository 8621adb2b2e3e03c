// Package topk implements a top-K threshold exchanger: a running heap over
// a sort column, exposing a live threshold value that scans can inject as
// an additional push-down predicate to prune later batches.
package topk

import (
	"container/heap"
	"sync"

	"github.com/qflowdb/qflow/internal/batch"
)

// Order selects whether the heap keeps the K largest (Desc, the common
// "top N by revenue" case) or K smallest (Asc) values.
type Order int

const (
	Desc Order = iota
	Asc
)

// Exchanger maintains the current K-th best value observed so far and
// publishes it for concurrent readers. It is safe for concurrent Observe
// and Threshold calls — TopKFilterBuild owns the single writer side; scans
// only ever read through Threshold.
type Exchanger struct {
	mu    sync.RWMutex
	k     int
	order Order
	h     valueHeap
}

// New creates an Exchanger retaining the K best values in the given order.
func New(k int, order Order) *Exchanger {
	if k < 1 {
		k = 1
	}
	return &Exchanger{k: k, order: order}
}

// Observe folds v into the running top-K set. Null values never tighten
// the threshold.
func (e *Exchanger) Observe(v batch.Value) {
	if v.Null {
		return
	}
	f, ok := v.AsFloat64()
	if !ok {
		return
	}
	if e.order == Asc {
		f = -f // min-heap simulates a max-heap by negating
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.h.Len() < e.k {
		heap.Push(&e.h, f)
		return
	}
	if f > e.h[0] {
		e.h[0] = f
		heap.Fix(&e.h, 0)
	}
}

// Order reports whether e keeps the K largest (Desc) or K smallest (Asc)
// values, so a caller publishing the threshold knows which direction
// tightens a predicate.
func (e *Exchanger) Order() Order {
	return e.order
}

// Threshold returns the current K-th best value and whether K observations
// have been made yet (valid is false before the heap fills).
func (e *Exchanger) Threshold() (value float64, valid bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.h.Len() < e.k {
		return 0, false
	}
	f := e.h[0]
	if e.order == Asc {
		f = -f
	}
	return f, true
}

// valueHeap is a min-heap of float64; combined with sign-flipping in
// Observe/Threshold it implements both "keep K largest" and "keep K
// smallest" with one container/heap instance.
type valueHeap []float64

func (h valueHeap) Len() int            { return len(h) }
func (h valueHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h valueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *valueHeap) Push(x any)         { *h = append(*h, x.(float64)) }
func (h *valueHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
