// Package bloom implements a fixed-false-positive-rate membership filter: a
// bit array sized from an expected element count n and target false-positive
// rate p by the standard formulas, with insert/contains and no false
// negatives.
//
// The bit array and hash mixing are delegated to holiman/bloomfilter/v2 (the
// library AKJUS-bsc-erigon's go.mod carries for its own log-bloom indexes);
// this package owns only the m/k sizing math and the []byte-key convenience
// wrapper the rest of qflow's operators need.
package bloom

import (
	"hash/fnv"
	"math"

	hbloom "github.com/holiman/bloomfilter/v2"
)

// sum64 implements hbloom.Hashable by wrapping a precomputed 64-bit digest
// of a key, so callers never have to reason about the library's own hash
// mixing — only about turning a []byte key into one stable uint64.
type sum64 uint64

func (s sum64) Sum64() uint64 { return uint64(s) }

func hashKey(key []byte) sum64 {
	h := fnv.New64a()
	_, _ = h.Write(key)
	return sum64(h.Sum64())
}

// Filter is a sized, ready-to-use bloom filter.
type Filter struct {
	inner *hbloom.Filter
	m, k  uint64
	n     uint64 // expected element count used for sizing
}

// New sizes a filter for n expected insertions at target false-positive
// rate p, using m = -n·ln(p)/(ln 2)², k = (m/n)·ln 2.
func New(n uint64, p float64) *Filter {
	sizeFor := n
	if sizeFor == 0 {
		sizeFor = 1 // avoid division by zero in the sizing formulas below
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	nf := float64(sizeFor)
	m := uint64(math.Ceil(-nf * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 1 {
		m = 1
	}
	k := uint64(math.Round((float64(m) / nf) * math.Ln2))
	if k < 1 {
		k = 1
	}
	inner, err := hbloom.New(m, k)
	if err != nil {
		// m, k are always valid positive integers constructed above;
		// hbloom.New only fails on m==0 or k==0.
		inner, _ = hbloom.New(1024, 4)
	}
	return &Filter{inner: inner, m: m, k: k, n: n}
}

// Insert adds key to the filter.
func (f *Filter) Insert(key []byte) {
	f.inner.Add(hashKey(key))
}

// Contains reports whether key may be a member. False positives are
// possible at the configured rate; false negatives never occur.
func (f *Filter) Contains(key []byte) bool {
	return f.inner.Contains(hashKey(key))
}

// Cardinality returns the number of insertions the filter was sized for
// (used by BloomUse scans to decide between an IN (…) rewrite and
// attaching the raw bloom bits as a side predicate).
func (f *Filter) Cardinality() uint64 { return f.n }

// M and K expose the sizing parameters for metrics/debugging.
func (f *Filter) M() uint64 { return f.m }
func (f *Filter) K() uint64 { return f.k }

// Empty reports whether the filter was built over zero observed elements,
// the signal BloomUse scans use to short-circuit: if the upstream builder
// sends an empty filter, the scan has nothing left to do.
func (f *Filter) Empty() bool { return f.n == 0 }
