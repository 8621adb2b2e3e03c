package bloom_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qflowdb/qflow/internal/bloom"
)

func TestNoFalseNegatives(t *testing.T) {
	f := bloom.New(1000, 0.01)
	inserted := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		f.Insert(key)
		inserted = append(inserted, key)
	}
	for _, key := range inserted {
		require.True(t, f.Contains(key))
	}
}

func TestFalsePositiveRateBounded(t *testing.T) {
	const n = 5000
	const p = 0.01
	f := bloom.New(n, p)
	for i := 0; i < n; i++ {
		f.Insert([]byte(fmt.Sprintf("member-%d", i)))
	}

	falsePositives := 0
	const trials = 5000
	for i := 0; i < trials; i++ {
		key := []byte(fmt.Sprintf("disjoint-%d", i))
		if f.Contains(key) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	require.LessOrEqual(t, rate, 2*p, "measured false-positive rate should be <= 2p")
}

func TestEmptyFilterShortCircuits(t *testing.T) {
	f := bloom.New(0, 0.01)
	require.True(t, f.Empty())
}
