// Package connector wires operator outputs to operator inputs in the four
// topologies a plan can use: one-to-one, many-to-many (broadcast),
// many-to-one (fan-in), and all-to-all (hash-partitioned fan-out, the shape
// a Map repartitioner uses ahead of a hash join or grouped aggregate).
package connector

import (
	"hash/maphash"

	"github.com/qflowdb/qflow/internal/op"
)

// OneToOne connects a single producer to a single consumer.
func OneToOne(producer, consumer *op.Operator) {
	producer.AddConsumer(consumer)
}

// ManyToMany broadcasts every producer's output to every consumer — used
// when a side-channel (BloomFilter, Threshold) must reach several scans.
func ManyToMany(producers, consumers []*op.Operator) {
	for _, p := range producers {
		for _, c := range consumers {
			p.AddConsumer(c)
		}
	}
}

// ManyToOne fans every producer's output into a single consumer — the
// Collate sink's usual upstream shape.
func ManyToOne(producers []*op.Operator, consumer *op.Operator) {
	for _, p := range producers {
		p.AddConsumer(consumer)
	}
}

// AllToAll registers every producer as a feeder of every consumer, exactly
// like ManyToMany, and returns a Partitioner the producers share so a
// Map repartitioner can pick one destination out of Operator.Consumers()
// per row instead of broadcasting. The topology is many-to-many at the
// wiring level; what makes it "all-to-all" partitioning is each producer
// routing a given row to exactly one consumer, chosen consistently across
// producers by Partitioner.Index.
func AllToAll(producers, consumers []*op.Operator) *Partitioner {
	for _, p := range producers {
		for _, c := range consumers {
			p.AddConsumer(c)
		}
	}
	return NewPartitioner(len(consumers))
}

// Partitioner maps a row's partition key to one of n downstream indexes
// using a seeded hash (hash/maphash), so two producers hashing the same
// key value agree on the destination consumer without any shared state
// beyond the seed.
type Partitioner struct {
	seed maphash.Seed
	n    int
}

// NewPartitioner creates a Partitioner targeting n downstream consumers.
// All producers in an AllToAll stage must share one Partitioner instance
// (or one built from the same seed) so their partitioning agrees.
func NewPartitioner(n int) *Partitioner {
	if n < 1 {
		n = 1
	}
	return &Partitioner{seed: maphash.MakeSeed(), n: n}
}

// Index returns the destination consumer index for a raw key.
func (p *Partitioner) Index(key []byte) int {
	var h maphash.Hash
	h.SetSeed(p.seed)
	h.Write(key)
	return int(h.Sum64() % uint64(p.n))
}

// N reports the number of downstream partitions.
func (p *Partitioner) N() int { return p.n }
