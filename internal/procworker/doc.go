// Package procworker lets an async operator run in a separate process
// instead of an in-process goroutine. Batches cross the process boundary
// framed over a stream rather than through a hand-rolled ring buffer,
// reusing gRPC's own length-prefixed stream framing for that purpose.
//
// The wire contract is a single bidirectional-streaming RPC,
// qflow.v1.OperatorWorker/Exchange, defined by hand below rather than
// generated by protoc: every frame is a google.golang.org/protobuf
// wrapperspb.BytesValue whose payload is one internal/message.Message
// encoded by envelope.go (FieldNames and Data reuse internal/wire's batch
// framing verbatim; Start/Stop/Complete are a few header bytes). Eval,
// BloomFilter, HashTable, and Threshold never cross this boundary — they
// carry Go channels or interface values with no cross-process
// representation, so a remote operator only participates in the plain
// producer/consumer dataflow, not the bloom/hash-join/top-k side channels.
package procworker
