// Package grpctp pools gRPC client connections to internal/procworker
// servers, resolving which endpoints host a given operator through an
// EndpointProvider instead of a single hardcoded address. A plan that
// spreads an operator's Async work across several worker replicas dials
// through one Transport rather than managing *grpc.ClientConn lifetimes
// itself.
package grpctp
