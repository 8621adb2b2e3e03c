// Package plan implements the query-plan scheduler: it owns the operator
// set of one query, wires producers to consumers via internal/connector,
// assigns start order, drives execution to completion, and aggregates
// per-operator metrics into a final report.
//
// A Plan separates operator identity (the *op.Operator wrapper) from
// operator logic (a Body, e.g. internal/physical.Scan) the way the rest of
// this codebase does: Add constructs the Operator, Binds the body to it,
// and registers it under a unique name, mirroring what
// internal/physical's own tests do by hand for a single operator.
package plan
