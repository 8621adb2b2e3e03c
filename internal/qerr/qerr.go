// Package qerr defines the error taxonomy used across qflow: transport,
// schema, predicate, aggregate, plan, and shutdown errors. Like the rest of
// this codebase it wraps with stdlib fmt.Errorf/%w rather than a
// third-party errors package.
package qerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the subsystem that raised it.
type Kind int

const (
	KindTransport Kind = iota
	KindSchema
	KindPredicate
	KindAggregate
	KindPlan
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindSchema:
		return "schema"
	case KindPredicate:
		return "predicate"
	case KindAggregate:
		return "aggregate"
	case KindPlan:
		return "plan"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is a kinded, wrapped error. Kind.Fatal classifies Transport, Schema,
// and Aggregate errors as fatal and Predicate errors as local, but the
// operator loop in internal/op ends an operator on any error its handler
// returns, whatever the kind; internal/physical's Filter returns a failing
// predicate as a Predicate error. Plan errors abort plan construction
// before Execute(); Shutdown errors are raised when the context is
// cancelled before an operator or the plan completes.
type Error struct {
	Kind Kind
	Op   string // operator name, empty for plan-construction errors
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kinded error for operator op (op may be "" for
// plan-construction errors raised before any operator runs).
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operator name to an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether an error of this kind is fatal for the operator
// that raised it and must be surfaced as an error-tagged Complete: transport,
// schema, and aggregate errors are fatal; predicate errors are local; plan
// and shutdown errors never reach a running operator.
func (k Kind) Fatal() bool {
	switch k {
	case KindTransport, KindSchema, KindAggregate:
		return true
	default:
		return false
	}
}
