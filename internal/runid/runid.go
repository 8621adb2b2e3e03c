// Package runid stamps each Plan.Execute() call with a random identifier
// threaded through context, so events published on the shared eventbus
// (internal/events) can be correlated back to one query-plan execution.
//
// Shaped after the teacher's per-HTTP-request id package: a context key plus
// a random int64 generator, just attached to a plan run instead of an
// inbound request.
package runid

import (
	"context"
	"math/rand"
)

type ctxKey struct{}

// NewContext returns a copy of parent carrying a freshly generated run id,
// along with that id.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int63()
	return context.WithValue(parent, ctxKey{}, id), id
}

// FromContext extracts the run id stashed by NewContext, if any.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}
