// Package eventbus is a tiny in-process typed publish/subscribe dispatcher.
// internal/physical and internal/plan publish internal/events values on it;
// internal/otelobs (and tests) subscribe without either side importing the
// other, keeping observability decoupled from execution.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

// Bus dispatches published values to every handler registered for their
// concrete type.
type Bus struct {
	mu       sync.Mutex
	handlers map[reflect.Type][]subscription
	nextID   uint64
}

type subscription struct {
	id uint64
	fn func(context.Context, any)
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]subscription)}
}

func (b *Bus) add(t reflect.Type, fn func(context.Context, any)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[t]
		for i, s := range subs {
			if s.id == id {
				b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[t]) == 0 {
			delete(b.handlers, t)
		}
	}
}

func (b *Bus) publish(ctx context.Context, e any) {
	if b == nil {
		return
	}
	t := reflect.TypeOf(e)
	b.mu.Lock()
	subs := b.handlers[t]
	if len(subs) == 0 {
		b.mu.Unlock()
		return
	}
	// Copy under the lock so a handler that subscribes/unsubscribes mid-
	// dispatch never mutates the slice we're iterating.
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(ctx, e)
	}
}

var active atomic.Pointer[Bus]

// Use installs b as the process-wide bus. Passing nil disables publishing.
func Use(b *Bus) { active.Store(b) }

// Subscribe registers h for events of type T on the process-wide bus.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	b := active.Load()
	if b == nil {
		return func() {}
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	return b.add(t, func(ctx context.Context, v any) { h(ctx, v.(T)) })
}

// Publish sends e to every subscriber of its concrete type on the
// process-wide bus.
func Publish[T any](ctx context.Context, e T) {
	active.Load().publish(ctx, e)
}
