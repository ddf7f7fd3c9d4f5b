// Package events defines the outbound event contract between the match
// engine and collaborator layers (Kafka, WebSocket, tests).
package events

import (
	"context"
	"sync"

	"github.com/pokegambler-engine/internal/domain"
)

// Emitter receives match lifecycle events. Implementations must not block
// the match goroutine; slow sinks should buffer or drop.
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev domain.Event)

// Emit calls the underlying function.
func (f EmitterFunc) Emit(ctx context.Context, ev domain.Event) {
	f(ctx, ev)
}

// Multi fans one event out to several emitters.
type Multi struct {
	emitters []Emitter
}

// NewMulti builds a fan-out emitter. Nil members are skipped.
func NewMulti(emitters ...Emitter) *Multi {
	m := &Multi{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit delivers the event to every registered emitter.
func (m *Multi) Emit(ctx context.Context, ev domain.Event) {
	for _, e := range m.emitters {
		e.Emit(ctx, ev)
	}
}

// Capture records events in memory for tests and diagnostics.
type Capture struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewCapture creates an empty capture emitter.
func NewCapture() *Capture {
	return &Capture{}
}

// Emit appends the event.
func (c *Capture) Emit(ctx context.Context, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything captured so far.
func (c *Capture) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Event, len(c.events))
	copy(out, c.events)
	return out
}
