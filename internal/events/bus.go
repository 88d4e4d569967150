package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink receives published events. A failing sink never affects delivery to
// the others.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus fans published events out to registered sinks, in registration order,
// on the publisher's goroutine.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a sink for all subsequent publishes.
func (b *Bus) Subscribe(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish delivers the event to every sink. Sink errors are logged and
// swallowed so one slow or broken consumer cannot hold up the rest.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			log.Warn().Err(err).Str("topic", string(ev.Topic)).Msg("events.sink_failed")
		}
	}
}
