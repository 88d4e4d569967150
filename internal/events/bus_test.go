package events

import (
	"context"
	"errors"
	"testing"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(SinkFunc(func(context.Context, Event) error {
		order = append(order, "first")
		return nil
	}))
	bus.Subscribe(SinkFunc(func(context.Context, Event) error {
		order = append(order, "second")
		return nil
	}))

	bus.Publish(context.Background(), Event{Topic: TopicPaymentConfirmed})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", order)
	}
}

func TestBusSinkFailureIsolated(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(SinkFunc(func(context.Context, Event) error {
		return errors.New("sink down")
	}))
	bus.Subscribe(SinkFunc(func(context.Context, Event) error {
		delivered = true
		return nil
	}))

	bus.Publish(context.Background(), Event{Topic: TopicPaymentConfirmed})

	if !delivered {
		t.Error("second sink not reached after first failed")
	}
}

func TestBusNoSinks(t *testing.T) {
	bus := NewBus()
	// publishing with no sinks must not panic
	bus.Publish(context.Background(), Event{Topic: TopicPaymentConfirmed})
}
