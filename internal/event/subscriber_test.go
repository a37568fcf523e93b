package event

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestSubscriber_TagsOwner(t *testing.T) {
	bus := NewBus()
	s := bus.NewSubscriber()

	sub, err := s.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error { return nil },
		WithOwner(NewOwner()))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if sub.Owner() != s.Owner() {
		t.Errorf("Owner() = %s, want %s", sub.Owner(), s.Owner())
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestSubscriber_Close(t *testing.T) {
	bus := startBus(t)
	s := bus.NewSubscriber()
	other := bus.NewSubscriber()

	var mine, theirs atomic.Int32
	s.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		mine.Add(1)
		return nil
	})
	s.SubscribeFunc("stage-structure-changed", func(ctx context.Context, env Envelope) error {
		mine.Add(1)
		return nil
	}, WithDeliveryMode(DeliveryMain))
	other.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		theirs.Add(1)
		return nil
	})

	if n := s.Close(); n != 2 {
		t.Errorf("Close() = %d, want 2", n)
	}
	if !s.IsClosed() {
		t.Error("expected subscriber to be closed")
	}
	if n := s.Close(); n != 0 {
		t.Errorf("second Close() = %d, want 0", n)
	}

	bus.Publish("stage-data", nil)
	bus.Publish("stage-structure-changed", nil)
	idle(t, bus)
	bus.DrainMain()

	if mine.Load() != 0 {
		t.Errorf("closed subscriber received %d events", mine.Load())
	}
	if theirs.Load() != 1 {
		t.Errorf("other subscriber received %d events, want 1", theirs.Load())
	}

	if _, err := s.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error { return nil }); err != ErrSubscriberClosed {
		t.Errorf("Subscribe after close: err = %v, want ErrSubscriberClosed", err)
	}
}

func TestSubscriber_Publish(t *testing.T) {
	bus := startBus(t)
	s := bus.NewSubscriber()

	var got atomic.Int32
	s.SubscribeFunc("run-full-resolution", func(ctx context.Context, env Envelope) error {
		got.Add(1)
		return nil
	})
	s.Publish("run-full-resolution", struct{}{})
	idle(t, bus)

	if got.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", got.Load())
	}
	if s.Bus() != bus {
		t.Error("Bus() returned a different bus")
	}
}
