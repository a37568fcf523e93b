package event

import (
	"context"
	"sync"

	"github.com/dshills/negstation/internal/event/topic"
)

// Subscriber groups the subscriptions of one component under a fresh
// owner token and cancels all of them on Close.
type Subscriber struct {
	bus   *Bus
	owner Owner

	mu     sync.Mutex
	closed bool
}

// NewSubscriber creates a Subscriber with a new owner token.
func (b *Bus) NewSubscriber() *Subscriber {
	return &Subscriber{
		bus:   b,
		owner: NewOwner(),
	}
}

// Owner returns the owner token used for every subscription.
func (s *Subscriber) Owner() Owner {
	return s.owner
}

// Subscribe creates a subscription owned by this subscriber.
func (s *Subscriber) Subscribe(t topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSubscriberClosed
	}

	// Owner goes last so callers cannot move a subscription out of the group.
	opts = append(opts[:len(opts):len(opts)], WithOwner(s.owner))
	return s.bus.Subscribe(t, handler, opts...)
}

// SubscribeFunc creates a subscription with a function handler.
func (s *Subscriber) SubscribeFunc(t topic.Topic, fn func(ctx context.Context, env Envelope) error, opts ...SubscriptionOption) (Subscription, error) {
	return s.Subscribe(t, HandlerFunc(fn), opts...)
}

// Publish publishes through the underlying bus.
func (s *Subscriber) Publish(t topic.Topic, payload any) {
	s.bus.Publish(t, payload)
}

// Unsubscribe removes a specific subscription.
func (s *Subscriber) Unsubscribe(sub Subscription) error {
	return s.bus.Unsubscribe(sub)
}

// Close cancels all subscriptions and prevents new ones.
// It returns the number of subscriptions cancelled.
func (s *Subscriber) Close() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	s.closed = true
	return s.bus.UnsubscribeAll(s.owner)
}

// Count returns the number of subscriptions held by this subscriber.
func (s *Subscriber) Count() int {
	return s.bus.registry.CountByOwner(s.owner)
}

// IsClosed returns true if the subscriber has been closed.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bus returns the underlying bus.
func (s *Subscriber) Bus() *Bus {
	return s.bus
}
