package event

import (
	"context"
	"sync/atomic"

	"github.com/dshills/negstation/internal/event/dispatch"
	"github.com/dshills/negstation/internal/event/topic"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving events.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStateCancelled means the subscription has been permanently cancelled.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription represents an event subscription.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// Topic returns the subscribed topic or pattern.
	Topic() topic.Topic

	// Owner returns the owner token, NoOwner if none was given.
	Owner() Owner

	// Mode returns the delivery mode.
	Mode() DeliveryMode

	// State returns the current subscription state.
	State() SubscriptionState

	// IsActive returns true if the subscription can receive events.
	IsActive() bool

	// Cancel permanently cancels the subscription. Items already queued
	// for it are discarded.
	Cancel()
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// DeliveryMode specifies background or main-thread delivery.
	DeliveryMode DeliveryMode

	// Owner groups the subscription for UnsubscribeAll.
	Owner Owner

	// Filter is an optional predicate evaluated at dispatch time.
	Filter FilterFunc

	// Once indicates the subscription should auto-cancel after the first event.
	Once bool
}

// DefaultSubscriptionConfig returns a default subscription configuration.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		DeliveryMode: DeliveryBackground,
	}
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithDeliveryMode sets the delivery mode.
func WithDeliveryMode(m DeliveryMode) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.DeliveryMode = m
	}
}

// WithOwner tags the subscription with an owner token.
func WithOwner(o Owner) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Owner = o
	}
}

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithOnce sets the subscription to auto-cancel after the first event.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// subscription is the internal implementation of Subscription.
type subscription struct {
	id      string
	topic   topic.Topic
	handler dispatch.Handler
	config  SubscriptionConfig
	state   atomic.Int32

	// fired is set when a once subscription has been matched.
	fired atomic.Bool
}

// newSubscription creates a new subscription.
func newSubscription(id string, t topic.Topic, h Handler, opts ...SubscriptionOption) *subscription {
	config := DefaultSubscriptionConfig()
	for _, opt := range opts {
		opt(&config)
	}

	s := &subscription{
		id:    id,
		topic: t,
		handler: dispatch.HandlerFunc(func(ctx context.Context, event any) error {
			return h.Handle(ctx, event.(Envelope))
		}),
		config: config,
	}
	s.state.Store(int32(SubscriptionStateActive))
	return s
}

// ID returns the subscription ID.
func (s *subscription) ID() string {
	return s.id
}

// Topic returns the subscribed topic pattern.
func (s *subscription) Topic() topic.Topic {
	return s.topic
}

// Owner returns the owner token.
func (s *subscription) Owner() Owner {
	return s.config.Owner
}

// Mode returns the delivery mode.
func (s *subscription) Mode() DeliveryMode {
	return s.config.DeliveryMode
}

// Config returns the subscription configuration.
func (s *subscription) Config() SubscriptionConfig {
	return s.config
}

// State returns the current subscription state.
func (s *subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// IsActive returns true if the subscription is active.
func (s *subscription) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

// Cancel permanently cancels the subscription.
func (s *subscription) Cancel() {
	s.state.Store(int32(SubscriptionStateCancelled))
}

// ShouldDeliver returns true if env should be delivered to this subscription.
func (s *subscription) ShouldDeliver(env Envelope) bool {
	if !s.IsActive() {
		return false
	}
	if !topic.Matches(s.topic, env.Topic) {
		return false
	}
	if s.config.Filter != nil && !s.config.Filter(env) {
		return false
	}
	return true
}
