package event

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/negstation/internal/event/topic"
)

// Metadata contains standard information attached to every event.
type Metadata struct {
	// ID is a unique identifier for this event instance.
	ID string

	// Timestamp is when the event was published.
	Timestamp time.Time

	// Source identifies the component that published the event.
	Source string
}

// Envelope is the unit carried by the bus queues.
type Envelope struct {
	// Topic is the event topic.
	Topic topic.Topic

	// Payload is the type-erased event payload.
	Payload any

	// Metadata is the event metadata.
	Metadata Metadata
}

// Owner identifies the component that registered a group of subscriptions.
type Owner string

// NoOwner is the owner of subscriptions registered without WithOwner.
const NoOwner Owner = ""

// NewOwner returns a fresh owner token.
func NewOwner() Owner {
	return Owner(uuid.NewString())
}

// String returns the owner token.
func (o Owner) String() string {
	return string(o)
}

// newID generates a unique event or subscription ID.
func newID() string {
	return uuid.NewString()
}

// Publisher is implemented by anything that accepts events.
type Publisher interface {
	Publish(t topic.Topic, payload any)
}

// Subscribable is implemented by the Bus and by Subscriber.
type Subscribable interface {
	Subscribe(t topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error)
}

// Key binds a concrete topic to the type of its payload.
type Key[T any] struct {
	topic topic.Topic
}

// NewKey returns the typed key for t. It panics if t is not a valid
// concrete topic, so keys are normally declared as package variables.
func NewKey[T any](t topic.Topic) Key[T] {
	if err := topic.Validate(t); err != nil {
		panic(err)
	}
	if t.IsPattern() {
		panic(fmt.Sprintf("event: key topic %q is a pattern", t))
	}
	return Key[T]{topic: t}
}

// Topic returns the topic of the key.
func (k Key[T]) Topic() topic.Topic {
	return k.topic
}

// String returns the topic of the key.
func (k Key[T]) String() string {
	return string(k.topic)
}

// Publish publishes payload on the key's topic.
func Publish[T any](p Publisher, k Key[T], payload T) {
	p.Publish(k.topic, payload)
}

// Subscribe registers fn for the key's topic. Envelopes whose payload is
// not a T are reported as handler failures wrapping ErrPayloadType.
func Subscribe[T any](s Subscribable, k Key[T], fn func(ctx context.Context, payload T) error, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return s.Subscribe(k.topic, HandlerFunc(func(ctx context.Context, env Envelope) error {
		payload, ok := env.Payload.(T)
		if !ok {
			var want T
			return fmt.Errorf("%w: topic %s carries %T, want %T", ErrPayloadType, env.Topic, env.Payload, want)
		}
		return fn(ctx, payload)
	}), opts...)
}
