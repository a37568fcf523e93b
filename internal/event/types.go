package event

import (
	"context"

	"github.com/dshills/negstation/internal/event/dispatch"
	"github.com/dshills/negstation/internal/event/topic"
)

// DeliveryMode specifies where a handler runs.
type DeliveryMode int

const (
	// DeliveryBackground runs the handler on the bus dispatch goroutine.
	DeliveryBackground DeliveryMode = iota

	// DeliveryMain queues the handler for the next DrainMain call.
	DeliveryMain
)

// String returns a human-readable delivery mode name.
func (m DeliveryMode) String() string {
	switch m {
	case DeliveryBackground:
		return "background"
	case DeliveryMain:
		return "main"
	default:
		return "unknown"
	}
}

// Handler is the interface for event handlers.
type Handler interface {
	// Handle processes an event.
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// FilterFunc is a predicate for filtering events.
// Return true to allow the event, false to filter it out.
type FilterFunc func(env Envelope) bool

// Observer receives bus activity, typically to feed metrics.
// Methods are called from the dispatch goroutine and from DrainMain
// and must not block.
type Observer interface {
	EventPublished(t topic.Topic)
	HandlerCompleted(t topic.Topic, mode DeliveryMode, result dispatch.Result)
}

// Stats contains event bus statistics.
type Stats struct {
	// Published is the number of events accepted by Publish.
	Published uint64

	// Dropped is the number of events published after the bus stopped.
	Dropped uint64

	// Delivered is the number of handler invocations that succeeded.
	Delivered uint64

	// Failed is the number of handler invocations that returned an error.
	Failed uint64

	// Panicked is the number of handler invocations that panicked.
	Panicked uint64

	// Skipped is the number of queued invocations that never ran because
	// their subscription was cancelled first.
	Skipped uint64

	// PublishQueueDepth is the number of events waiting for dispatch.
	PublishQueueDepth int

	// MainQueueDepth is the number of invocations waiting for DrainMain.
	MainQueueDepth int

	// ActiveSubscriptions is the current number of active subscriptions.
	ActiveSubscriptions int
}
