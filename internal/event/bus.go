package event

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/event/dispatch"
	"github.com/dshills/negstation/internal/event/topic"
	"github.com/dshills/negstation/internal/fifo"
)

const (
	busIdle int32 = iota
	busRunning
	busStopped
)

// mainItem is a handler invocation waiting for DrainMain.
type mainItem struct {
	sub *subscription
	env Envelope
}

// Bus is the central event bus.
type Bus struct {
	// Subscription management
	registry *Registry

	executor *dispatch.Executor
	queue    *fifo.Queue[Envelope]
	main     *fifo.Queue[mainItem]

	// State
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Configuration
	config busConfig
	log    logrus.FieldLogger

	// Stats
	published atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	skipped   atomic.Uint64
}

// NewBus creates a new event bus with the given options.
// Events published before Start are held until the bus starts.
func NewBus(opts ...BusOption) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		registry: NewRegistry(),
		executor: dispatch.NewExecutor(),
		queue:    fifo.New[Envelope](),
		main:     fifo.New[mainItem](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		config:   config,
		log:      config.logger.WithField("component", "event-bus"),
	}
}

// Start starts the dispatch goroutine.
func (b *Bus) Start() error {
	if !b.state.CompareAndSwap(busIdle, busRunning) {
		if b.state.Load() == busStopped {
			return ErrBusStopped
		}
		return ErrBusAlreadyRunning
	}
	go b.loop()
	return nil
}

// Stop stops accepting events, dispatches everything already queued and
// waits for the dispatch goroutine to exit. If ctx ends first, in-flight
// dispatch is abandoned and ctx.Err() is returned. Items on the main queue
// are left for DrainMain.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(busRunning, busStopped) {
		return ErrBusNotRunning
	}
	b.queue.Close()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.cancel()
		return ctx.Err()
	}
}

// IsRunning returns true if the bus is running.
func (b *Bus) IsRunning() bool {
	return b.state.Load() == busRunning
}

func (b *Bus) loop() {
	defer close(b.done)

	for {
		if b.ctx.Err() != nil {
			return
		}
		env, err := b.queue.Pop(b.ctx)
		if err != nil {
			return
		}
		b.dispatch(env)
	}
}

// dispatch delivers env to the subscriptions active right now.
func (b *Bus) dispatch(env Envelope) {
	for _, sub := range b.registry.Match(env.Topic) {
		if !sub.ShouldDeliver(env) {
			continue
		}
		if sub.config.Once && !sub.fired.CompareAndSwap(false, true) {
			continue
		}

		switch sub.config.DeliveryMode {
		case DeliveryMain:
			b.main.Push(mainItem{sub: sub, env: env})
		default:
			b.invoke(sub, env)
		}
	}
}

// invoke runs the handler of sub unless it was cancelled in the meantime.
// It reports whether the handler ran.
func (b *Bus) invoke(sub *subscription, env Envelope) bool {
	if !sub.IsActive() {
		b.skipped.Add(1)
		return false
	}

	result := b.executor.Execute(b.ctx, env, sub.handler)
	if sub.config.Once {
		sub.Cancel()
		b.registry.Remove(sub.ID())
	}
	b.record(sub, env, result)
	return !result.Skipped
}

func (b *Bus) record(sub *subscription, env Envelope, result dispatch.Result) {
	fields := logrus.Fields{
		"topic":        env.Topic,
		"subscription": sub.ID(),
		"mode":         sub.Mode().String(),
	}

	switch {
	case result.Skipped:
		b.skipped.Add(1)
	case result.Panicked:
		b.panicked.Add(1)
		b.log.WithFields(fields).WithError(&PanicError{
			SubscriptionID: sub.ID(),
			Topic:          env.Topic,
			Value:          result.PanicValue,
			Stack:          string(result.PanicStack),
		}).Error("event handler panicked")
	case result.Error != nil:
		b.failed.Add(1)
		b.log.WithFields(fields).WithError(&HandlerError{
			SubscriptionID: sub.ID(),
			Topic:          env.Topic,
			Err:            result.Error,
		}).Error("event handler failed")
	default:
		b.delivered.Add(1)
	}

	if b.config.observer != nil {
		b.config.observer.HandlerCompleted(env.Topic, sub.Mode(), result)
	}
}

// Publish queues payload for delivery on topic t. It never blocks and may
// be called from any goroutine, including from inside a handler.
func (b *Bus) Publish(t topic.Topic, payload any) {
	b.PublishEnvelope(Envelope{Topic: t, Payload: payload})
}

// PublishFrom is Publish with an explicit Metadata.Source.
func (b *Bus) PublishFrom(source string, t topic.Topic, payload any) {
	b.PublishEnvelope(Envelope{Topic: t, Payload: payload, Metadata: Metadata{Source: source}})
}

// PublishEnvelope queues env, filling in missing metadata.
func (b *Bus) PublishEnvelope(env Envelope) {
	if env.Metadata.ID == "" {
		env.Metadata.ID = newID()
	}
	if env.Metadata.Timestamp.IsZero() {
		env.Metadata.Timestamp = time.Now()
	}
	if env.Metadata.Source == "" {
		env.Metadata.Source = b.config.source
	}

	if !b.queue.Push(env) {
		b.dropped.Add(1)
		b.log.WithField("topic", env.Topic).Debug("event published after bus stopped")
		return
	}
	b.published.Add(1)
	if b.config.observer != nil {
		b.config.observer.EventPublished(env.Topic)
	}
}

// DrainMain runs the main-thread invocations that were queued when it was
// called, in FIFO order, on the calling goroutine, and returns how many
// handlers ran. It should be called from a single goroutine.
func (b *Bus) DrainMain() int {
	items := b.main.DrainN(b.main.Len())
	ran := 0
	for _, it := range items {
		if b.invoke(it.sub, it.env) {
			ran++
		}
	}
	return ran
}

// Subscribe creates a new subscription for the given topic or pattern.
// Subscriptions are delivered in registration order.
func (b *Bus) Subscribe(t topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if err := topic.Validate(t); err != nil {
		return nil, err
	}

	b.registry.RemoveCancelled()
	sub := newSubscription(newID(), t, handler, opts...)
	b.registry.Add(sub)
	return sub, nil
}

// SubscribeFunc is a convenience method for subscribing with a function handler.
func (b *Bus) SubscribeFunc(t topic.Topic, fn func(ctx context.Context, env Envelope) error, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(t, HandlerFunc(fn), opts...)
}

// Unsubscribe cancels and removes a subscription.
func (b *Bus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}

	sub.Cancel()
	if !b.registry.Remove(sub.ID()) {
		return ErrSubscriptionNotFound
	}
	return nil
}

// UnsubscribeAll cancels every subscription registered with owner and
// returns how many were removed. Unknown owners and NoOwner are a no-op.
func (b *Bus) UnsubscribeAll(owner Owner) int {
	if owner == NoOwner {
		return 0
	}
	removed := b.registry.RemoveOwner(owner)
	for _, sub := range removed {
		sub.Cancel()
	}
	return len(removed)
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:           b.published.Load(),
		Dropped:             b.dropped.Load(),
		Delivered:           b.delivered.Load(),
		Failed:              b.failed.Load(),
		Panicked:            b.panicked.Load(),
		Skipped:             b.skipped.Load(),
		PublishQueueDepth:   b.queue.Len(),
		MainQueueDepth:      b.main.Len(),
		ActiveSubscriptions: b.registry.CountActive(),
	}
}
