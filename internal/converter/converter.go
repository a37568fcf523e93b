package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/event/dispatch"
	"github.com/dshills/negstation/internal/fifo"
)

// Sentinel errors for the converter lifecycle.
var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("converter is already running")

	// ErrNotRunning is returned when Stop is called on a converter that is not running.
	ErrNotRunning = errors.New("converter is not running")

	// ErrEmptyResult is returned when a decoder returns neither artifact nor error.
	ErrEmptyResult = errors.New("decoder returned no artifact")
)

// Observer receives per-item outcomes, typically to feed metrics.
type Observer interface {
	ItemCompleted(converter string, ok bool, elapsed time.Duration)
}

// Stats contains converter counters.
type Stats struct {
	Enqueued  uint64
	Succeeded uint64
	Failed    uint64
	Pending   int
	State     State
}

// Option configures a Converter.
type Option func(*Converter)

// WithName sets the name reported in lifecycle events and logs.
func WithName(name string) Option {
	return func(c *Converter) {
		c.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Converter) {
		if l != nil {
			c.baseLog = l
		}
	}
}

// WithPublisher announces lifecycle events on p.
func WithPublisher(p event.Publisher) Option {
	return func(c *Converter) {
		c.bus = p
	}
}

// WithDecodeTimeout bounds each decode. Zero waits as long as the decoder
// takes.
func WithDecodeTimeout(d time.Duration) Option {
	return func(c *Converter) {
		c.decodeTimeout = d
	}
}

// WithObserver sets an observer for item outcomes.
func WithObserver(o Observer) Option {
	return func(c *Converter) {
		c.observer = o
	}
}

// Converter runs decodes on a single background worker.
type Converter struct {
	name     string
	decoder  Decoder
	settings *SettingsStore
	sink     Sink
	bus      event.Publisher
	observer Observer
	baseLog  logrus.FieldLogger
	log      logrus.FieldLogger
	executor *dispatch.Executor

	decodeTimeout time.Duration

	queue *fifo.Queue[string]
	state atomic.Int32

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	enqueued  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

// New creates a converter. A nil settings store gets DefaultSettings.
func New(decoder Decoder, settings *SettingsStore, sink Sink, opts ...Option) *Converter {
	if settings == nil {
		settings = NewSettingsStore(DefaultSettings())
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Converter{
		name:     "converter",
		decoder:  decoder,
		settings: settings,
		sink:     sink,
		baseLog:  discard,
		queue:    fifo.New[string](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.executor = dispatch.NewExecutor(dispatch.WithTimeout(c.decodeTimeout))
	c.log = c.baseLog.WithFields(logrus.Fields{"component": "converter", "converter": c.name})
	return c
}

// Name returns the converter name.
func (c *Converter) Name() string {
	return c.name
}

// Settings returns the settings store read by the worker.
func (c *Converter) Settings() *SettingsStore {
	return c.settings
}

// Start starts the worker goroutine.
func (c *Converter) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go c.worker()
	c.log.Debug("converter started")
	return nil
}

// Stop stops accepting items, finishes the queued ones and waits for the
// worker to exit. If ctx ends first the current decode is cancelled and
// ctx.Err() is returned.
func (c *Converter) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	c.queue.Close()

	select {
	case <-c.done:
		c.log.Debug("converter stopped")
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

// Enqueue appends source to the work queue and returns immediately. It
// reports false once the converter has been stopped. Duplicates are not
// collapsed.
func (c *Converter) Enqueue(source string) bool {
	if !c.queue.Push(source) {
		c.log.WithField("source", source).Warn("converter stopped, item rejected")
		return false
	}
	c.enqueued.Add(1)
	c.log.WithField("source", source).Info("queued for conversion")
	return true
}

// State returns the current worker state.
func (c *Converter) State() State {
	return State(c.state.Load())
}

// Pending returns the number of queued items.
func (c *Converter) Pending() int {
	return c.queue.Len()
}

// Stats returns converter counters.
func (c *Converter) Stats() Stats {
	return Stats{
		Enqueued:  c.enqueued.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Pending:   c.queue.Len(),
		State:     c.State(),
	}
}

func (c *Converter) worker() {
	defer close(c.done)

	for {
		if c.ctx.Err() != nil {
			return
		}
		source, err := c.queue.Pop(c.ctx)
		if err != nil {
			return
		}
		c.process(source)
	}
}

func (c *Converter) process(source string) {
	log := c.log.WithField("source", source)
	settings := c.settings.Load()

	c.transition(StateConverting)
	announce(c, TopicStarted, Started{Converter: c.name, Source: source})
	log.Info("converting")

	start := time.Now()
	art, err := c.decode(source, settings)
	elapsed := time.Since(start)

	if err == nil {
		c.transition(StatePublishing)
		err = c.sink.Deliver(c.ctx, Result{
			Converter: c.name,
			Source:    source,
			Artifact:  art,
			Elapsed:   elapsed,
		})
	}

	if err != nil {
		c.failed.Add(1)
		c.transition(StateFailed)
		log.WithError(err).WithField("elapsed", elapsed).Error("conversion failed")
		announce(c, TopicFailed, Failure{Converter: c.name, Source: source, Err: err.Error()})
	} else {
		c.succeeded.Add(1)
		log.WithFields(logrus.Fields{
			"elapsed": elapsed,
			"size":    fmt.Sprintf("%dx%d", art.Width(), art.Height()),
		}).Info("conversion complete")
	}

	if c.observer != nil {
		c.observer.ItemCompleted(c.name, err == nil, elapsed)
	}
	c.transition(StateIdle)
}

// decode runs the decoder through the executor so a panic becomes an error.
func (c *Converter) decode(source string, settings Settings) (*artifact.Artifact, error) {
	var art *artifact.Artifact
	result := c.executor.Execute(c.ctx, source, dispatch.HandlerFunc(func(ctx context.Context, _ any) error {
		a, err := c.decoder.Decode(ctx, source, settings)
		art = a
		return err
	}))

	switch {
	case result.Panicked:
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("%w: %v", ErrDecoderPanic, result.PanicValue)}
	case result.Error != nil:
		return nil, result.Error
	case art == nil:
		return nil, &DecodeError{Source: source, Err: ErrEmptyResult}
	}
	return art, nil
}

func (c *Converter) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	if from != to {
		announce(c, TopicState, StateChange{Converter: c.name, From: from, To: to})
	}
}

func announce[T any](c *Converter, k event.Key[T], payload T) {
	if c.bus != nil {
		event.Publish(c.bus, k, payload)
	}
}
