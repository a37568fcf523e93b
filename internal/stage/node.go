package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/pipeline"
)

// Sentinel errors for node construction and use.
var (
	// ErrUnknownKind is returned by New for an unregistered kind.
	ErrUnknownKind = errors.New("unknown stage kind")

	// ErrInvalidEnv is returned by New when a required collaborator is missing.
	ErrInvalidEnv = errors.New("invalid stage environment")

	// ErrUnknownStage is returned when binding to a stage the registry does not have.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrNotSource is returned by Open on nodes that do not read files.
	ErrNotSource = errors.New("stage is not a source")

	// ErrNoInput is returned by SetInput on source nodes.
	ErrNoInput = errors.New("stage has no input")

	// ErrNodeClosed is returned by operations on a closed node.
	ErrNodeClosed = errors.New("stage node is closed")
)

// Env carries the collaborators shared by every node.
type Env struct {
	Bus      *event.Bus
	Registry *pipeline.Registry

	// Decoder and Settings are used by source nodes. A nil Settings gets a
	// private store with converter defaults.
	Decoder  converter.Decoder
	Settings *converter.SettingsStore

	// PreviewSize is the longest side of the preview tier produced by
	// source nodes.
	PreviewSize int

	// DecodeTimeout bounds each decode of a source node. Zero disables it.
	DecodeTimeout time.Duration

	Logger            logrus.FieldLogger
	ConverterObserver converter.Observer
}

func (e Env) validate() error {
	switch {
	case e.Bus == nil:
		return fmt.Errorf("%w: nil bus", ErrInvalidEnv)
	case e.Registry == nil:
		return fmt.Errorf("%w: nil registry", ErrInvalidEnv)
	}
	return nil
}

func (e Env) logger() logrus.FieldLogger {
	if e.Logger != nil {
		return e.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Processor is the kind-specific part of a node.
type Processor interface {
	// Config returns the current settings.
	Config() Config

	// SetConfig applies settings. Keys that are absent keep their value.
	SetConfig(cfg Config) error
}

// Transformer is a Processor that produces an output artifact.
type Transformer interface {
	Processor
	Transform(a *artifact.Artifact) (*artifact.Artifact, error)
}

// Consumer is a Processor that ends a chain.
type Consumer interface {
	Processor
	Consume(a *artifact.Artifact, tier pipeline.Tier) error
}

// Source is a Processor that produces artifacts from files.
type Source interface {
	Processor
	Open(path string) error
}

type starter interface {
	start() error
}

type stopper interface {
	stop(ctx context.Context) error
}

// State is the persisted form of a node.
type State struct {
	Kind   string           `json:"kind" yaml:"kind"`
	Label  string           `json:"label,omitempty" yaml:"label,omitempty"`
	Input  pipeline.StageID `json:"input" yaml:"input"`
	Output pipeline.StageID `json:"output" yaml:"output"`
	Config Config           `json:"config,omitempty" yaml:"config,omitempty"`
}

// Option configures New.
type Option func(*options)

type options struct {
	input  pipeline.StageID
	output pipeline.StageID
	label  string
	config Config
}

// WithInput binds the node to an input stage.
func WithInput(id pipeline.StageID) Option {
	return func(o *options) {
		o.input = id
	}
}

// WithOutput reuses an existing stage as output instead of registering a
// new one. It is used when restoring a saved layout.
func WithOutput(id pipeline.StageID) Option {
	return func(o *options) {
		o.output = id
	}
}

// WithLabel sets the label of the output stage, or of the node itself for
// sinks.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithConfig applies initial settings.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// Node is one consumer bound to the stage registry.
type Node struct {
	kind   *kind
	env    Env
	proc   Processor
	sub    *event.Subscriber
	log    logrus.FieldLogger
	output pipeline.StageID

	mu        sync.Mutex
	input     pipeline.StageID
	label     string
	structure pipeline.Structure
	closed    bool

	// work serializes processing between bus handlers and callers of
	// SetInput and SetConfig.
	work sync.Mutex
	last *artifact.Artifact
}

// New creates a node of the given kind and subscribes it to the bus.
func New(name string, env Env, opts ...Option) (*Node, error) {
	k, ok := lookupKind(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}

	o := options{input: pipeline.NoStage, output: pipeline.NoStage}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{
		kind:   k,
		env:    env,
		input:  pipeline.NoStage,
		output: pipeline.NoStage,
		label:  k.label,
	}
	if o.label != "" {
		n.label = o.label
	}
	if k.role != roleSource {
		n.input = o.input
	}

	registered := false
	if k.role != roleSink {
		if o.output.Valid() {
			if _, ok := env.Registry.Label(o.output); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownStage, o.output)
			}
			n.output = o.output
			if o.label != "" {
				env.Registry.Rename(n.output, o.label)
			}
		} else {
			n.output = env.Registry.Register(n.label)
			registered = true
		}
	}

	n.log = env.logger().WithFields(logrus.Fields{
		"component": "stage",
		"kind":      k.name,
		"output":    n.output,
	})

	cleanup := func() {
		if registered {
			env.Registry.Remove(n.output)
		}
	}

	proc, err := k.build(n)
	if err != nil {
		cleanup()
		return nil, err
	}
	n.proc = proc
	if o.config != nil {
		if err := proc.SetConfig(o.config); err != nil {
			n.stopProcessor(context.Background())
			cleanup()
			return nil, err
		}
	}

	n.sub = env.Bus.NewSubscriber()
	if err := n.subscribe(); err != nil {
		n.sub.Close()
		n.stopProcessor(context.Background())
		cleanup()
		return nil, err
	}

	if s, ok := proc.(starter); ok {
		if err := s.start(); err != nil {
			n.sub.Close()
			cleanup()
			return nil, err
		}
	}

	env.Registry.RepublishStructure()
	n.log.Debug("stage node created")
	return n, nil
}

// Restore recreates a node from its persisted state.
func Restore(env Env, s State) (*Node, error) {
	return New(s.Kind, env,
		WithInput(s.Input),
		WithOutput(s.Output),
		WithLabel(s.Label),
		WithConfig(s.Config),
	)
}

func (n *Node) subscribe() error {
	main := event.WithDeliveryMode(event.DeliveryMain)

	if _, err := event.Subscribe(n.sub, pipeline.TopicStructure, n.onStructure, main); err != nil {
		return err
	}

	switch n.kind.role {
	case roleSource:
		_, err := event.Subscribe(n.sub, pipeline.TopicRunFull, n.onRunFull, main)
		return err
	default:
		for _, tier := range []pipeline.Tier{pipeline.TierPreview, pipeline.TierFull} {
			if _, err := event.Subscribe(n.sub, pipeline.DataKey(tier), n.onData(tier), main, event.WithFilter(n.fromInput)); err != nil {
				return err
			}
		}
	}
	return nil
}

// fromInput filters data events at dispatch time.
func (n *Node) fromInput(env event.Envelope) bool {
	d, ok := env.Payload.(pipeline.StageData)
	return ok && d.ID == n.Input()
}

func (n *Node) onStructure(_ context.Context, s pipeline.Structure) error {
	n.mu.Lock()
	n.structure = s
	input := n.input
	n.mu.Unlock()

	if input.Valid() && !s.Contains(input) {
		n.log.WithField("input", input).Debug("input stage is gone")
	}
	return nil
}

func (n *Node) onData(tier pipeline.Tier) func(context.Context, pipeline.StageData) error {
	return func(_ context.Context, d pipeline.StageData) error {
		n.work.Lock()
		defer n.work.Unlock()

		// The input may have been rebound after the event was queued.
		if d.ID != n.Input() {
			return nil
		}
		return n.processLocked(d.Artifact, tier)
	}
}

func (n *Node) onRunFull(context.Context, pipeline.RunFull) error {
	a := n.env.Registry.FullResolution(n.output)
	if a == nil {
		n.log.Debug("run-full-resolution: nothing opened")
		return nil
	}
	n.env.Registry.Publish(n.output, a, pipeline.TierFull)
	return nil
}

// processLocked runs the processor on a. The caller holds n.work.
func (n *Node) processLocked(a *artifact.Artifact, tier pipeline.Tier) error {
	if a == nil || n.IsClosed() {
		return nil
	}
	if tier == pipeline.TierPreview {
		n.last = a
	}

	switch p := n.proc.(type) {
	case Transformer:
		out, err := p.Transform(a)
		if err != nil {
			return fmt.Errorf("stage %s: %w", n.kind.name, err)
		}
		n.env.Registry.Publish(n.output, out, tier)
	case Consumer:
		if err := p.Consume(a, tier); err != nil {
			return fmt.Errorf("stage %s: %w", n.kind.name, err)
		}
	}
	return nil
}

// Kind returns the kind name.
func (n *Node) Kind() string {
	return n.kind.name
}

// Label returns the label of the output stage, or of the node for sinks.
func (n *Node) Label() string {
	if n.output.Valid() {
		if l, ok := n.env.Registry.Label(n.output); ok {
			return l
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.label
}

// SetLabel renames the node and its output stage.
func (n *Node) SetLabel(label string) {
	n.mu.Lock()
	n.label = label
	n.mu.Unlock()

	if n.output.Valid() {
		n.env.Registry.Rename(n.output, label)
	}
}

// Input returns the bound input stage, or NoStage.
func (n *Node) Input() pipeline.StageID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.input
}

// Output returns the output stage, or NoStage for sinks.
func (n *Node) Output() pipeline.StageID {
	return n.output
}

// Stages returns the last structure announcement the node received.
func (n *Node) Stages() pipeline.Structure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.structure
}

// SetInput rebinds the input and processes the preview currently stored
// in the new input stage, if any.
func (n *Node) SetInput(id pipeline.StageID) error {
	if n.kind.role == roleSource {
		return ErrNoInput
	}

	n.work.Lock()
	defer n.work.Unlock()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNodeClosed
	}
	n.input = id
	n.mu.Unlock()

	n.last = nil
	if !id.Valid() {
		return nil
	}
	return n.processLocked(n.env.Registry.Preview(id), pipeline.TierPreview)
}

// Config returns a copy of the node settings.
func (n *Node) Config() Config {
	n.work.Lock()
	defer n.work.Unlock()
	return n.proc.Config().Clone()
}

// SetConfig applies settings and reprocesses the last preview input.
func (n *Node) SetConfig(cfg Config) error {
	n.work.Lock()
	defer n.work.Unlock()

	if n.IsClosed() {
		return ErrNodeClosed
	}
	if err := n.proc.SetConfig(cfg); err != nil {
		return err
	}
	if n.last != nil {
		return n.processLocked(n.last, pipeline.TierPreview)
	}
	return nil
}

// Open hands path to a source node.
func (n *Node) Open(path string) error {
	src, ok := n.proc.(Source)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSource, n.kind.name)
	}
	if n.IsClosed() {
		return ErrNodeClosed
	}
	return src.Open(path)
}

// Processor returns the kind-specific processor.
func (n *Node) Processor() Processor {
	return n.proc
}

// State returns the persisted form of the node.
func (n *Node) State() State {
	return State{
		Kind:   n.kind.name,
		Label:  n.Label(),
		Input:  n.Input(),
		Output: n.output,
		Config: n.Config(),
	}
}

// IsClosed reports whether Close has been called.
func (n *Node) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close unsubscribes the node, stops its processor and removes its output
// stage. Main-thread deliveries still queued for the node are discarded.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.sub.Close()
	err := n.stopProcessor(ctx)
	if n.output.Valid() {
		n.env.Registry.Remove(n.output)
	}
	n.log.Debug("stage node closed")
	return err
}

func (n *Node) stopProcessor(ctx context.Context) error {
	if s, ok := n.proc.(stopper); ok {
		return s.stop(ctx)
	}
	return nil
}
