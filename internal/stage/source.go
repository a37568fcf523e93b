package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/negstation/internal/converter"
)

// DefaultPreviewSize is used when Env.PreviewSize is not set.
const DefaultPreviewSize = 1024

// OpenSource decodes files on its own background converter. The decoded
// artifact is stored in the full-resolution tier of the node's output
// stage without being announced, and a downscaled copy is published as
// the preview. The node republishes the stored full artifact when the
// full-resolution run is triggered.
type OpenSource struct {
	conv *converter.Converter

	mu   sync.Mutex
	path string
}

func newOpenSource(n *Node) (Processor, error) {
	if n.env.Decoder == nil {
		return nil, fmt.Errorf("%w: open stage needs a decoder", ErrInvalidEnv)
	}
	size := n.env.PreviewSize
	if size <= 0 {
		size = DefaultPreviewSize
	}

	sink := converter.StageSink{
		Registry:    n.env.Registry,
		Stage:       n.output,
		PreviewSize: size,
	}
	opts := []converter.Option{
		converter.WithName(fmt.Sprintf("open-%s", n.output)),
		converter.WithLogger(n.env.logger()),
		converter.WithPublisher(n.env.Bus),
		converter.WithDecodeTimeout(n.env.DecodeTimeout),
	}
	if n.env.ConverterObserver != nil {
		opts = append(opts, converter.WithObserver(n.env.ConverterObserver))
	}

	return &OpenSource{
		conv: converter.New(n.env.Decoder, n.env.Settings, sink, opts...),
	}, nil
}

// Open queues path for decoding.
func (s *OpenSource) Open(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()

	if !s.conv.Enqueue(path) {
		return converter.ErrNotRunning
	}
	return nil
}

// Path returns the last opened path.
func (s *OpenSource) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Converter returns the converter owned by the source.
func (s *OpenSource) Converter() *converter.Converter {
	return s.conv
}

// Config implements Processor.
func (s *OpenSource) Config() Config {
	return Config{"path": s.Path()}
}

// SetConfig implements Processor. A new non-empty path is opened.
func (s *OpenSource) SetConfig(cfg Config) error {
	current := s.Path()
	next := struct {
		Path string `config:"path"`
	}{current}
	if err := cfg.Decode(&next); err != nil {
		return err
	}
	if next.Path == "" || next.Path == current {
		return nil
	}
	return s.Open(next.Path)
}

func (s *OpenSource) start() error {
	return s.conv.Start()
}

func (s *OpenSource) stop(ctx context.Context) error {
	err := s.conv.Stop(ctx)
	if errors.Is(err, converter.ErrNotRunning) {
		return nil
	}
	return err
}
