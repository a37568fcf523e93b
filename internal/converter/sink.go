package converter

import (
	"context"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/pipeline"
)

// Sink receives the artifacts produced by a Converter.
type Sink interface {
	Deliver(ctx context.Context, r Result) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, r Result) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, r Result) error {
	return f(ctx, r)
}

// BusSink publishes every result on converter-finished.
type BusSink struct {
	Bus event.Publisher
}

// Deliver implements Sink.
func (s BusSink) Deliver(_ context.Context, r Result) error {
	event.Publish(s.Bus, TopicFinished, r)
	return nil
}

// StageSink writes results into one registry stage. The full artifact
// goes into the full-resolution tier and a downscaled copy into the
// preview tier.
type StageSink struct {
	Registry *pipeline.Registry
	Stage    pipeline.StageID

	// PreviewSize is the longest side of the preview tier.
	PreviewSize int

	// AnnounceFull publishes the full tier immediately. When false the full
	// artifact is stored silently and travels down the chain only when the
	// stage republishes it on run-full-resolution.
	AnnounceFull bool
}

// Deliver implements Sink.
func (s StageSink) Deliver(_ context.Context, r Result) error {
	if s.AnnounceFull {
		s.Registry.Publish(s.Stage, r.Artifact, pipeline.TierFull)
	} else {
		s.Registry.Store(s.Stage, r.Artifact, pipeline.TierFull)
	}
	s.Registry.Publish(s.Stage, artifact.Preview(r.Artifact, s.PreviewSize), pipeline.TierPreview)
	return nil
}
