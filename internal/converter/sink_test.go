package converter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/pipeline"
)

func TestStageSink(t *testing.T) {
	pub := event.NewMemoryPublisher()
	reg := pipeline.NewRegistry(pub)
	id := reg.Register("opened_raw")
	pub.Reset()

	big := artifact.MustBuild(200, 100, 3, nil)
	sink := StageSink{Registry: reg, Stage: id, PreviewSize: 50}
	require.NoError(t, sink.Deliver(context.Background(), Result{Source: "a.cr2", Artifact: big}))

	assert.Same(t, big, reg.FullResolution(id))
	preview := reg.Preview(id)
	require.NotNil(t, preview)
	assert.Equal(t, 50, preview.Width())
	assert.Equal(t, 25, preview.Height())

	assert.Empty(t, pub.OnTopic(pipeline.TopicFull.Topic()), "full tier is held until run-full-resolution")
	assert.Len(t, pub.OnTopic(pipeline.TopicPreview.Topic()), 1)

	sink.AnnounceFull = true
	require.NoError(t, sink.Deliver(context.Background(), Result{Source: "b.cr2", Artifact: big}))
	assert.Len(t, pub.OnTopic(pipeline.TopicFull.Topic()), 1)
}

func TestBusSink(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := Result{Source: "a.png", Artifact: artifact.MustBuild(1, 1, 1, nil)}
	require.NoError(t, BusSink{Bus: pub}.Deliver(context.Background(), r))

	evts := pub.OnTopic(TopicFinished.Topic())
	require.Len(t, evts, 1)
	assert.Equal(t, r, evts[0].Payload)
}
