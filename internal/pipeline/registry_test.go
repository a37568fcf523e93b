package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
)

func solid(v float32) *artifact.Artifact {
	return artifact.MustBuild(4, 4, 3, func(pix []float32) {
		for i := range pix {
			pix[i] = v
		}
	})
}

func lastStructure(t *testing.T, pub *event.MemoryPublisher) Structure {
	t.Helper()
	evts := pub.OnTopic(TopicStructure.Topic())
	require.NotEmpty(t, evts)
	s, ok := evts[len(evts)-1].Payload.(Structure)
	require.True(t, ok)
	return s
}

func TestRegistry_RegisterAnnouncesStructure(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)

	a := r.Register("open")
	b := r.Register("invert")

	assert.Equal(t, StageID(0), a)
	assert.Equal(t, StageID(1), b)
	assert.Len(t, pub.OnTopic(TopicStructure.Topic()), 2)
	assert.Equal(t, Structure{{ID: 0, Label: "open"}, {ID: 1, Label: "invert"}}, lastStructure(t, pub))
	assert.Equal(t, map[StageID]string{0: "open", 1: "invert"}, lastStructure(t, pub).Labels())
}

func TestRegistry_IDsNeverReused(t *testing.T) {
	r := NewRegistry(event.NewMemoryPublisher())

	prev := NoStage
	for i := 0; i < 10; i++ {
		id := r.Register("s")
		assert.Greater(t, id, prev)
		prev = id
		if i%2 == 0 {
			r.Remove(id)
		}
	}
	id := r.Register("after")
	assert.Equal(t, StageID(10), id)
	assert.Equal(t, 6, r.Len())
}

func TestRegistry_RenameRoundTrip(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)

	id := r.Register("x")
	r.Rename(id, "y")
	label, ok := r.Label(id)
	require.True(t, ok)
	assert.Equal(t, "y", label)
	assert.Equal(t, "y", lastStructure(t, pub)[0].Label)

	r.Remove(id)
	_, ok = r.Label(id)
	assert.False(t, ok)
	assert.Nil(t, r.Preview(id))
	assert.Nil(t, r.FullResolution(id))
	assert.Empty(t, lastStructure(t, pub))
}

func TestRegistry_UnknownIDs(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)

	r.Rename(42, "nope")
	r.Remove(42)
	r.Publish(42, solid(1), TierPreview)

	_, ok := r.Label(42)
	assert.False(t, ok)
	assert.Nil(t, r.Preview(42))
	assert.Nil(t, r.FullResolution(42))
	assert.Empty(t, pub.Events())
}

func TestRegistry_PublishNilIsNoop(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)
	id := r.Register("s")
	first := solid(0.5)
	r.Publish(id, first, TierPreview)
	pub.Reset()

	r.Publish(id, nil, TierPreview)
	r.Publish(id, nil, TierFull)

	assert.Same(t, first, r.Preview(id))
	assert.Nil(t, r.FullResolution(id))
	assert.Empty(t, pub.Events())
}

func TestRegistry_TiersAreIndependent(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)
	for i := 0; i < 4; i++ {
		r.Register("s")
	}

	full := solid(1)
	r.Publish(3, full, TierFull)
	preview := solid(0.25)
	r.Publish(3, preview, TierPreview)

	assert.Same(t, full, r.FullResolution(3))
	assert.Same(t, preview, r.Preview(3))
	assert.Same(t, full, r.Artifact(3, TierFull))
	assert.Same(t, preview, r.Artifact(3, TierPreview))

	fullEvts := pub.OnTopic(TopicFull.Topic())
	require.Len(t, fullEvts, 1)
	assert.Equal(t, StageData{ID: 3, Artifact: full}, fullEvts[0].Payload)

	previewEvts := pub.OnTopic(TopicPreview.Topic())
	require.Len(t, previewEvts, 1)
	assert.Equal(t, StageData{ID: 3, Artifact: preview}, previewEvts[0].Payload)
}

func TestRegistry_OverwriteKeepsHandedOutArtifact(t *testing.T) {
	r := NewRegistry(event.NewMemoryPublisher())
	id := r.Register("s")

	first := solid(0.1)
	r.Publish(id, first, TierPreview)
	held := r.Preview(id)
	r.Publish(id, solid(0.9), TierPreview)
	r.Remove(id)

	assert.Equal(t, float32(0.1), held.At(0, 0, 0))
}

func TestRegistry_RepublishAndRunFull(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)
	r.Register("a")
	pub.Reset()

	r.RepublishStructure()
	r.RunFullResolution()

	evts := pub.Events()
	require.Len(t, evts, 2)
	assert.Equal(t, TopicStructure.Topic(), evts[0].Topic)
	assert.Equal(t, Structure{{ID: 0, Label: "a"}}, evts[0].Payload)
	assert.Equal(t, TopicRunFull.Topic(), evts[1].Topic)
	assert.Equal(t, RunFull{}, evts[1].Payload)
}

func TestRegistry_Restore(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)

	err := r.Restore([]StageInfo{{ID: 2, Label: "invert"}, {ID: 0, Label: "open"}, {ID: 5, Label: "crop"}})
	require.NoError(t, err)
	assert.Equal(t, Structure{{0, "open"}, {2, "invert"}, {5, "crop"}}, r.Stages())
	assert.Equal(t, StageID(6), r.Register("next"))
	assert.Len(t, pub.OnTopic(TopicStructure.Topic()), 2)

	assert.ErrorIs(t, r.Restore(nil), ErrRegistryInUse)

	used := NewRegistry(pub)
	used.Remove(used.Register("x"))
	assert.ErrorIs(t, used.Restore([]StageInfo{{ID: 0, Label: "x"}}), ErrRegistryInUse)
}

func TestRegistry_AbandonRestore(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)

	assert.False(t, r.AbandonRestore(), "nothing restored yet")

	require.NoError(t, r.Restore([]StageInfo{{ID: 4, Label: "crop"}}))
	assert.True(t, r.AbandonRestore())
	assert.Zero(t, r.Len())
	assert.False(t, r.AbandonRestore())

	require.NoError(t, r.Restore([]StageInfo{{ID: 1, Label: "open"}}))
	assert.Equal(t, Structure{{1, "open"}}, r.Stages())
	assert.Equal(t, StageID(2), r.Register("next"))

	// Ids handed out by Register pin the restore.
	assert.False(t, r.AbandonRestore())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentPublish(t *testing.T) {
	pub := event.NewMemoryPublisher()
	r := NewRegistry(pub)
	const stages = 4
	for i := 0; i < stages; i++ {
		r.Register("s")
	}
	pub.Reset()

	arts := make([]*artifact.Artifact, 100)
	for i := range arts {
		arts[i] = solid(float32(i) / 100)
	}

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w * 10; i < (w+1)*10; i++ {
				r.Publish(StageID(i%stages), arts[i], TierPreview)
			}
		}(w)
	}
	wg.Wait()

	evts := pub.OnTopic(TopicPreview.Topic())
	require.Len(t, evts, 100)
	seen := make(map[*artifact.Artifact]bool)
	for _, e := range evts {
		d := e.Payload.(StageData)
		require.False(t, seen[d.Artifact], "duplicate event")
		seen[d.Artifact] = true
		idx := int(d.Artifact.At(0, 0, 0)*100 + 0.5)
		assert.Equal(t, StageID(idx%stages), d.ID)
	}
}

func TestRegistry_WithBus(t *testing.T) {
	bus := event.NewBus()
	require.NoError(t, bus.Start())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	defer bus.Stop(ctx)

	r := NewRegistry(bus)
	got := make(chan StageData, 1)
	_, err := event.Subscribe(bus, TopicPreview, func(_ context.Context, d StageData) error {
		got <- d
		return nil
	}, event.WithDeliveryMode(event.DeliveryBackground))
	require.NoError(t, err)

	id := r.Register("open")
	a := solid(0.5)
	r.Publish(id, a, TierPreview)

	select {
	case d := <-got:
		assert.Equal(t, id, d.ID)
		assert.Same(t, a, d.Artifact)
	case <-time.After(2 * time.Second):
		t.Fatal("no stage-data event")
	}
}
