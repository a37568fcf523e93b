package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/pipeline"
)

func newEnv(t *testing.T) Env {
	t.Helper()

	bus := event.NewBus()
	require.NoError(t, bus.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})

	return Env{
		Bus:         bus,
		Registry:    pipeline.NewRegistry(bus),
		PreviewSize: 4,
	}
}

func newNode(t *testing.T, kind string, env Env, opts ...Option) *Node {
	t.Helper()

	n, err := New(kind, env, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	return n
}

// barrier returns once every event published before it was dispatched.
func barrier(t *testing.T, bus *event.Bus) {
	t.Helper()

	done := make(chan struct{})
	_, err := bus.SubscribeFunc("test-barrier", func(context.Context, event.Envelope) error {
		close(done)
		return nil
	}, event.WithOnce())
	require.NoError(t, err)
	bus.Publish("test-barrier", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not reach the barrier")
	}
}

// settle runs main-thread deliveries until nothing more is produced.
func settle(t *testing.T, bus *event.Bus) {
	t.Helper()

	for i := 0; i < 100; i++ {
		barrier(t, bus)
		if bus.DrainMain() == 0 {
			return
		}
	}
	t.Fatal("bus did not settle")
}

// solid builds a w×h artifact with every pixel set to px.
func solid(w, h int, px ...float32) *artifact.Artifact {
	c := len(px)
	return artifact.MustBuild(w, h, c, func(pix []float32) {
		for i := 0; i < len(pix); i += c {
			copy(pix[i:i+c], px)
		}
	})
}

// indexed builds a w×h gray artifact whose pixel (x, y) is (y*w+x)/100.
func indexed(w, h int) *artifact.Artifact {
	return artifact.MustBuild(w, h, 1, func(pix []float32) {
		for i := range pix {
			pix[i] = float32(i) / 100
		}
	})
}

func artifactFrom(t *testing.T, w, h int, samples []float32) *artifact.Artifact {
	t.Helper()

	c := len(samples) / (w * h)
	a, err := artifact.Build(w, h, c, func(pix []float32) {
		copy(pix, samples)
	})
	require.NoError(t, err)
	return a
}
