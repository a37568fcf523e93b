package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/config"
	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/logging"
	"github.com/dshills/negstation/internal/pipeline"
	"github.com/dshills/negstation/internal/stage"
)

func testDecoder() converter.DecoderFunc {
	return func(_ context.Context, path string, _ converter.Settings) (*artifact.Artifact, error) {
		if filepath.Base(path) == "bad.tif" {
			return nil, errors.New("corrupt file")
		}
		return artifact.MustBuild(8, 4, 3, func(pix []float32) {
			for i := range pix {
				pix[i] = 0.25
			}
		}), nil
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Bus.DrainInterval = config.Duration(2 * time.Millisecond)
	cfg.Preview.Size = 4
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Inbox.Debounce = config.Duration(20 * time.Millisecond)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()

	app, err := New(cfg, Options{
		Logger:  logging.Discard(),
		Decoder: testDecoder(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

// runApp runs the main loop in the background until the test ends.
func runApp(t *testing.T, app *Application) {
	t.Helper()

	errc := make(chan error, 1)
	go func() { errc <- app.Run(context.Background()) }()
	require.Eventually(t, app.Ready, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		app.Stop()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after Stop")
		}
	})
}

func TestShutdown_Twice(t *testing.T) {
	app, err := New(testConfig(), Options{Logger: logging.Discard(), Decoder: testDecoder()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Shutdown(ctx))
	assert.ErrorIs(t, app.Shutdown(ctx), ErrNotRunning)
	assert.ErrorIs(t, app.Run(ctx), ErrNotRunning)
}

func TestNew_InvalidConverterSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Converter.Settings.OutputBPS = 12

	_, err := New(cfg, Options{Logger: logging.Discard()})
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "converter", initErr.Component)
}

func TestBuildChain(t *testing.T) {
	app := newTestApp(t, testConfig())

	nodes, err := app.BuildChain(context.Background(), Chain{
		Filters:    []string{"invert", "monochrome"},
		ExportPath: filepath.Join(t.TempDir(), "out.png"),
		Histogram:  true,
	})
	require.NoError(t, err)

	kinds := make([]string, len(nodes))
	for i, n := range nodes {
		kinds[i] = n.Kind()
	}
	assert.Equal(t, []string{"open", "invert", "monochrome", "histogram", "export"}, kinds)
	assert.Equal(t, nodes[0].Output(), nodes[1].Input())
	assert.Equal(t, nodes[2].Output(), nodes[4].Input())
	assert.Equal(t, nodes[2].Output(), nodes[3].Input())
	assert.Len(t, app.Nodes(), 5)
}

func TestBuildChain_RejectsNonFilter(t *testing.T) {
	app := newTestApp(t, testConfig())

	_, err := app.BuildChain(context.Background(), Chain{Filters: []string{"invert", "export"}})
	assert.ErrorIs(t, err, stage.ErrUnknownKind)
	var compErr *ComponentError
	assert.False(t, errors.As(err, &compErr), "clean rollback adds no close errors: %v", err)
	assert.Empty(t, app.Nodes())
	assert.Equal(t, 0, app.Registry().Len())
}

func TestRemoveNodes_ReportsCloseErrors(t *testing.T) {
	started := make(chan struct{}, 1)
	app, err := New(testConfig(), Options{
		Logger: logging.Discard(),
		Decoder: converter.DecoderFunc(func(ctx context.Context, _ string, _ converter.Settings) (*artifact.Artifact, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})

	src, err := app.EnsureSource()
	require.NoError(t, err)
	inv, err := app.AddNode("invert", stage.WithInput(src.Output()))
	require.NoError(t, err)
	require.NoError(t, app.Open("scan.tif"))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("decode did not start")
	}

	// The source cannot stop while its decode is in flight.
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	err = app.removeNodes(expired, []*stage.Node{src, inv})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var compErr *ComponentError
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, "stage open", compErr.Component)
	assert.Empty(t, app.Nodes())
	assert.True(t, inv.IsClosed())
}

func TestDevelop(t *testing.T) {
	app := newTestApp(t, testConfig())
	out := filepath.Join(t.TempDir(), "print.png")

	_, err := app.BuildChain(context.Background(), Chain{
		Filters:    []string{"invert"},
		ExportPath: out,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, err := app.Develop(ctx, "scan.tif")
	require.NoError(t, err)
	assert.Equal(t, out, e.Path)
	assert.Equal(t, 8, e.Width)
	assert.Equal(t, 4, e.Height)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	assert.NotZero(t, app.LoopStats().Ticks)
}

func TestDevelop_ConversionFailure(t *testing.T) {
	app := newTestApp(t, testConfig())
	_, err := app.BuildChain(context.Background(), Chain{
		ExportPath: filepath.Join(t.TempDir(), "print.png"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = app.Develop(ctx, "bad.tif")
	assert.ErrorIs(t, err, ErrConversion)
}

func TestDevelop_Preconditions(t *testing.T) {
	ctx := context.Background()

	app := newTestApp(t, testConfig())
	_, err := app.Develop(ctx, "scan.tif")
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = app.BuildChain(ctx, Chain{Filters: []string{"invert"}})
	require.NoError(t, err)
	_, err = app.Develop(ctx, "scan.tif")
	assert.ErrorIs(t, err, ErrNoExport)
}

func TestLayout_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")

	first := newTestApp(t, testConfig())
	_, err := first.BuildChain(context.Background(), Chain{
		Filters:    []string{"invert", "crop"},
		Configs:    map[int]stage.Config{1: {"x": 0.1, "y": 0.1, "width": 0.5, "height": 0.5}},
		ExportPath: filepath.Join(t.TempDir(), "out.jpg"),
	})
	require.NoError(t, err)
	require.NoError(t, first.SaveLayout(path))

	second := newTestApp(t, testConfig())
	require.NoError(t, second.LoadLayout(context.Background(), path))

	assert.Equal(t, first.Stages(), second.Stages())
	require.Len(t, second.Nodes(), 4)
	for i, n := range second.Nodes() {
		want := first.Nodes()[i]
		assert.Equal(t, want.Kind(), n.Kind())
		assert.Equal(t, want.Input(), n.Input())
		assert.Equal(t, want.Output(), n.Output())
		assert.Equal(t, want.Config(), n.Config())
	}

	// A used registry cannot take a layout.
	assert.ErrorIs(t, second.LoadLayout(context.Background(), path), pipeline.ErrRegistryInUse)
}

func TestConvert_CreatesSource(t *testing.T) {
	app := newTestApp(t, testConfig())

	require.NoError(t, app.Convert("scan.tif"))
	src, err := app.Source()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if app.Artifact(src.Output(), pipeline.TierPreview) == nil {
			return false
		}
		for _, s := range app.Status().Converters {
			return s.Succeeded == 1
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	status := app.Status()
	assert.Equal(t, 1, status.Stages)
	assert.Len(t, status.Converters, 1)
}

func TestRun_ServesHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Enabled = true
	app := newTestApp(t, cfg)
	runApp(t, app)

	addr := app.HTTPAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.ErrorIs(t, app.Run(context.Background()), ErrAlreadyRunning)
}

func TestRun_InboxOpensCaptures(t *testing.T) {
	cfg := testConfig()
	cfg.Inbox.Dir = t.TempDir()
	cfg.Inbox.Extensions = []string{"tif"}
	app := newTestApp(t, cfg)
	runApp(t, app)

	src, err := app.Source()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Inbox.Dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Inbox.Dir, "roll1.tif"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		return app.Artifact(src.Output(), pipeline.TierPreview) != nil
	}, 3*time.Second, 10*time.Millisecond)

	open := src.Processor().(*stage.OpenSource)
	assert.Equal(t, filepath.Join(cfg.Inbox.Dir, "roll1.tif"), open.Path())
}

func TestLoopStats(t *testing.T) {
	s := NewLoopStats()
	s.Record(2*time.Millisecond, 0)
	s.Record(4*time.Millisecond, 3)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Ticks)
	assert.Equal(t, uint64(1), snap.IdleTicks)
	assert.Equal(t, uint64(3), snap.Delivered)
	assert.Equal(t, 2*time.Millisecond, snap.MinDrain)
	assert.Equal(t, 4*time.Millisecond, snap.MaxDrain)
	assert.Equal(t, 3*time.Millisecond, snap.AvgDrain)
	assert.InDelta(t, 50.0, snap.IdleRate(), 0.001)
}

func TestErrorList(t *testing.T) {
	var errs ErrorList
	assert.NoError(t, errs.AsError())

	errs.Add(nil)
	errs.Add(NewComponentError("http", "shutdown", context.DeadlineExceeded))
	errs.Add(ErrShutdownTimeout)

	err := errs.AsError()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Contains(t, err.Error(), "2 errors")
}
