package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/pipeline"
	"github.com/dshills/negstation/internal/stage"
)

// ErrConversion is returned by Develop when the input cannot be decoded.
var ErrConversion = errors.New("conversion failed")

// Develop runs one file through the session without the run loop: it
// opens input on the source, waits for the preview, triggers the
// full-resolution run and waits for the first export. The calling
// goroutine drains main-thread deliveries while it waits, so Develop must
// not be used while Run is active.
func (app *Application) Develop(ctx context.Context, input string) (stage.Exported, error) {
	if app.running.Load() {
		return stage.Exported{}, ErrAlreadyRunning
	}
	src, err := app.Source()
	if err != nil {
		return stage.Exported{}, err
	}
	if !app.hasExport() {
		return stage.Exported{}, ErrNoExport
	}

	sub := app.bus.NewSubscriber()
	defer sub.Close()

	previewed := make(chan struct{}, 1)
	failed := make(chan converter.Failure, 1)
	exported := make(chan stage.Exported, 1)

	output := src.Output()
	if _, err := event.Subscribe(sub, pipeline.TopicPreview, func(context.Context, pipeline.StageData) error {
		notify(previewed, struct{}{})
		return nil
	}, event.WithFilter(func(env event.Envelope) bool {
		d, ok := env.Payload.(pipeline.StageData)
		return ok && d.ID == output
	})); err != nil {
		return stage.Exported{}, err
	}
	if _, err := event.Subscribe(sub, converter.TopicFailed, func(_ context.Context, f converter.Failure) error {
		notify(failed, f)
		return nil
	}, event.WithFilter(func(env event.Envelope) bool {
		f, ok := env.Payload.(converter.Failure)
		return ok && f.Source == input
	})); err != nil {
		return stage.Exported{}, err
	}
	if _, err := event.Subscribe(sub, stage.TopicExported, func(_ context.Context, e stage.Exported) error {
		notify(exported, e)
		return nil
	}); err != nil {
		return stage.Exported{}, err
	}

	log := app.log.WithField("input", input)
	start := time.Now()
	if err := src.Open(input); err != nil {
		return stage.Exported{}, err
	}

	ticker := time.NewTicker(app.drainInterval())
	defer ticker.Stop()

	// Wait for the preview, then render at full resolution.
	for waiting := true; waiting; {
		select {
		case <-ctx.Done():
			return stage.Exported{}, ctx.Err()
		case f := <-failed:
			return stage.Exported{}, fmt.Errorf("%w: %s: %s", ErrConversion, f.Source, f.Err)
		case <-previewed:
			waiting = false
		case <-ticker.C:
			app.Tick()
		}
	}
	app.Tick()
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Debug("preview ready")
	app.RunFullResolution()

	for {
		select {
		case <-ctx.Done():
			return stage.Exported{}, ctx.Err()
		case e := <-exported:
			log.WithFields(logrus.Fields{
				"output":  e.Path,
				"elapsed": time.Since(start).Round(time.Millisecond),
			}).Info("developed")
			if e.Err != "" {
				return e, fmt.Errorf("export %s: %s", e.Path, e.Err)
			}
			return e, nil
		case <-ticker.C:
			app.Tick()
		}
	}
}

func (app *Application) hasExport() bool {
	for _, n := range app.Nodes() {
		if n.Kind() == "export" && !n.IsClosed() {
			return true
		}
	}
	return false
}

func (app *Application) drainInterval() time.Duration {
	if d := app.Config().Bus.DrainInterval.Std(); d > 0 {
		return d
	}
	return defaultDrainInterval
}

// notify sends v without blocking the dispatch goroutine.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
