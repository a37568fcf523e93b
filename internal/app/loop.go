package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultDrainInterval is used when the configured interval is not positive.
const defaultDrainInterval = 16 * time.Millisecond

// Run starts the optional services and drains main-thread deliveries on
// the calling goroutine until ctx is done or Stop is called. The caller
// owns the main thread for the duration of Run and must call Shutdown
// afterwards.
func (app *Application) Run(ctx context.Context) error {
	if app.stopped.Load() {
		return ErrNotRunning
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(app.loopDone)
	defer app.running.Store(false)

	if err := app.startServer(); err != nil {
		return err
	}
	if err := app.startInbox(); err != nil {
		return err
	}

	interval := app.drainInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.ready.Store(true)
	app.log.WithField("interval", interval).Info("main loop started")

	for {
		select {
		case <-ctx.Done():
			app.Tick()
			app.log.Info("main loop stopped")
			return nil
		case <-app.done:
			app.Tick()
			app.log.Info("main loop stopped")
			return nil
		case <-ticker.C:
			app.Tick()
		}
	}
}

// Stop asks Run to return. It is safe to call more than once.
func (app *Application) Stop() {
	app.stopOnce.Do(func() { close(app.done) })
}

// Tick runs the pending main-thread deliveries once and returns how many
// handlers ran. It must only be called from the goroutine that owns the
// main thread.
func (app *Application) Tick() int {
	start := time.Now()
	n := app.bus.DrainMain()
	elapsed := time.Since(start)

	app.loop.Record(elapsed, n)
	app.metrics.LoopTick(elapsed)
	return n
}

// Shutdown stops every component in reverse dependency order. Nodes are
// closed after the inbox and server so no new work reaches them, and the
// bus is stopped last. Errors are collected rather than aborting the
// sequence.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.stopped.CompareAndSwap(false, true) {
		return ErrNotRunning
	}
	app.ready.Store(false)
	app.Stop()

	var errs ErrorList

	if app.running.Load() {
		select {
		case <-app.loopDone:
		case <-ctx.Done():
			errs.Add(ErrShutdownTimeout)
		}
	}

	if app.server != nil {
		if err := app.server.shutdown(ctx); err != nil {
			errs.Add(NewComponentError("http", "shutdown", err))
		}
	}
	if app.inbox != nil {
		if err := app.inbox.Close(); err != nil {
			errs.Add(NewComponentError("inbox", "close", err))
		}
	}
	if app.reloader != nil {
		if err := app.reloader.Close(); err != nil {
			errs.Add(NewComponentError("config reloader", "close", err))
		}
	}

	if l := app.Config().Layout; l.SaveOnExit && l.Path != "" {
		if err := app.SaveLayout(l.Path); err != nil {
			errs.Add(err)
		}
	}

	if err := app.closeNodes(ctx); err != nil {
		errs.Add(err)
	}
	app.subs.cleanup()

	if err := app.bus.Stop(ctx); err != nil {
		errs.Add(NewComponentError("event bus", "stop", err))
	}

	snap := app.loop.Snapshot()
	app.log.WithFields(logrus.Fields{
		"uptime":    snap.Uptime.Round(time.Millisecond),
		"ticks":     snap.Ticks,
		"delivered": snap.Delivered,
		"errors":    errs.Len(),
	}).Info("application shut down")

	return errs.AsError()
}
