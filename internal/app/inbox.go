package app

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/watch"
)

// startInbox watches the configured capture directory. Settled files are
// opened on the session's source, which is created if needed.
func (app *Application) startInbox() error {
	cfg := app.Config().Inbox
	if cfg.Dir == "" {
		return nil
	}
	if _, err := app.EnsureSource(); err != nil {
		return NewComponentError("inbox", "create source", err)
	}

	log := app.logger.WithField("component", "inbox")
	w, err := watch.New(app.handleCapture,
		watch.WithDebounce(cfg.Debounce.Std()),
		watch.WithIgnoreHidden(true),
		watch.WithFilter(func(ev watch.Event) bool {
			return app.Config().InboxAccepts(ev.Path)
		}),
		watch.WithLogger(log),
	)
	if err != nil {
		return NewComponentError("inbox", "create watcher", err)
	}
	if err := w.Watch(cfg.Dir); err != nil {
		w.Close()
		return NewComponentError("inbox", "watch", err)
	}

	app.inbox = w
	log.WithField("dir", cfg.Dir).Info("watching capture directory")
	return nil
}

// handleCapture opens a settled file from the inbox.
func (app *Application) handleCapture(ev watch.Event) {
	if ev.Op == watch.OpRemove || ev.Op == watch.OpRename {
		return
	}
	log := app.log.WithFields(logrus.Fields{"path": ev.Path, "op": ev.Op.String()})

	info, err := os.Stat(ev.Path)
	if err != nil || !info.Mode().IsRegular() {
		log.Debug("ignoring capture event")
		return
	}
	if err := app.Open(ev.Path); err != nil {
		log.WithError(err).Warn("cannot open capture")
		return
	}
	log.Info("capture queued")
}
