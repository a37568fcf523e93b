// Package app wires negstation together: the event bus, the stage
// registry, stage nodes with their converters, the config reloader, the
// capture inbox and the inspection server. It owns the main loop that
// drains main-thread deliveries.
package app

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/config"
	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/metrics"
	"github.com/dshills/negstation/internal/pipeline"
	"github.com/dshills/negstation/internal/stage"
	"github.com/dshills/negstation/internal/watch"
)

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. When set, it is watched and
	// reloaded on change.
	ConfigPath string

	// Logger overrides the logger built from the configuration.
	Logger *logrus.Logger

	// Decoder overrides the default decoder set.
	Decoder converter.Decoder

	// Metrics overrides the collectors. A fresh set is created when nil.
	Metrics *metrics.Metrics
}

// Application is the central coordinator for all negstation components.
type Application struct {
	mu  sync.RWMutex
	cfg *config.Config

	opts   Options
	logger *logrus.Logger
	log    logrus.FieldLogger

	// Core infrastructure
	bus      *event.Bus
	registry *pipeline.Registry
	settings *converter.SettingsStore
	decoder  converter.Decoder
	metrics  *metrics.Metrics
	subs     *subscriptionManager

	// Optional components
	reloader *config.Reloader
	inbox    *watch.Watcher
	server   *httpServer

	nodesMu sync.Mutex
	nodes   []*stage.Node

	loop     *LoopStats
	running  atomic.Bool
	ready    atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	loopDone chan struct{}
}

// New creates an application from cfg. cfg must be valid.
func New(cfg *config.Config, opts Options) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		opts:     opts,
		loop:     NewLoopStats(),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Config returns the configuration in effect.
func (app *Application) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cfg
}

// Logger returns the application logger.
func (app *Application) Logger() *logrus.Logger {
	return app.logger
}

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus {
	return app.bus
}

// Registry returns the stage registry.
func (app *Application) Registry() *pipeline.Registry {
	return app.registry
}

// Settings returns the shared converter settings.
func (app *Application) Settings() *converter.SettingsStore {
	return app.settings
}

// Metrics returns the Prometheus collectors.
func (app *Application) Metrics() *metrics.Metrics {
	return app.metrics
}

// LoopStats returns the main loop timing.
func (app *Application) LoopStats() LoopSnapshot {
	return app.loop.Snapshot()
}

// IsRunning returns true if the main loop is running.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Env returns the environment for new stage nodes.
func (app *Application) Env() stage.Env {
	cfg := app.Config()
	return stage.Env{
		Bus:               app.bus,
		Registry:          app.registry,
		Decoder:           app.decoder,
		Settings:          app.settings,
		PreviewSize:       cfg.Preview.Size,
		DecodeTimeout:     cfg.Converter.DecodeTimeout.Std(),
		Logger:            app.log,
		ConverterObserver: app.metrics,
	}
}

// applyConfig is the reload callback.
func (app *Application) applyConfig(cfg *config.Config, changed []string) {
	app.mu.Lock()
	app.cfg = cfg
	app.mu.Unlock()

	for _, section := range changed {
		switch section {
		case "converter":
			app.settings.Store(cfg.Converter.Settings)
			app.log.Info("converter settings updated")
		case "log":
			app.logger.SetLevel(cfg.LogLevel())
		case "preview":
			app.log.WithField("size", cfg.Preview.Size).Info("preview size applies to stages created from now on")
		}
	}
}
