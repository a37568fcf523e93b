package app

import (
	"context"
	"time"

	"github.com/dshills/negstation/internal/config"
	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/logging"
	"github.com/dshills/negstation/internal/metrics"
	"github.com/dshills/negstation/internal/pipeline"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{
		app:       app,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"logger", b.initLogger},
		{"metrics", b.initMetrics},
		{"eventBus", b.initEventBus},
		{"registry", b.initRegistry},
		{"converter", b.initConverter},
		{"subscriptions", b.initSubscriptions},
		{"reloader", b.initReloader},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			return err
		}
		b.initOrder = append(b.initOrder, step.name)
	}

	b.app.log.WithField("components", b.initOrder).Debug("application bootstrapped")
	return nil
}

// initLogger builds the logger from the configuration unless one was given.
func (b *bootstrapper) initLogger() error {
	cfg := b.app.cfg
	if b.app.opts.Logger != nil {
		b.app.logger = b.app.opts.Logger
	} else {
		b.app.logger = logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Debug:  cfg.Log.Debug,
		})
	}
	b.app.log = b.app.logger.WithField("component", "app")
	return nil
}

func (b *bootstrapper) initMetrics() error {
	b.app.metrics = b.app.opts.Metrics
	if b.app.metrics == nil {
		b.app.metrics = metrics.New()
	}
	return nil
}

// initEventBus initializes the event bus and, when configured, forwards
// log entries onto it.
func (b *bootstrapper) initEventBus() error {
	cfg := b.app.cfg
	b.app.bus = event.NewBus(
		event.WithLogger(b.app.logger),
		event.WithObserver(b.app.metrics),
		event.WithSource(cfg.Bus.Source),
	)
	if err := b.app.bus.Start(); err != nil {
		return &InitError{Component: "event bus", Err: err}
	}
	b.app.metrics.WatchBus(b.app.bus)

	if cfg.Log.Forward {
		b.app.logger.AddHook(logging.NewBusHook(b.app.bus, b.app.logger.GetLevel()))
	}
	return nil
}

func (b *bootstrapper) initRegistry() error {
	b.app.registry = pipeline.NewRegistry(b.app.bus)
	b.app.metrics.WatchRegistry(b.app.registry)
	return nil
}

// initConverter prepares the shared settings and the decoders used by
// every open stage.
func (b *bootstrapper) initConverter() error {
	cfg := b.app.cfg
	if err := cfg.Converter.Settings.Validate(); err != nil {
		return &InitError{Component: "converter", Err: err}
	}
	b.app.settings = converter.NewSettingsStore(cfg.Converter.Settings)

	b.app.decoder = b.app.opts.Decoder
	if b.app.decoder == nil {
		b.app.decoder = converter.DefaultDecoders(cfg.Converter.RawBinary)
	}
	return nil
}

func (b *bootstrapper) initSubscriptions() error {
	b.app.subs = newSubscriptionManager(b.app)
	if err := b.app.subs.setupSubscriptions(); err != nil {
		return &InitError{Component: "subscriptions", Err: err}
	}
	return nil
}

// initReloader watches the config file when one was given.
func (b *bootstrapper) initReloader() error {
	path := b.app.opts.ConfigPath
	if path == "" {
		return nil
	}
	r, err := config.NewReloader(path, b.app.cfg, b.app.applyConfig,
		config.WithReloadLogger(b.app.logger),
		config.WithEnvPrefix(config.EnvPrefix),
	)
	if err != nil {
		return &InitError{Component: "config reloader", Err: err}
	}
	b.app.reloader = r
	return nil
}

// cleanup performs cleanup in reverse initialization order.
// Called when bootstrap fails partway through.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(ctx, b.initOrder[i])
	}
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(ctx context.Context, component string) {
	switch component {
	case "eventBus":
		if b.app.bus != nil {
			b.app.bus.Stop(ctx)
		}
	case "subscriptions":
		if b.app.subs != nil {
			b.app.subs.cleanup()
		}
	case "reloader":
		if b.app.reloader != nil {
			b.app.reloader.Close()
		}
	}
}
