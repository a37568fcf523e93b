package event

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BusOption configures an event Bus.
type BusOption func(*busConfig)

// busConfig contains configuration for the event bus.
type busConfig struct {
	// logger receives handler failures and dropped events.
	logger logrus.FieldLogger

	// observer is notified of publishes and handler completions.
	observer Observer

	// source is stamped on envelopes published without one.
	source string
}

// defaultBusConfig returns sensible default configuration.
func defaultBusConfig() busConfig {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return busConfig{
		logger: l,
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l logrus.FieldLogger) BusOption {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets an observer for bus activity.
func WithObserver(o Observer) BusOption {
	return func(c *busConfig) {
		c.observer = o
	}
}

// WithSource sets the default Metadata.Source of published envelopes.
func WithSource(source string) BusOption {
	return func(c *busConfig) {
		c.source = source
	}
}
