package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/stage"
)

// subscriptionManager owns the application's own bus subscriptions. They
// report pipeline activity in the log and are cancelled together on
// shutdown.
type subscriptionManager struct {
	sub *event.Subscriber
	log logrus.FieldLogger
}

// newSubscriptionManager creates a new subscription manager.
func newSubscriptionManager(app *Application) *subscriptionManager {
	return &subscriptionManager{
		sub: app.bus.NewSubscriber(),
		log: app.logger.WithField("component", "pipeline"),
	}
}

// setupSubscriptions registers all event subscriptions.
func (sm *subscriptionManager) setupSubscriptions() error {
	if _, err := event.Subscribe(sm.sub, converter.TopicFailed, sm.handleConversionFailed); err != nil {
		return err
	}
	if _, err := event.Subscribe(sm.sub, converter.TopicStarted, sm.handleConversionStarted); err != nil {
		return err
	}
	if _, err := event.Subscribe(sm.sub, stage.TopicExported, sm.handleExported); err != nil {
		return err
	}
	return nil
}

// cleanup cancels every subscription.
func (sm *subscriptionManager) cleanup() {
	sm.sub.Close()
}

func (sm *subscriptionManager) handleConversionStarted(_ context.Context, s converter.Started) error {
	sm.log.WithFields(logrus.Fields{
		"converter": s.Converter,
		"source":    s.Source,
	}).Debug("conversion started")
	return nil
}

func (sm *subscriptionManager) handleConversionFailed(_ context.Context, f converter.Failure) error {
	sm.log.WithFields(logrus.Fields{
		"converter": f.Converter,
		"source":    f.Source,
		"error":     f.Err,
	}).Warn("conversion failed")
	return nil
}

func (sm *subscriptionManager) handleExported(_ context.Context, e stage.Exported) error {
	entry := sm.log.WithFields(logrus.Fields{
		"path":   e.Path,
		"width":  e.Width,
		"height": e.Height,
	})
	if e.Err != "" {
		entry.WithField("error", e.Err).Warn("export failed")
		return nil
	}
	entry.Info("exported")
	return nil
}
