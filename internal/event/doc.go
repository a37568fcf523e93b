// Package event provides the publish/subscribe bus that connects the stage
// registry, the background converter and the stage consumers.
//
// # Delivery
//
// Publish never blocks: the envelope is appended to an unbounded queue and
// returns immediately, from any goroutine, including from inside a handler.
// A single dispatch goroutine pops envelopes one at a time and looks up the
// subscriptions that are active at that moment, in registration order.
//
// Each subscription chooses a delivery mode:
//
//   - DeliveryBackground: the handler runs inline on the dispatch goroutine.
//   - DeliveryMain: the envelope is queued for the host's main loop and the
//     handler runs when the host calls DrainMain.
//
// DrainMain runs exactly the items that were queued when it was called, in
// FIFO order, on the calling goroutine. Items queued while it runs wait for
// the next call.
//
// Because there is one queue and one dispatch goroutine, two events published
// by the same goroutine reach every subscriber in publish order.
//
// # Failure Isolation
//
// A handler that returns an error or panics is logged with its topic and
// subscription id and counted in Stats. Delivery continues with the next
// subscriber and the next event.
//
// # Typed Topics
//
// Key binds a topic to its payload type so publishers and subscribers agree
// at compile time:
//
//	var TopicStageData = event.NewKey[StageData]("stage-data")
//
//	event.Publish(bus, TopicStageData, StageData{ID: 3, Artifact: a})
//
//	event.Subscribe(sub, TopicStageData, func(ctx context.Context, d StageData) error {
//	    return nil
//	}, event.WithDeliveryMode(event.DeliveryMain))
//
// # Ownership
//
// Every subscription may carry an Owner token. UnsubscribeAll(owner) cancels
// all of them at once; a Subscriber wraps the bus with a fresh owner and
// does the same on Close. A cancelled subscription is never invoked again,
// even if one of its items is already waiting on the main queue.
package event
