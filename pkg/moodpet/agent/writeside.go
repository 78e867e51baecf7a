package agent

import (
	"context"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
)

// WriteSide delivers every record-mutating request for a user through a
// single ordered subscription. CheckinWriter and Deleter touch the same
// rows; on separate subscriptions each drains its partition queues
// independently, so a save enqueued before a delete could still be applied
// after delete.done was published, resurrecting an erased user. Sharing one
// subscription makes publish order the apply order.
type WriteSide struct {
	save  event.Handler
	erase event.Handler
}

// NewWriteSide combines the check-in writer and the deleter into one
// consumer.
func NewWriteSide(w *CheckinWriter, d *Deleter) *WriteSide {
	return &WriteSide{
		save:  event.TypedHandler([]string{event.TopicCheckinSave}, w.handle),
		erase: event.TypedHandler([]string{event.TopicDeleteRequest}, d.handle),
	}
}

// Register subscribes the write side to save and delete requests.
func (ws *WriteSide) Register(bus event.Bus) event.Subscription {
	return bus.Subscribe(
		[]string{event.TopicCheckinSave, event.TopicDeleteRequest},
		event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
			if evt.Type() == event.TopicDeleteRequest {
				return ws.erase.Handle(ctx, evt)
			}
			return ws.save.Handle(ctx, evt)
		}),
		event.WithSubscriberName("write_side"),
	)
}
