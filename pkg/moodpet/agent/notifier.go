package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
)

// Notifier turns completion events into user-facing messages. It is a pure
// presentation layer: no domain validation, no store access, and no request
// context - a completion arriving after a restart formats the same way.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register subscribes the notifier to every user-facing completion topic.
func (n *Notifier) Register(bus event.Bus) event.Subscription {
	return bus.Subscribe(
		[]string{
			event.TopicCheckinSaved,
			event.TopicCheckinRejected,
			event.TopicPetRendered,
			event.TopicPingRequest,
			event.TopicExportReady,
			event.TopicDeleteDone,
		},
		event.HandlerFunc(n.handle),
		event.WithSubscriberName("notifier"),
	)
}

// handle formats exactly one outbound message per consumed event.
func (n *Notifier) handle(_ context.Context, evt event.Event) ([]event.Event, error) {
	out, err := n.compose(evt)
	if err != nil {
		// Malformed payloads get the generic apology rather than silence
		if n.logger != nil {
			n.logger.Error("notifier could not compose message",
				slog.String("topic", evt.Type()),
				slog.String("error", err.Error()),
			)
		}
		out = event.OutboundMessage{
			PseudoID: evt.Key(),
			Text:     "Something went wrong on our side. Please try again.",
		}
	}

	return []event.Event{
		event.NewFromParent(evt, event.TopicOutbound, "notifier", out),
	}, nil
}

func (n *Notifier) compose(evt event.Event) (event.OutboundMessage, error) {
	switch evt.Type() {
	case event.TopicCheckinSaved:
		payload, err := decode[event.CheckinSaved](evt)
		if err != nil {
			return event.OutboundMessage{}, err
		}
		return event.OutboundMessage{
			PseudoID: payload.PseudoID,
			Text:     fmt.Sprintf("Noted your mood: %+d. Thanks for sharing!", payload.Mood),
		}, nil

	case event.TopicCheckinRejected:
		payload, err := decode[event.CheckinRejected](evt)
		if err != nil {
			return event.OutboundMessage{}, err
		}
		return event.OutboundMessage{
			PseudoID: payload.PseudoID,
			Text:     fmt.Sprintf("That check-in didn't work: %s. Please try again.", payload.Reason),
			Buttons:  MoodButtons(),
		}, nil

	case event.TopicPetRendered:
		payload, err := decode[event.PetRendered](evt)
		if err != nil {
			return event.OutboundMessage{}, err
		}
		return event.OutboundMessage{
			PseudoID:   payload.PseudoID,
			Text:       fmt.Sprintf("Your pet is feeling %s.", payload.StateID),
			Attachment: payload.Sprite,
		}, nil

	case event.TopicPingRequest:
		payload, err := decode[event.PingRequest](evt)
		if err != nil {
			return event.OutboundMessage{}, err
		}
		return event.OutboundMessage{
			PseudoID: payload.PseudoID,
			Text:     "Time to share your mood. How was your day?",
			Buttons:  MoodButtons(),
		}, nil

	case event.TopicExportReady:
		payload, err := decode[event.ExportReady](evt)
		if err != nil {
			return event.OutboundMessage{}, err
		}
		return event.OutboundMessage{
			PseudoID:   payload.PseudoID,
			Text:       fmt.Sprintf("Your export is ready: %d entries.", payload.RecordCount),
			Attachment: payload.ArtifactLocation,
		}, nil

	case event.TopicDeleteDone:
		payload, err := decode[event.DeleteDone](evt)
		if err != nil {
			return event.OutboundMessage{}, err
		}
		return event.OutboundMessage{
			PseudoID: payload.PseudoID,
			Text:     "All your data has been deleted. Hope to see you again!",
		}, nil
	}

	return event.OutboundMessage{}, fmt.Errorf("unexpected topic %s", evt.Type())
}

// decode extracts a typed payload from an event, tolerating the generic
// maps produced by DLQ replay.
func decode[T any](evt event.Event) (T, error) {
	var payload T

	switch d := evt.Data().(type) {
	case T:
		return d, nil
	case map[string]any:
		raw, err := json.Marshal(d)
		if err != nil {
			return payload, err
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return payload, err
		}
		return payload, nil
	default:
		return payload, fmt.Errorf("unexpected payload type %T", evt.Data())
	}
}
