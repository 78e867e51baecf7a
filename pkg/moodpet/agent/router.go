// Package agent contains the single-purpose domain agents of the moodpet
// pipeline. Each agent is an independent bus consumer: it subscribes to the
// topics it cares about, performs one kind of work, and emits completion
// events. Agents never call each other.
package agent

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
)

// Intent is the classification outcome for one inbound message.
type Intent int

const (
	IntentUnrecognized Intent = iota
	IntentStart
	IntentCheckin
	IntentExport
	IntentDelete
)

// String returns the intent name.
func (i Intent) String() string {
	switch i {
	case IntentStart:
		return "start"
	case IntentCheckin:
		return "checkin"
	case IntentExport:
		return "export"
	case IntentDelete:
		return "delete"
	default:
		return "unrecognized"
	}
}

// Router classifies a deduplicated inbound message into exactly one domain
// request. It is stateless across messages: everything needed for
// classification is encoded in the message itself.
type Router struct {
	logger *slog.Logger
}

// NewRouter creates a router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger}
}

// Register subscribes the router to deduplicated inbound messages.
func (r *Router) Register(bus event.Bus) event.Subscription {
	return bus.Subscribe(
		[]string{event.TopicInboundAccepted},
		event.TypedHandler([]string{event.TopicInboundAccepted}, r.handle),
		event.WithSubscriberName("router"),
	)
}

// handle emits exactly one event per accepted message: a domain request for
// a recognized intent, or a help/fallback outbound message otherwise.
func (r *Router) handle(_ context.Context, msg event.InboundMessage, meta event.Metadata) ([]event.Event, error) {
	intent, mood, comment := Classify(msg)

	if r.logger != nil {
		r.logger.Debug("inbound classified",
			slog.String("intent", intent.String()),
			slog.String("correlation_id", meta.CorrelationID),
		)
	}

	derive := func(topic, source string, payload any) event.Event {
		return event.NewAny(topic, source, msg.PseudoID, payload,
			event.WithCorrelationID(meta.CorrelationID),
			event.WithCausationID(meta.EventID))
	}

	switch intent {
	case IntentCheckin:
		return []event.Event{derive(event.TopicCheckinSave, "router", event.CheckinSave{
			PseudoID: msg.PseudoID,
			Mood:     mood,
			Comment:  comment,
			At:       msg.ReceivedAt,
		})}, nil

	case IntentExport:
		return []event.Event{derive(event.TopicExportRequest, "router", event.ExportRequest{
			PseudoID: msg.PseudoID,
		})}, nil

	case IntentDelete:
		return []event.Event{derive(event.TopicDeleteRequest, "router", event.DeleteRequest{
			PseudoID: msg.PseudoID,
		})}, nil

	case IntentStart:
		return []event.Event{derive(event.TopicOutbound, "router", event.OutboundMessage{
			PseudoID: msg.PseudoID,
			Text:     "Hi! I keep track of how you feel. How is your day going?",
			Buttons:  MoodButtons(),
		})}, nil

	default:
		return []event.Event{derive(event.TopicOutbound, "router", event.OutboundMessage{
			PseudoID: msg.PseudoID,
			Text:     "I didn't catch that. Tap a mood button, or use /checkin, /export, or /delete.",
			Buttons:  MoodButtons(),
		})}, nil
	}
}

// Classify resolves the intent of an inbound message. First match wins:
// explicit commands, then button payloads, then free-text mood signals.
func Classify(msg event.InboundMessage) (intent Intent, mood int, comment string) {
	orig := strings.TrimSpace(msg.Text)
	text := strings.ToLower(orig)

	switch {
	case strings.HasPrefix(text, "/export"):
		return IntentExport, 0, ""
	case strings.HasPrefix(text, "/delete"):
		return IntentDelete, 0, ""
	case strings.HasPrefix(text, "/start"):
		return IntentStart, 0, ""
	}

	if m, ok := parseButtonMood(msg.ButtonPayload); ok {
		return IntentCheckin, m, orig
	}

	if strings.HasPrefix(text, "/checkin") {
		rest := strings.TrimSpace(orig[len("/checkin"):])
		if rest == "" {
			// Check-in without a mood reads like /start: prompt for one
			return IntentStart, 0, ""
		}
		return moodWithComment(rest)
	}

	// Free text: a mood token, optionally followed by a comment
	if intent, mood, comment := moodWithComment(orig); intent == IntentCheckin {
		return intent, mood, comment
	}

	return IntentUnrecognized, 0, ""
}

// moodWithComment parses "<mood> [comment...]", keeping the comment's
// original casing.
func moodWithComment(text string) (Intent, int, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return IntentUnrecognized, 0, ""
	}
	if m, ok := parseMoodToken(fields[0]); ok {
		return IntentCheckin, m, strings.Join(fields[1:], " ")
	}
	return IntentUnrecognized, 0, ""
}

// parseButtonMood parses "mood:<n>" button payloads.
func parseButtonMood(payload string) (int, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "mood:") {
		return 0, false
	}
	raw := strings.TrimPrefix(payload, "mood:")
	return parseMoodToken(raw)
}

// moodWords maps free-text mood signals to values.
var moodWords = map[string]int{
	"terrible": -1,
	"bad":      -1,
	"meh":      0,
	"ok":       0,
	"okay":     0,
	"good":     1,
	"great":    1,
}

// parseMoodToken parses a single mood token: -1/0/+1 (Unicode minus
// normalized) or a known mood word.
func parseMoodToken(raw string) (int, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.ReplaceAll(raw, "−", "-")
	raw = strings.TrimPrefix(raw, "+")

	if m, ok := moodWords[raw]; ok {
		return m, true
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= -1 && n <= 1 {
		return n, true
	}
	return 0, false
}

// MoodButtons returns the standard inline mood keyboard.
func MoodButtons() []event.Button {
	return []event.Button{
		{Label: "🙂 +1", Payload: "mood:+1"},
		{Label: "😐 0", Payload: "mood:0"},
		{Label: "🙁 -1", Payload: "mood:-1"},
	}
}
