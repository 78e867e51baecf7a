package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/ident"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// consoleTransport is a development stand-in for a messenger connection.
// It reads "<chat-id> <text>" lines from stdin, publishes them as inbound
// messages, and prints outbound messages back to the terminal. Chat IDs
// never cross into the domain: they are pseudonymized at this boundary.
type consoleTransport struct {
	bus        event.Bus
	resolver   ident.Resolver
	store      store.RecordStore
	notifyHour int
	logger     *slog.Logger
}

func newConsoleTransport(bus event.Bus, resolver ident.Resolver, st store.RecordStore, notifyHour int, logger *slog.Logger) *consoleTransport {
	return &consoleTransport{
		bus:        bus,
		resolver:   resolver,
		store:      st,
		notifyHour: notifyHour,
		logger:     logger,
	}
}

// Start attaches the outbound printer and launches the stdin reader.
func (t *consoleTransport) Start(ctx context.Context) {
	t.bus.Subscribe(
		[]string{event.TopicOutbound},
		event.HandlerFunc(t.print),
		event.WithSubscriberName("console_transport"),
	)
	go t.readLoop(ctx)
}

func (t *consoleTransport) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		chatID, text, found := strings.Cut(line, " ")
		if !found {
			text = ""
		}

		if err := t.deliver(ctx, chatID, text); err != nil {
			t.logger.Warn("inbound delivery failed", slog.String("error", err.Error()))
		}
	}
}

func (t *consoleTransport) deliver(ctx context.Context, chatID, text string) error {
	pseudoID, err := t.resolver.Resolve(chatID)
	if err != nil {
		return err
	}

	// Register the user on first contact so the ping scheduler sees them.
	if _, err := t.store.EnsureUser(ctx, pseudoID, "", t.notifyHour); err != nil {
		return err
	}

	msg := event.InboundMessage{
		PseudoID:           pseudoID,
		TransportMessageID: uuid.New().String(),
		Text:               text,
		ReceivedAt:         time.Now().UTC(),
	}

	return t.bus.Publish(ctx, event.New(
		event.TopicInbound, "console_transport", pseudoID, msg,
		event.WithCorrelationID(uuid.New().String()),
	))
}

func (t *consoleTransport) print(_ context.Context, evt event.Event) ([]event.Event, error) {
	out, err := decodeOutbound(evt)
	if err != nil {
		return nil, err
	}

	fmt.Printf("[to %s] %s\n", out.PseudoID, out.Text)
	if out.Attachment != "" {
		fmt.Printf("         attachment: %s\n", out.Attachment)
	}
	for _, b := range out.Buttons {
		fmt.Printf("         [%s]\n", b.Label)
	}
	return nil, nil
}

func decodeOutbound(evt event.Event) (event.OutboundMessage, error) {
	switch d := evt.Data().(type) {
	case event.OutboundMessage:
		return d, nil
	case map[string]any:
		var out event.OutboundMessage
		return out, json.Unmarshal(evt.DataBytes(), &out)
	default:
		return event.OutboundMessage{}, fmt.Errorf("unexpected outbound payload %T", evt.Data())
	}
}
