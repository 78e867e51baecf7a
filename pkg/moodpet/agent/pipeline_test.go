package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/moodpet/pkg/moodpet/agent"
	"github.com/randalmurphal/moodpet/pkg/moodpet/dedup"
	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/export"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// pipeline wires every agent onto one bus over in-memory stores, the way
// moodpetd does in production.
type pipeline struct {
	bus     *event.LocalBus
	records *store.MemoryStore
	writer  *export.Writer
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	bus := event.NewBus(event.BusConfig{BufferSize: 64})
	t.Cleanup(func() { bus.Close() })

	records := store.NewMemoryStore()
	t.Cleanup(func() { records.Close() })

	writer, err := export.NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	dedup.NewFilter(dedup.NewMemoryEntryStore()).Register(bus)
	agent.NewRouter(nil).Register(bus)
	agent.NewWriteSide(
		agent.NewCheckinWriter(records, nil),
		agent.NewDeleter(records, writer, nil),
	).Register(bus)
	agent.NewPetRender(records, nil).Register(bus)
	agent.NewNotifier(nil).Register(bus)
	agent.NewExporter(records, writer, nil, nil).Register(bus)

	return &pipeline{bus: bus, records: records, writer: writer}
}

func (p *pipeline) send(transportID, text string) {
	msg := event.InboundMessage{
		PseudoID:           "user-1",
		TransportMessageID: transportID,
		Text:               text,
		ReceivedAt:         time.Now().UTC(),
	}
	p.bus.Publish(context.Background(),
		event.New(event.TopicInbound, "test", "user-1", msg,
			event.WithCorrelationID(uuid.New().String())))
}

func TestPipelineCheckinEndToEnd(t *testing.T) {
	p := newPipeline(t)

	saved := collectTopics(p.bus, event.TopicCheckinSaved)
	rendered := collectTopics(p.bus, event.TopicPetRendered)
	outbound := collectTopics(p.bus, event.TopicOutbound)

	p.send("m-1", "good long walk today")
	time.Sleep(300 * time.Millisecond)

	if got := len(saved()); got != 1 {
		t.Errorf("expected 1 checkin.saved, got %d", got)
	}
	if got := len(rendered()); got != 1 {
		t.Errorf("expected 1 pet.rendered, got %d", got)
	}
	// Confirmation for the save plus the pet update
	if got := len(outbound()); got != 2 {
		t.Errorf("expected 2 outbound messages, got %d", got)
	}

	entries, _ := p.records.ListEntries(context.Background(), "user-1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(entries))
	}
	if entries[0].Mood != 1 || entries[0].Note != "long walk today" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestPipelineDuplicateDeliverySuppressed(t *testing.T) {
	p := newPipeline(t)

	outbound := collectTopics(p.bus, event.TopicOutbound)

	p.send("m-1", "good")
	time.Sleep(200 * time.Millisecond)
	baseline := len(outbound())

	// Same transport message redelivered: no writes, no new messages
	p.send("m-1", "good")
	time.Sleep(200 * time.Millisecond)

	if got := len(outbound()); got != baseline {
		t.Errorf("duplicate produced %d new outbound messages", got-baseline)
	}
	entries, _ := p.records.ListEntries(context.Background(), "user-1")
	if len(entries) != 1 {
		t.Errorf("expected 1 entry after duplicate, got %d", len(entries))
	}
}

func TestPipelineExportAfterDeleteIsEmpty(t *testing.T) {
	p := newPipeline(t)

	ready := collectTopics(p.bus, event.TopicExportReady)
	done := collectTopics(p.bus, event.TopicDeleteDone)

	p.send("m-1", "good")
	time.Sleep(200 * time.Millisecond)

	p.send("m-2", "/delete")
	time.Sleep(200 * time.Millisecond)
	if got := len(done()); got != 1 {
		t.Fatalf("expected 1 delete.done, got %d", got)
	}

	p.send("m-3", "/export")
	time.Sleep(200 * time.Millisecond)

	events := ready()
	if len(events) != 1 {
		t.Fatalf("expected 1 export.ready, got %d", len(events))
	}
	exported := events[0].Data().(event.ExportReady)
	if exported.RecordCount != 0 {
		t.Errorf("export after delete must be empty, got %d records", exported.RecordCount)
	}
}

func TestPipelinePerUserOrdering(t *testing.T) {
	p := newPipeline(t)

	// A burst of check-ins followed by a delete, all for the same user.
	// With per-key ordering the delete runs last, so the final state is
	// deterministic: nothing stored.
	for i := 0; i < 5; i++ {
		p.send("m-"+string(rune('a'+i)), "good")
	}
	p.send("m-final", "/delete")
	time.Sleep(500 * time.Millisecond)

	entries, _ := p.records.ListEntries(context.Background(), "user-1")
	if len(entries) != 0 {
		t.Errorf("expected no entries after trailing delete, got %d", len(entries))
	}
}

func TestPipelineInvalidMoodRejected(t *testing.T) {
	p := newPipeline(t)

	rejected := collectTopics(p.bus, event.TopicCheckinRejected)

	p.send("m-1", "/checkin 7 impossible mood")
	time.Sleep(200 * time.Millisecond)

	// The router cannot parse 7 as a mood, so this is an unrecognized
	// message, not a rejected check-in
	if got := len(rejected()); got != 0 {
		t.Errorf("expected router fallback, got %d checkin.rejected", got)
	}
	entries, _ := p.records.ListEntries(context.Background(), "user-1")
	if len(entries) != 0 {
		t.Errorf("expected nothing persisted, got %d", len(entries))
	}
}
