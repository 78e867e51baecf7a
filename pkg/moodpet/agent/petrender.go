package agent

import (
	"context"
	"hash/fnv"
	"log/slog"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// Pet state identifiers derived from a user's recent mood trend.
const (
	StateHappy  = "happy"
	StateSteady = "steady"
	StateSad    = "sad"
	StateSleepy = "sleepy"  // no data yet
	StateDozing = "default" // degraded: record lookup failed
)

// trendWindow is how many recent entries feed the trend computation.
const trendWindow = 7

// sprites maps each state to its sprite family. Selection within a family
// is deterministic per user.
var sprites = map[string][]string{
	StateHappy:  {"sprite_happy_1.png", "sprite_happy_2.png"},
	StateSteady: {"sprite_neutral_1.png", "sprite_neutral_2.png"},
	StateSad:    {"sprite_sad_1.png", "sprite_sad_2.png"},
	StateSleepy: {"sprite_sleepy_1.png"},
	StateDozing: {"sprite_neutral_1.png"},
}

// PetRender computes the pet's visual state from stored check-ins. It owns
// no mutable state: the result is a pure function of the record store at
// read time.
type PetRender struct {
	store  store.RecordStore
	logger *slog.Logger
}

// NewPetRender creates a pet renderer over the record store.
func NewPetRender(st store.RecordStore, logger *slog.Logger) *PetRender {
	return &PetRender{store: st, logger: logger}
}

// Register subscribes the renderer to check-in completions and scheduled
// prompts.
func (p *PetRender) Register(bus event.Bus) event.Subscription {
	return bus.Subscribe(
		[]string{event.TopicCheckinSaved, event.TopicPingRequest},
		event.HandlerFunc(p.handle),
		event.WithSubscriberName("pet_render"),
	)
}

func (p *PetRender) handle(ctx context.Context, evt event.Event) ([]event.Event, error) {
	pseudoID := evt.Key()
	if pseudoID == "" {
		return nil, nil
	}

	stateID := p.renderState(ctx, pseudoID)

	rendered := event.NewFromParent(evt, event.TopicPetRendered, "pet_render", event.PetRendered{
		PseudoID: pseudoID,
		StateID:  stateID,
		Sprite:   SpriteFor(stateID, pseudoID),
	})
	return []event.Event{rendered}, nil
}

// renderState reads recent entries and maps them to a state. A failed
// lookup degrades to a default state instead of returning an error: a
// rendering failure must never suppress the check-in or ping
// acknowledgment flowing to the user.
func (p *PetRender) renderState(ctx context.Context, pseudoID string) string {
	entries, err := p.store.ListEntries(ctx, pseudoID)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("pet render degraded, record lookup failed",
				slog.String("error", err.Error()),
			)
		}
		return StateDozing
	}
	return StateFor(entries)
}

// StateFor maps recent entries to a state identifier. Deterministic: the
// same entries always produce the same state.
func StateFor(entries []store.Entry) string {
	if len(entries) == 0 {
		return StateSleepy
	}

	recent := entries
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}

	sum := 0
	for _, e := range recent {
		sum += e.Mood
	}
	avg := float64(sum) / float64(len(recent))

	switch {
	case avg > 0.33:
		return StateHappy
	case avg < -0.33:
		return StateSad
	default:
		return StateSteady
	}
}

// SpriteFor picks a sprite from the state's family. The choice is a stable
// function of the pseudoId, so the same user always sees the same variant.
func SpriteFor(stateID, pseudoID string) string {
	family, ok := sprites[stateID]
	if !ok || len(family) == 0 {
		family = sprites[StateSteady]
	}
	h := fnv.New32a()
	h.Write([]byte(pseudoID))
	return family[int(h.Sum32())%len(family)]
}
