// Package sched emits the daily mood prompts. A ticker scans the known
// users and publishes one ping.request per user per local day, at the
// hour each user asked to be reminded.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// DefaultInterval is how often the scheduler scans for due pings. The scan
// is cheap, so it runs well below the hourly granularity of notify hours.
const DefaultInterval = time.Minute

// Scheduler publishes ping.request events for users whose notify hour
// has arrived in their local timezone.
type Scheduler struct {
	bus      event.Bus
	store    store.RecordStore
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastPing map[string]string // pseudoID -> local date already pinged
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the scan interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler over the given bus and user store.
func New(bus event.Bus, st store.RecordStore, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		bus:      bus,
		store:    st,
		logger:   logger,
		interval: DefaultInterval,
		now:      time.Now,
		lastPing: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the scan loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Tick scans all users once and publishes a ping for each user whose
// notify hour has arrived and who has not been pinged today. Exposed so
// tests and operators can force a scan.
func (s *Scheduler) Tick(ctx context.Context) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("ping scan failed", slog.String("error", err.Error()))
		}
		return
	}

	now := s.now()
	for _, user := range users {
		local := now.In(s.location(user))
		if local.Hour() != user.NotifyHour {
			continue
		}

		day := local.Format("2006-01-02")
		s.mu.Lock()
		done := s.lastPing[user.PseudoID] == day
		if !done {
			s.lastPing[user.PseudoID] = day
		}
		s.mu.Unlock()
		if done {
			continue
		}

		s.publish(ctx, user.PseudoID)
	}
}

// Trigger publishes an immediate ping for one user, outside the daily
// schedule. Used for the manual "remind me now" path.
func (s *Scheduler) Trigger(ctx context.Context, pseudoID string) {
	s.publish(ctx, pseudoID)
}

func (s *Scheduler) publish(ctx context.Context, pseudoID string) {
	ping := event.New(event.TopicPingRequest, "scheduler", pseudoID,
		event.PingRequest{PseudoID: pseudoID},
		event.WithCorrelationID(uuid.New().String()))

	if err := s.bus.Publish(ctx, ping); err != nil {
		if s.logger != nil {
			s.logger.Warn("ping publish failed",
				slog.String("pseudo_id", pseudoID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if s.logger != nil {
		s.logger.Debug("ping published", slog.String("pseudo_id", pseudoID))
	}
}

func (s *Scheduler) location(user store.User) *time.Location {
	if user.TZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(user.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
