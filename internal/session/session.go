// Package session runs one client's membership in a room: it resolves the
// room, keeps the shared timer reconciled, and tracks the roster.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/rooms"
	"github.com/mcdev12/tomat/internal/roster"
	"github.com/mcdev12/tomat/internal/store"
	"github.com/mcdev12/tomat/internal/timersync"
)

// DefaultRoomName is used when no room is selected.
const DefaultRoomName = "Yggdrasil"

// Countdown presets, in seconds.
const (
	WorkSeconds       = 25 * 60
	ShortBreakSeconds = 5 * 60
	LongBreakSeconds  = 10 * 60
)

const resolveRetryInterval = 2 * time.Second

// Session wires the room resolver, timer reconciler, and roster tracker
// for a single client over one shared store handle.
type Session struct {
	instanceID string
	user       models.User
	clock      clockwork.Clock

	resolver   *rooms.Resolver
	reconciler *timersync.Reconciler
	tracker    *roster.Tracker
}

// New builds a session for the given user over the store handle. hooks
// receive the timer-started and timer-finished cues.
func New(ds store.DocumentStore, user models.User, clock clockwork.Clock, tickInterval time.Duration, hooks timersync.Hooks) *Session {
	return &Session{
		instanceID: uuid.NewString()[:8],
		user:       user,
		clock:      clock,
		resolver:   rooms.NewResolver(rooms.NewRepository(ds)),
		reconciler: timersync.NewReconciler(timersync.NewRepository(ds), clock, tickInterval, hooks),
		tracker:    roster.NewTracker(roster.NewRepository(ds)),
	}
}

// Run joins the named room and drives reconciliation until ctx is
// cancelled. An unresolved room is retried rather than treated as fatal;
// the leave on teardown is best-effort.
func (s *Session) Run(ctx context.Context, roomName string) error {
	if roomName == "" {
		roomName = DefaultRoomName
	}

	log.Info().
		Str("instance", s.instanceID).
		Str("room", roomName).
		Str("user", s.user.Name).
		Msg("session starting")

	res := s.resolver.Resolve(ctx, roomName)
	for !res.Resolved() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(resolveRetryInterval):
			res = s.resolver.Resolve(ctx, roomName)
		}
	}
	room, _ := res.Room()

	if err := s.tracker.Join(ctx, room.Name, s.user); err != nil {
		log.Warn().Err(err).Str("instance", s.instanceID).Msg("continuing without roster membership")
	}
	defer func() {
		// ctx is usually cancelled by the time we get here; give the
		// best-effort leave its own deadline.
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracker.Leave(leaveCtx, room.Name, s.user); err != nil {
			log.Warn().Err(err).Str("instance", s.instanceID).Msg("best-effort leave failed")
		}
	}()

	go func() {
		if err := s.tracker.Run(ctx, room); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("roster tracker stopped")
		}
	}()

	err := s.reconciler.Run(ctx, room)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start begins a new shared countdown of the given length and type.
func (s *Session) Start(durationSeconds int, typ models.TimerType) (models.Timer, <-chan error) {
	return s.reconciler.Start(durationSeconds, typ)
}

// StartWork starts the standard 25 minute work timer.
func (s *Session) StartWork() (models.Timer, <-chan error) {
	return s.Start(WorkSeconds, models.TimerTypeWork)
}

// StartShortBreak starts the 5 minute break timer.
func (s *Session) StartShortBreak() (models.Timer, <-chan error) {
	return s.Start(ShortBreakSeconds, models.TimerTypeBreak)
}

// StartLongBreak starts the 10 minute break timer.
func (s *Session) StartLongBreak() (models.Timer, <-chan error) {
	return s.Start(LongBreakSeconds, models.TimerTypeBreak)
}

// StartCustom starts a work timer of the given number of minutes.
func (s *Session) StartCustom(minutes int) (models.Timer, <-chan error) {
	return s.Start(minutes*60, models.TimerTypeWork)
}

// TimeLeft returns the current remaining-time view.
func (s *Session) TimeLeft() models.TimeLeft {
	return s.reconciler.TimeLeft()
}

// Users returns the room's current roster.
func (s *Session) Users() []models.User {
	return s.tracker.Users()
}

// User returns the session's own user.
func (s *Session) User() models.User {
	return s.user
}
