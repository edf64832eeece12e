// Package roster maintains the set of users currently present in a room.
// Membership is keyed by display name, so duplicate names collapse into a
// single entry; that limitation is inherited from the record format.
package roster

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store"
)

// RosterRepository defines what the tracker needs from the repository.
type RosterRepository interface {
	GetRoster(ctx context.Context, roomName string) ([]models.User, error)
	CreateEmpty(ctx context.Context, roomName string) error
	AddUser(ctx context.Context, roomName string, user models.User) error
	RemoveUser(ctx context.Context, roomName string, user models.User) error
	WatchRoster(ctx context.Context, roomName string) (*RosterSubscription, error)
}

// Tracker follows the live roster of one room and performs join/leave
// membership changes. Roster order is not guaranteed and must not be
// relied upon.
type Tracker struct {
	repo RosterRepository

	mu    sync.RWMutex
	users []models.User
}

// NewTracker creates a roster tracker.
func NewTracker(repo RosterRepository) *Tracker {
	return &Tracker{repo: repo}
}

// Join adds the user to the room's roster. Idempotent.
func (t *Tracker) Join(ctx context.Context, roomName string, user models.User) error {
	if err := t.repo.AddUser(ctx, roomName, user); err != nil {
		log.Error().Err(err).Str("room", roomName).Str("user", user.Name).Msg("failed to join roster")
		return err
	}
	log.Info().Str("room", roomName).Str("user", user.Name).Msg("joined room")
	return nil
}

// Leave removes the user from the room's roster. Called on session
// teardown and, best-effort, on shutdown; delivery is not guaranteed.
func (t *Tracker) Leave(ctx context.Context, roomName string, user models.User) error {
	if err := t.repo.RemoveUser(ctx, roomName, user); err != nil {
		log.Error().Err(err).Str("room", roomName).Str("user", user.Name).Msg("failed to leave roster")
		return err
	}
	log.Info().Str("room", roomName).Str("user", user.Name).Msg("left room")
	return nil
}

// Run follows roster changes for the room until ctx is cancelled. On
// first watch of a room with no roster record it creates an empty one.
func (t *Tracker) Run(ctx context.Context, room models.Room) error {
	sub, err := t.repo.WatchRoster(ctx, room.Name)
	if err != nil {
		log.Error().Err(err).Str("room", room.Name).Msg("failed to watch roster changes")
		return err
	}
	defer sub.Stop()

	users, err := t.repo.GetRoster(ctx, room.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := t.repo.CreateEmpty(ctx, room.Name); err != nil {
			log.Error().Err(err).Str("room", room.Name).Msg("failed to create empty roster")
		}
	case err != nil:
		log.Error().Err(err).Str("room", room.Name).Msg("failed to read initial roster")
	default:
		t.setUsers(users)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case users, ok := <-sub.Updates():
			if !ok {
				return errors.New("roster subscription closed")
			}
			t.setUsers(users)
		}
	}
}

func (t *Tracker) setUsers(users []models.User) {
	t.mu.Lock()
	t.users = users
	t.mu.Unlock()
}

// Users returns the current member set.
func (t *Tracker) Users() []models.User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.User, len(t.users))
	copy(out, t.users)
	return out
}
