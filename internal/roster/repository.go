package roster

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store"
	"github.com/mcdev12/tomat/internal/wire"
)

// Repository persists room rosters in the usersInRoom collection.
type Repository struct {
	store store.DocumentStore
}

// NewRepository creates a new roster repository.
func NewRepository(ds store.DocumentStore) *Repository {
	return &Repository{store: ds}
}

// GetRoster reads the roster stored for the room.
func (r *Repository) GetRoster(ctx context.Context, roomName string) ([]models.User, error) {
	doc, err := r.store.Read(ctx, store.UsersInRoomCollection, roomName)
	if err != nil {
		return nil, fmt.Errorf("read roster for room %q: %w", roomName, err)
	}
	users, err := wire.DecodeRoster(doc)
	if err != nil {
		return nil, fmt.Errorf("decode roster for room %q: %w", roomName, err)
	}
	return users, nil
}

// CreateEmpty writes an empty roster record for the room.
func (r *Repository) CreateEmpty(ctx context.Context, roomName string) error {
	doc, err := wire.EncodeRoster(nil)
	if err != nil {
		return fmt.Errorf("encode empty roster for room %q: %w", roomName, err)
	}
	if err := r.store.Write(ctx, store.UsersInRoomCollection, roomName, doc); err != nil {
		return fmt.Errorf("write empty roster for room %q: %w", roomName, err)
	}
	return nil
}

// AddUser adds the user to the room's roster with set-union semantics;
// adding an already-present name is a no-op.
func (r *Repository) AddUser(ctx context.Context, roomName string, user models.User) error {
	err := r.store.Update(ctx, store.UsersInRoomCollection, roomName, func(current []byte) ([]byte, error) {
		users := decodeOrEmpty(current, roomName)
		for _, u := range users {
			if u.Name == user.Name {
				return wire.EncodeRoster(users)
			}
		}
		return wire.EncodeRoster(append(users, user))
	})
	if err != nil {
		return fmt.Errorf("add %q to roster for room %q: %w", user.Name, roomName, err)
	}
	return nil
}

// RemoveUser removes the user from the room's roster with set-difference
// semantics; removing an absent name is a no-op.
func (r *Repository) RemoveUser(ctx context.Context, roomName string, user models.User) error {
	err := r.store.Update(ctx, store.UsersInRoomCollection, roomName, func(current []byte) ([]byte, error) {
		users := decodeOrEmpty(current, roomName)
		remaining := users[:0]
		for _, u := range users {
			if u.Name != user.Name {
				remaining = append(remaining, u)
			}
		}
		return wire.EncodeRoster(remaining)
	})
	if err != nil {
		return fmt.Errorf("remove %q from roster for room %q: %w", user.Name, roomName, err)
	}
	return nil
}

// decodeOrEmpty treats absent or malformed roster documents as empty so a
// membership mutation can always proceed.
func decodeOrEmpty(current []byte, roomName string) []models.User {
	if current == nil {
		return nil
	}
	users, err := wire.DecodeRoster(current)
	if err != nil {
		log.Warn().Err(err).Str("room", roomName).Msg("malformed roster document, rebuilding")
		return nil
	}
	return users
}

// RosterSubscription is a live feed of decoded roster writes for one room.
type RosterSubscription struct {
	sub store.Subscription
	ch  chan []models.User
}

// Updates yields the full member set for each observed roster write.
func (s *RosterSubscription) Updates() <-chan []models.User {
	return s.ch
}

// Stop tears down the underlying store subscription.
func (s *RosterSubscription) Stop() {
	s.sub.Stop()
}

// WatchRoster subscribes to roster changes for the room. Malformed
// incoming documents are logged and skipped.
func (r *Repository) WatchRoster(ctx context.Context, roomName string) (*RosterSubscription, error) {
	sub, err := r.store.Watch(ctx, store.UsersInRoomCollection, roomName)
	if err != nil {
		return nil, fmt.Errorf("watch roster for room %q: %w", roomName, err)
	}

	rs := &RosterSubscription{
		sub: sub,
		ch:  make(chan []models.User),
	}
	go func() {
		defer close(rs.ch)
		for doc := range sub.Updates() {
			users, err := wire.DecodeRoster(doc)
			if err != nil {
				log.Warn().Err(err).Str("room", roomName).Msg("skipping malformed roster update")
				continue
			}
			select {
			case rs.ch <- users:
			case <-ctx.Done():
				return
			}
		}
	}()
	return rs, nil
}
